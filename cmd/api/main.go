package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/identra/identity/internal/captcha"
	"github.com/identra/identity/internal/config"
	"github.com/identra/identity/internal/httpapi"
	"github.com/identra/identity/internal/identity"
	"github.com/identra/identity/internal/janitor"
	"github.com/identra/identity/internal/obs"
	"github.com/identra/identity/internal/store/pg"
	"github.com/identra/identity/internal/store/redisstore"
)

var version = "0.3.1"

// sessionOverride swaps the session backend while the rest of the
// identity graph stays in SQL.
type sessionOverride struct {
	identity.Store
	sessions identity.SessionStore
}

func (s sessionOverride) Sessions() identity.SessionStore { return s.sessions }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	logger := obs.Logger()

	if cfg.PostgresDSN == "" {
		log.Fatal("IDENTITY_PG_DSN is required")
	}
	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer store.Close()

	probe := httpapi.ReadyProbe{DB: store.DB()}

	var dataStore identity.Store = store
	sessionBackend := store.Sessions()
	if cfg.RedisURL != "" {
		redisSessions, err := redisstore.Open(cfg.RedisURL)
		if err != nil {
			log.Fatalf("open redis: %v", err)
		}
		defer redisSessions.Close()
		sessionBackend = redisSessions
		dataStore = sessionOverride{Store: store, sessions: redisSessions}
		probe.Extra = redisSessions.Ping
	}

	lockout := identity.NewLockoutTracker(dataStore.Users(), identity.LockoutConfig{
		MaxFailedAttempts: cfg.MaxFailedAttempts,
		LockoutDuration:   cfg.LockoutDuration(),
	}, logger)
	resolver := identity.NewResolver(dataStore)
	tokens, err := identity.NewTokenIssuer(identity.TokenConfig{
		SigningKey: []byte(cfg.SigningKey),
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		AccessTTL:  cfg.AccessTTL(),
	})
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}
	coordinator := identity.NewSessionCoordinator(sessionBackend, identity.SessionConfig{
		RefreshTTL: cfg.RefreshTTL(),
	}, logger)

	opts := []identity.ServiceOption{identity.WithLogger(logger)}
	if cfg.CaptchaEndpoint != "" && cfg.CaptchaSecret != "" {
		verifier, err := captcha.New(cfg.CaptchaEndpoint, cfg.CaptchaSecret)
		if err != nil {
			log.Fatalf("captcha: %v", err)
		}
		opts = append(opts, identity.WithChallengeVerifier(verifier))
	}
	svc, err := identity.NewService(dataStore, lockout, resolver, tokens, coordinator, opts...)
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	api := httpapi.New(svc, probe, httpapi.ThrottleConfig{
		RatePerMinute: cfg.LoginRatePerMinute,
		Burst:         cfg.LoginBurst,
	}, version)

	jan := janitor.New(coordinator, lockout, logger)
	if err := jan.Start(); err != nil {
		log.Fatalf("janitor: %v", err)
	}

	grpcSrv := httpapi.NewGRPCServer(probe)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go func() {
		if err := grpcSrv.Serve(grpcLis); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	log.Printf("Starting identity-api %s on %s (grpc %s)", version, srv.Addr, cfg.GRPCAddr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	grpcSrv.GracefulStop()
	jan.Stop()
	log.Println("Stopped")
}
