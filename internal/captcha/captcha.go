// Package captcha is the thin client side of the challenge
// collaborator: it forwards a proof to a remote verification endpoint.
// Challenge generation lives entirely outside this service.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Verifier posts challenge proofs to a reCAPTCHA-style verify endpoint.
type Verifier struct {
	endpoint string
	secret   string
	client   *http.Client
}

func New(endpoint, secret string) (*Verifier, error) {
	if strings.TrimSpace(endpoint) == "" || strings.TrimSpace(secret) == "" {
		return nil, errors.New("captcha: endpoint and secret are required")
	}
	return &Verifier{
		endpoint: endpoint,
		secret:   secret,
		client:   &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// Verify submits the proof and fails on anything but an explicit
// success from the verification service.
func (v *Verifier) Verify(ctx context.Context, proof string) error {
	if strings.TrimSpace(proof) == "" {
		return errors.New("captcha: empty proof")
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", proof)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New("captcha: verification service error")
	}
	var body struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	if !body.Success {
		return errors.New("captcha: challenge failed")
	}
	return nil
}
