package identity

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("identity: not found")
	ErrConflict           = errors.New("identity: already exists")
	ErrInvalidInput       = errors.New("identity: invalid input")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrInvalidToken       = errors.New("identity: invalid token")
	ErrLockedOut          = errors.New("identity: locked out")
	ErrStorage            = errors.New("identity: storage failure")
	ErrUnauthorized       = errors.New("identity: unauthorized")
)

// LockedOutError carries the remaining wait so callers can surface a
// countdown. It matches ErrLockedOut under errors.Is.
type LockedOutError struct {
	RemainingSeconds int
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("identity: locked out for %ds", e.RemainingSeconds)
}

func (e *LockedOutError) Is(target error) bool { return target == ErrLockedOut }
