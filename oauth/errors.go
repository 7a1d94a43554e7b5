package oauth

import "errors"

var (
	// ErrNoToken means there was no token to attach and none could be
	// obtained.
	ErrNoToken = errors.New("oauth: no token")

	// ErrFailedToRenew matches every RenewError.
	ErrFailedToRenew = errors.New("oauth: failed to renew token")

	// ErrNoSession means the identity provider has no previous session to
	// restore.
	ErrNoSession = errors.New("oauth: no previous session")
)

// RenewError is returned when refreshing or restoring a credential fails.
// Err is the provider's reason and may be nil.
type RenewError struct {
	Err error
}

func (e *RenewError) Error() string {
	if e.Err == nil {
		return ErrFailedToRenew.Error()
	}

	return ErrFailedToRenew.Error() + ": " + e.Err.Error()
}

func (e *RenewError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrFailedToRenew) match any RenewError.
func (e *RenewError) Is(target error) bool { return target == ErrFailedToRenew }
