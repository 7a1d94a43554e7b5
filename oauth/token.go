package oauth

import (
	"math"
	"time"
)

// ExpirationPadding is subtracted from a token's expiry when checking
// validity, so a token is refreshed before the identity provider rejects
// it for clock skew.
const ExpirationPadding = 60 * time.Second

// UnboundedExpiry is the ExpiresIn of a token that never expires.
const UnboundedExpiry = math.MaxInt64 / int64(time.Second)

// Token is a bearer credential with its lifetime. Tokens are values: to
// change one, build a new one.
type Token struct {
	Value       string
	ExpiresIn   int64
	RetrievedAt time.Time
}

// NewToken creates a Token. Negative lifetimes are clamped to zero and
// lifetimes beyond UnboundedExpiry are capped.
func NewToken(value string, expiresIn int64, retrievedAt time.Time) Token {
	return Token{
		Value:       value,
		ExpiresIn:   min(max(expiresIn, 0), UnboundedExpiry),
		RetrievedAt: retrievedAt,
	}
}

// ExpiresAt is RetrievedAt plus ExpiresIn.
func (t Token) ExpiresAt() time.Time {
	return t.RetrievedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// IsValidAt reports whether the token can still be used at now, allowing
// for ExpirationPadding.
func (t Token) IsValidAt(now time.Time) bool {
	if t.Value == "" {
		return false
	}

	return !now.After(t.ExpiresAt().Add(-ExpirationPadding))
}

// IsValid is IsValidAt(time.Now()).
func (t Token) IsValid() bool {
	return t.IsValidAt(time.Now())
}
