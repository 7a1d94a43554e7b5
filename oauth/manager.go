package oauth

import "time"

// Tokens is a consistent snapshot of the credentials a TokenManager holds.
type Tokens struct {
	Access  *Token
	Refresh *Token
	IDToken string
}

// StateAt classifies the snapshot at now: a valid access token wins,
// otherwise a valid refresh token means the access token can be renewed.
func (ts Tokens) StateAt(now time.Time) TokenState {
	if ts.Access != nil && ts.Access.IsValidAt(now) {
		return Valid(ts.Access.Value)
	}

	if ts.Refresh != nil && ts.Refresh.IsValidAt(now) {
		return Expired()
	}

	return Missing()
}

// TokenManager owns an access/refresh token pair. Implementations must
// be safe for concurrent use and must make each mutation visible
// atomically to Snapshot.
type TokenManager interface {
	// Snapshot returns the current tokens.
	Snapshot() Tokens

	// SetAccessToken replaces the access token.
	SetAccessToken(t Token)

	// SetRefreshToken replaces the refresh token.
	SetRefreshToken(t Token)

	// Decode updates the tokens from an identity provider's token
	// response. A response that cannot be decoded leaves them unchanged.
	Decode(data []byte)

	// Clear drops every token.
	Clear()
}

// StateOf classifies the tokens m holds right now.
func StateOf(m TokenManager) TokenState {
	return m.Snapshot().StateAt(time.Now())
}
