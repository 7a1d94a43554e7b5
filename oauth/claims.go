package oauth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IDClaims returns the claims of the stored ID token. The signature is
// not verified: the token came straight from the token endpoint over
// TLS and is only read for display.
func (m *OIDCTokenManager) IDClaims() (jwt.MapClaims, error) {
	idToken := m.Snapshot().IDToken
	if idToken == "" {
		return nil, ErrNoToken
	}

	return ParseIDClaims(idToken)
}

// ParseIDClaims decodes the claims of a JWT without verifying it.
func ParseIDClaims(idToken string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("parsing id token: %w", err)
	}

	return claims, nil
}
