// Package models defines types shared across internal packages.
package models

import "time"

// OAuthToken is an issued access or refresh token.
type OAuthToken struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"client_id"`
	UserID    string    `json:"user_id"`
	Scopes    []string  `json:"scopes,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token is past its expiry at now. A zero
// ExpiresAt never expires.
func (t *OAuthToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// OAuthClient is a registered OAuth client. Public clients have no
// SecretHash.
type OAuthClient struct {
	ClientID     string   `json:"client_id"`
	ClientName   string   `json:"client_name,omitempty"`
	SecretHash   string   `json:"-"`
	GrantTypes   []string `json:"grant_types,omitempty"`
	RedirectURIs []string `json:"redirect_uris"`
}

// Confidential reports whether the client authenticates with a secret.
func (c *OAuthClient) Confidential() bool {
	return c.SecretHash != ""
}

// AllowsGrant reports whether the client may use grantType. Clients
// registered without grant types get authorization_code and refresh_token.
func (c *OAuthClient) AllowsGrant(grantType string) bool {
	grants := c.GrantTypes
	if len(grants) == 0 {
		grants = []string{"authorization_code", "refresh_token"}
	}

	for _, g := range grants {
		if g == grantType {
			return true
		}
	}

	return false
}
