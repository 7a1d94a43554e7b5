package oauth

import (
	"context"
	"errors"

	"github.com/alexjbarnes/apikit/api"
)

// Provider supplies bearer tokens to an Interceptor.
type Provider interface {
	// TokenState reports the current credentials without doing I/O.
	TokenState() TokenState

	// RefreshToken obtains a new token. It may be called concurrently.
	RefreshToken(ctx context.Context) (string, error)

	// Attach returns a copy of req carrying token.
	Attach(token string, req *api.Request) *api.Request
}

// AttachBearer returns a copy of req with "Authorization: Bearer token",
// replacing any previous Authorization header.
func AttachBearer(token string, req *api.Request) *api.Request {
	return req.Clone().SetHeader("Authorization", "Bearer "+token)
}

// BearerAttacher provides the default Attach. Embed it in a Provider.
type BearerAttacher struct{}

func (BearerAttacher) Attach(token string, req *api.Request) *api.Request {
	return AttachBearer(token, req)
}

// RefreshFunc obtains fresh tokens and stores them in m, returning the
// new access token.
type RefreshFunc func(ctx context.Context, m TokenManager) (string, error)

// ManagedProvider is a Provider whose state comes from a TokenManager and
// whose refresh is an arbitrary function, for identity providers that do
// not speak the OIDC refresh grant.
type ManagedProvider struct {
	BearerAttacher

	manager TokenManager
	refresh RefreshFunc
}

// NewManagedProvider creates a ManagedProvider.
func NewManagedProvider(manager TokenManager, refresh RefreshFunc) *ManagedProvider {
	return &ManagedProvider{manager: manager, refresh: refresh}
}

// Manager returns the underlying TokenManager.
func (p *ManagedProvider) Manager() TokenManager { return p.manager }

func (p *ManagedProvider) TokenState() TokenState {
	return StateOf(p.manager)
}

func (p *ManagedProvider) RefreshToken(ctx context.Context) (string, error) {
	if p.refresh == nil {
		return "", errors.New("oauth: provider has no refresh function")
	}

	return p.refresh(ctx, p.manager)
}
