package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alexjbarnes/apikit/api"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTokenTimeout   = 30 * time.Second
	maxTokenResponseBytes = 1 << 20
)

// errNoUsableToken is returned when the token endpoint answered 200 with
// a body the manager could not use.
var errNoUsableToken = errors.New("token response did not contain a usable access token")

// RefreshProvider renews access tokens with the OAuth 2.0 refresh_token
// grant against tokenURL and keeps them in an OIDCTokenManager (or any
// TokenManager).
//
// The token request goes straight to the network, never through an
// api.Client, so it can run inside the interceptor's modify hook.
type RefreshProvider struct {
	BearerAttacher

	manager      TokenManager
	tokenURL     string
	clientID     string
	clientSecret string
	scopes       []string
	doer         api.Doer
	logger       *slog.Logger

	group singleflight.Group
}

// RefreshOption configures a RefreshProvider.
type RefreshOption func(*RefreshProvider)

// WithClientSecret authenticates the refresh request with a client secret.
func WithClientSecret(secret string) RefreshOption {
	return func(p *RefreshProvider) {
		p.clientSecret = secret
	}
}

// WithScopes requests the given scopes on refresh.
func WithScopes(scopes ...string) RefreshOption {
	return func(p *RefreshProvider) {
		p.scopes = scopes
	}
}

// WithTokenDoer sets the transport for token requests.
func WithTokenDoer(d api.Doer) RefreshOption {
	return func(p *RefreshProvider) {
		p.doer = d
	}
}

// WithRefreshLogger sets the logger for refresh attempts.
func WithRefreshLogger(logger *slog.Logger) RefreshOption {
	return func(p *RefreshProvider) {
		p.logger = logger
	}
}

// NewRefreshProvider creates a RefreshProvider for clientID.
func NewRefreshProvider(manager TokenManager, tokenURL, clientID string, opts ...RefreshOption) *RefreshProvider {
	p := &RefreshProvider{
		manager:  manager,
		tokenURL: tokenURL,
		clientID: clientID,
		logger:   slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.doer == nil {
		p.doer = &http.Client{Timeout: defaultTokenTimeout}
	}

	return p
}

// Manager returns the TokenManager the provider refreshes.
func (p *RefreshProvider) Manager() TokenManager { return p.manager }

func (p *RefreshProvider) TokenState() TokenState {
	return StateOf(p.manager)
}

// RefreshToken exchanges the stored refresh token for a new access token.
// Concurrent calls share one request. A caller whose ctx ends stops
// waiting, but the shared request runs on for the others and is bounded
// by its own timeout.
func (p *RefreshProvider) RefreshToken(ctx context.Context) (string, error) {
	ch := p.group.DoChan("refresh", func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTokenTimeout)
		defer cancel()

		return p.refresh(flightCtx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}

		if r.Shared {
			p.logger.Debug("joined in-flight token refresh")
		}

		return r.Val.(string), nil
	}
}

func (p *RefreshProvider) refresh(ctx context.Context) (string, error) {
	snap := p.manager.Snapshot()
	if snap.Refresh == nil || !snap.Refresh.IsValid() {
		return "", ErrNoToken
	}

	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {snap.Refresh.Value},
		"client_id":     {p.clientID},
	}

	if p.clientSecret != "" {
		data.Set("client_secret", p.clientSecret)
	}

	if len(p.scopes) > 0 {
		data.Set("scope", strings.Join(p.scopes, " "))
	}

	body, err := p.doTokenRequest(ctx, data)
	if err != nil {
		return "", err
	}

	p.manager.Decode(body)

	state := StateOf(p.manager)
	if state.Status != StatusValid {
		return "", errNoUsableToken
	}

	p.logger.Info("access token refreshed", slog.String("token_url", p.tokenURL))

	return state.Token, nil
}

func (p *RefreshProvider) doTokenRequest(ctx context.Context, data url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, tokenEndpointError(resp.StatusCode, body)
	}

	return body, nil
}

// tokenEndpointError builds an error from an RFC 6749 error response,
// falling back to the status code when the body is not one.
func tokenEndpointError(status int, body []byte) error {
	code := gjson.GetBytes(body, "error").String()
	if code == "" {
		return fmt.Errorf("token endpoint returned status %d", status)
	}

	if desc := gjson.GetBytes(body, "error_description").String(); desc != "" {
		return fmt.Errorf("token endpoint returned status %d: %s: %s", status, code, desc)
	}

	return fmt.Errorf("token endpoint returned status %d: %s", status, code)
}
