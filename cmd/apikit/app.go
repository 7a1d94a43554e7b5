package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/alexjbarnes/apikit/api"
	"github.com/alexjbarnes/apikit/internal/config"
	"github.com/alexjbarnes/apikit/internal/keystore"
	"github.com/alexjbarnes/apikit/internal/logging"
	"github.com/alexjbarnes/apikit/oauth"
	"golang.org/x/oauth2/clientcredentials"
)

// app holds everything a command needs, built from the environment.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *keystore.Keystore
	manager   *oauth.OIDCTokenManager
	provider  oauth.Provider
	client    *api.Client
	endpoints map[string]api.Endpoint

	closers []func()
}

func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return newApp(cfg, logging.NewLogger(cfg.Environment, cfg.LogLevel))
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := keystore.OpenAt(cfg.StorePath, cfg.StorePassphrase)
	if err != nil {
		return nil, err
	}

	if !store.Encrypted() {
		logger.Warn("APIKIT_STORE_PASSPHRASE not set; tokens are stored unencrypted",
			slog.String("path", cfg.StorePath))
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		manager: oauth.NewOIDCTokenManager(cfg.Account, store.Secrets(),
			oauth.WithPreferences(store.Preferences()),
			oauth.WithManagerLogger(logger),
		),
	}
	a.closers = append(a.closers, func() { store.Close() })

	if cfg.EndpointsFile != "" {
		a.endpoints, err = api.LoadEndpoints(cfg.EndpointsFile)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}

	a.client = api.New(
		api.WithHTTPClient(httpClient),
		api.WithInterceptors(a.interceptors(httpClient)...),
		api.WithMaxConcurrent(cfg.MaxConcurrent),
		api.WithLogger(logger),
	)

	return a, nil
}

// interceptors builds the pipeline in order: offline and chaos checks
// first, then request logging, then authentication.
func (a *app) interceptors(httpClient *http.Client) []api.Interceptor {
	var out []api.Interceptor

	if a.cfg.ConnectivityProbe != "" {
		ci := api.NewConnectivityInterceptor(
			api.WithProbeAddr(a.cfg.ConnectivityProbe),
			api.WithConnectivityLogger(a.logger),
		)
		a.closers = append(a.closers, ci.Stop)
		out = append(out, ci)
	}

	if a.cfg.ChaosProbability > 0 {
		a.logger.Warn("chaos enabled", slog.Int("probability", a.cfg.ChaosProbability))
		out = append(out, api.NewChaosInterceptor(a.cfg.ChaosProbability))
	}

	level := api.LogInfo
	if a.cfg.LogBodies {
		level = api.LogVerbose
	}

	out = append(out, api.NewLogInterceptor(a.logger, level))

	opts := []oauth.InterceptorOption{
		oauth.WithInterceptorLogger(a.logger),
		oauth.WithFailedToRenew(func(err error) {
			a.logger.Error("sign in required; run `apikit login` or `apikit token import`",
				slog.String("account", a.cfg.Account),
				slog.String("error", err.Error()),
			)
		}),
	}

	if a.cfg.RetryUnauthorized {
		opts = append(opts, oauth.WithUnauthorizedRetry())
	}

	var ic *oauth.Interceptor

	switch a.cfg.AuthMode {
	case config.AuthRefresh:
		a.provider = oauth.NewRefreshProvider(a.manager, a.cfg.TokenURL, a.cfg.ClientID,
			oauth.WithClientSecret(a.cfg.ClientSecret),
			oauth.WithScopes(a.cfg.Scopes...),
			oauth.WithTokenDoer(httpClient),
			oauth.WithRefreshLogger(a.logger),
		)
		ic = oauth.NewInterceptor(a.provider, opts...)
	case config.AuthClientCredentials:
		session := oauth.ClientCredentialsSession(&clientcredentials.Config{
			ClientID:     a.cfg.ClientID,
			ClientSecret: a.cfg.ClientSecret,
			TokenURL:     a.cfg.TokenURL,
			Scopes:       a.cfg.Scopes,
		})
		a.provider = oauth.NewSessionAdapter(session)
		ic = oauth.NewSessionInterceptor(session, opts...)
	default:
		return out
	}

	a.closers = append(a.closers, ic.Close)

	return append(out, ic)
}

// Close releases the keystore and background monitors.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// request builds a request for target, which is either an absolute URL
// or a path under the named endpoint.
func (a *app) request(method api.Method, target, endpoint string, headers []string) (*api.Request, error) {
	hdrs, err := parseHeaders(headers)
	if err != nil {
		return nil, err
	}

	if endpoint == "" {
		return api.NewRequest(method, target, hdrs)
	}

	ep, ok := a.endpoints[endpoint]
	if !ok {
		return nil, fmt.Errorf("unknown endpoint %q (set APIKIT_ENDPOINTS_FILE)", endpoint)
	}

	return a.client.EndpointRequest(ep, target, method, hdrs)
}

// parseHeaders turns "Key: Value" strings into a map.
func parseHeaders(headers []string) (map[string]string, error) {
	out := make(map[string]string, len(headers))

	for _, h := range headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header %q (want \"Key: Value\")", h)
		}

		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	return out, nil
}

// fileNameFromURL returns the last path segment of raw.
func fileNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	segs := strings.Split(strings.Trim(u.Path, "/"), "/")

	return segs[len(segs)-1]
}
