package oauth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/apikit/api"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Interceptor attaches bearer tokens from a Provider to every request.
//
// Token decisions are serialized: while one request refreshes an expired
// token, others wait and then re-read the provider's state, so a burst
// of requests with an expired token causes a single refresh. A failed
// refresh is reused for requests that find the same token state within
// the notify delay, so a failing burst also causes a single refresh.
//
// A request that cannot get a token is cancelled with ErrNoToken or a
// *RenewError and never reaches the network. Failures also trigger the
// debounced failed-to-renew callback, if one is set.
type Interceptor struct {
	api.BaseInterceptor

	provider          Provider
	retryUnauthorized bool
	logger            *slog.Logger

	notifyDelay time.Duration
	onFailed    func(error)
	dispatch    Dispatcher
	notifier    *Notifier

	lock   *semaphore.Weighted
	failed *refreshFailure // guarded by lock
}

// refreshFailure is the last failed refresh and the state it started from.
type refreshFailure struct {
	state TokenState
	err   error
	at    time.Time
}

// InterceptorOption configures an Interceptor.
type InterceptorOption func(*Interceptor)

// WithUnauthorizedRetry makes the interceptor react to a 401 response by
// refreshing the credential and resending the request once.
func WithUnauthorizedRetry() InterceptorOption {
	return func(i *Interceptor) {
		i.retryUnauthorized = true
	}
}

// WithFailedToRenew sets the callback run when a token is missing or
// cannot be renewed. Bursts of failures produce one call.
func WithFailedToRenew(fn func(error)) InterceptorOption {
	return func(i *Interceptor) {
		i.onFailed = fn
	}
}

// WithNotifyDelay sets the debounce delay of the failed-to-renew callback.
func WithNotifyDelay(d time.Duration) InterceptorOption {
	return func(i *Interceptor) {
		i.notifyDelay = d
	}
}

// WithCallbackDispatcher sets where the failed-to-renew callback runs.
func WithCallbackDispatcher(d Dispatcher) InterceptorOption {
	return func(i *Interceptor) {
		i.dispatch = d
	}
}

// WithInterceptorLogger sets the logger for token decisions.
func WithInterceptorLogger(logger *slog.Logger) InterceptorOption {
	return func(i *Interceptor) {
		i.logger = logger
	}
}

// NewInterceptor creates an Interceptor for p.
func NewInterceptor(p Provider, opts ...InterceptorOption) *Interceptor {
	i := &Interceptor{
		provider:    p,
		logger:      slog.New(slog.DiscardHandler),
		notifyDelay: DefaultNotifyDelay,
		lock:        semaphore.NewWeighted(1),
	}

	for _, opt := range opts {
		opt(i)
	}

	i.notifier = NewNotifier(i.notifyDelay, i.onFailed, i.dispatch)

	return i
}

// NewSessionInterceptor creates an Interceptor for a session-based
// identity provider. It retries once on 401 by restoring the session.
func NewSessionInterceptor(s SessionProvider, opts ...InterceptorOption) *Interceptor {
	return NewInterceptor(NewSessionAdapter(s), append([]InterceptorOption{WithUnauthorizedRetry()}, opts...)...)
}

// Close drops a pending failed-to-renew callback.
func (i *Interceptor) Close() {
	i.notifier.Stop()
}

func (i *Interceptor) ModifyRequest(ctx context.Context, _ *api.Client, id uuid.UUID, req *api.Request) (*api.Request, error) {
	token, err := i.token(ctx, id)
	if err != nil {
		return nil, err
	}

	return i.provider.Attach(token, req), nil
}

func (i *Interceptor) DidReceive(ctx context.Context, c *api.Client, id uuid.UUID, req *api.Request, res api.Result) (api.Result, bool) {
	if !i.retryUnauthorized || res.Err != nil || res.Response == nil ||
		res.Response.StatusCode != http.StatusUnauthorized {
		return res, false
	}

	if api.IsRetry(ctx) {
		i.logger.Debug("request unauthorized after retry", slog.String("id", id.String()))
		return res, false
	}

	token, err := i.restore(ctx, id, req)
	if err != nil {
		if ctx.Err() != nil {
			err = &api.CancelledError{RequestID: id, Err: err}
		}

		return api.Result{Err: err}, true
	}

	resp, err := c.Send(api.WithRetry(ctx), i.provider.Attach(token, req))

	return api.Result{Response: resp, Err: err}, true
}

// token returns a token to attach, refreshing it when expired.
func (i *Interceptor) token(ctx context.Context, id uuid.UUID) (string, error) {
	if err := i.lock.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer i.lock.Release(1)

	state := i.provider.TokenState()

	switch state.Status {
	case StatusValid:
		return state.Token, nil
	case StatusMissing:
		i.logger.Debug("no token for request", slog.String("id", id.String()))
		i.notifier.Notify(ErrNoToken)

		return "", ErrNoToken
	}

	return i.refresh(ctx, id, state)
}

// restore renews the credential after req was rejected with 401. If
// another request already renewed it while this one waited for the lock,
// the newer credential is used without refreshing again.
func (i *Interceptor) restore(ctx context.Context, id uuid.UUID, req *api.Request) (string, error) {
	if err := i.lock.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer i.lock.Release(1)

	state := i.provider.TokenState()

	switch state.Status {
	case StatusMissing:
		i.notifier.Notify(ErrNoToken)
		return "", ErrNoToken
	case StatusValid:
		sent := req.Header.Get("Authorization")
		if i.provider.Attach(state.Token, req).Header.Get("Authorization") != sent {
			return state.Token, nil
		}
	}

	return i.refresh(ctx, id, state)
}

// refresh must be called with the lock held. state is what the caller
// read from the provider.
func (i *Interceptor) refresh(ctx context.Context, id uuid.UUID, state TokenState) (string, error) {
	if f := i.failed; f != nil && f.state == state && time.Since(f.at) < i.notifyDelay {
		i.logger.Debug("reusing failed token refresh", slog.String("id", id.String()))
		return "", f.err
	}

	i.logger.Debug("refreshing token", slog.String("id", id.String()))

	token, err := i.provider.RefreshToken(ctx)
	if err != nil {
		// A cancelled caller is not a renewal failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		renewErr := &RenewError{Err: err}

		i.logger.Warn("token refresh failed",
			slog.String("id", id.String()),
			slog.String("error", err.Error()),
		)
		i.notifier.Notify(renewErr)
		i.failed = &refreshFailure{state: state, err: renewErr, at: time.Now()}

		return "", renewErr
	}

	i.failed = nil

	return token, nil
}
