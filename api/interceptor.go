package api

import (
	"context"

	"github.com/google/uuid"
)

// Result is the outcome of a request: exactly one of Response or Err is
// set. A Response with a non-2xx status is still a Result with Err nil.
type Result struct {
	Response *Response
	Err      error
}

// Interceptor observes and changes requests flowing through a Client.
// Hooks run in registration order for every request.
//
// Embed BaseInterceptor to implement only the hooks you need.
type Interceptor interface {
	// ModifyRequest returns the request to send. Returning an error
	// cancels the request: nothing is sent and the caller receives a
	// CancelledError wrapping it.
	ModifyRequest(ctx context.Context, c *Client, id uuid.UUID, req *Request) (*Request, error)

	// WillSend runs after all modify hooks. Returning handled=true skips
	// the network call and uses res as the outcome.
	WillSend(ctx context.Context, c *Client, id uuid.UUID, req *Request) (res Result, handled bool)

	// DidReceive sees every outcome. The first interceptor returning
	// handled=true owns the final result; it may resubmit req through c,
	// transform res, or replace it.
	DidReceive(ctx context.Context, c *Client, id uuid.UUID, req *Request, res Result) (out Result, handled bool)
}

// Completer is implemented by interceptors that keep per-request state.
// Complete runs on every registered Completer, in registration order,
// once the final outcome of request id is settled. It runs even when an
// earlier interceptor claimed the result in DidReceive. For a non-2xx
// response nobody claimed, res.Err is the *StatusError.
type Completer interface {
	Complete(ctx context.Context, id uuid.UUID, req *Request, res Result)
}

// BaseInterceptor implements every hook as a pass-through.
type BaseInterceptor struct{}

func (BaseInterceptor) ModifyRequest(_ context.Context, _ *Client, _ uuid.UUID, req *Request) (*Request, error) {
	return req, nil
}

func (BaseInterceptor) WillSend(context.Context, *Client, uuid.UUID, *Request) (Result, bool) {
	return Result{}, false
}

func (BaseInterceptor) DidReceive(_ context.Context, _ *Client, _ uuid.UUID, _ *Request, res Result) (Result, bool) {
	return res, false
}

type retryKey struct{}

// WithRetry marks ctx as carrying a resubmission of a request that an
// interceptor already recovered once. Interceptors that resubmit must
// check IsRetry first so a request is retried at most once.
func WithRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryKey{}, true)
}

// IsRetry reports whether ctx was marked by WithRetry.
func IsRetry(ctx context.Context) bool {
	v, _ := ctx.Value(retryKey{}).(bool)
	return v
}
