package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const (
	// defaultTimeout is the per-request timeout of the http.Client built
	// when no Doer is supplied. Timeouts are otherwise left to the Doer.
	defaultTimeout = 30 * time.Second

	// defaultMaxConcurrent bounds how many operations started with Go run
	// at once.
	defaultMaxConcurrent = 8

	// defaultMaxResponseBytes caps how much of a body is buffered into a
	// Response.
	defaultMaxResponseBytes = 32 << 20
)

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client runs requests through an ordered interceptor chain and the
// network. It is safe for concurrent use.
//
// Modify hooks are serialized per Client: two requests never run a
// modify hook at the same time. A hook that blocks (for example a token
// refresh) must not send through the same Client from inside the hook.
type Client struct {
	doer             Doer
	interceptors     []Interceptor
	decoder          Decoder
	conflict         ConflictFunc
	maxResponseBytes int64
	maxConcurrent    int64
	logger           *slog.Logger

	modifyLock *semaphore.Weighted
	workers    *semaphore.Weighted
}

// Option configures a Client.
type Option func(*Client)

// WithDoer sets the transport used for network calls.
func WithDoer(d Doer) Option {
	return func(c *Client) {
		c.doer = d
	}
}

// WithHTTPClient is WithDoer for an *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.doer = hc
	}
}

// WithInterceptors appends interceptors. Order of registration is the
// order every hook runs in.
func WithInterceptors(interceptors ...Interceptor) Option {
	return func(c *Client) {
		c.interceptors = append(c.interceptors, interceptors...)
	}
}

// WithDecoder sets the default decoder used by SendAs and SendValue.
func WithDecoder(d Decoder) Option {
	return func(c *Client) {
		c.decoder = d
	}
}

// WithHeaderConflictHandler sets how EndpointRequest resolves header
// keys present both on the request and the endpoint.
func WithHeaderConflictHandler(fn ConflictFunc) Option {
	return func(c *Client) {
		c.conflict = fn
	}
}

// WithMaxConcurrent bounds how many operations started with Go execute
// at the same time. Values below 1 are ignored.
func WithMaxConcurrent(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxConcurrent = int64(n)
		}
	}
}

// WithMaxResponseBytes caps buffered response bodies. Longer bodies fail
// with a TransportError.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResponseBytes = n
		}
	}
}

// WithLogger sets the logger for pipeline diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client. Without WithDoer, requests go through an
// http.Client with a 30-second timeout.
func New(opts ...Option) *Client {
	c := &Client{
		decoder:          JSONDecoder{},
		conflict:         KeepExisting,
		maxResponseBytes: defaultMaxResponseBytes,
		maxConcurrent:    defaultMaxConcurrent,
		logger:           slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.doer == nil {
		c.doer = &http.Client{Timeout: defaultTimeout}
	}

	c.modifyLock = semaphore.NewWeighted(1)
	c.workers = semaphore.NewWeighted(c.maxConcurrent)

	return c
}

// Interceptors returns the registered interceptors in order.
func (c *Client) Interceptors() []Interceptor {
	return append([]Interceptor(nil), c.interceptors...)
}

// EndpointRequest builds a request for endpoint.URL+path. headers are
// merged with the endpoint headers using the Client's conflict handler.
func (c *Client) EndpointRequest(ep Endpoint, path string, method Method, headers map[string]string) (*Request, error) {
	return NewRequest(method, ep.URL+path, MergeHeaders(headers, ep.Headers, c.conflict))
}

// Send runs req through the pipeline on the calling goroutine and
// returns its result. Non-2xx responses that no interceptor claimed are
// returned as *StatusError.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	return c.execute(ctx, uuid.New(), req)
}

// Go starts req on the Client's bounded worker pool and returns a handle
// to wait on or cancel it. done, if non-nil, is called exactly once with
// the result before Wait returns.
func (c *Client) Go(ctx context.Context, req *Request, done func(*Response, error)) *Operation {
	ctx, cancel := context.WithCancel(ctx)
	op := newOperation(uuid.New(), cancel, done)

	go func() {
		defer cancel()

		if err := c.workers.Acquire(ctx, 1); err != nil {
			op.finish(nil, &CancelledError{RequestID: op.id, Err: err})
			return
		}
		defer c.workers.Release(1)

		// Acquire may succeed on an already-cancelled context.
		if err := ctx.Err(); err != nil {
			op.finish(nil, &CancelledError{RequestID: op.id, Err: err})
			return
		}

		resp, err := c.execute(ctx, op.id, req)
		op.finish(resp, err)
	}()

	return op
}

func (c *Client) execute(ctx context.Context, id uuid.UUID, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request %s: nil request", id)
	}

	req = req.Clone()

	for _, ic := range c.interceptors {
		if err := c.modifyLock.Acquire(ctx, 1); err != nil {
			return c.receive(ctx, id, req, Result{Err: &CancelledError{RequestID: id, Err: err}})
		}

		next, err := ic.ModifyRequest(ctx, c, id, req)
		c.modifyLock.Release(1)

		if err != nil {
			c.logger.Debug("request cancelled by interceptor",
				slog.String("id", id.String()),
				slog.String("error", err.Error()),
			)

			return c.receive(ctx, id, req, Result{Err: &CancelledError{RequestID: id, Err: err}})
		}

		if next != nil {
			req = next
		}
	}

	for _, ic := range c.interceptors {
		if res, handled := ic.WillSend(ctx, c, id, req); handled {
			c.logger.Debug("request short-circuited before send", slog.String("id", id.String()))
			return c.receive(ctx, id, req, res)
		}
	}

	return c.receive(ctx, id, req, c.roundTrip(ctx, id, req))
}

// receive offers res to the post-receive hooks, settles the final
// result and reports it to every Completer.
func (c *Client) receive(ctx context.Context, id uuid.UUID, req *Request, res Result) (*Response, error) {
	resp, err := c.settle(ctx, id, req, res)

	for _, ic := range c.interceptors {
		if cp, ok := ic.(Completer); ok {
			cp.Complete(ctx, id, req, Result{Response: resp, Err: err})
		}
	}

	return resp, err
}

func (c *Client) settle(ctx context.Context, id uuid.UUID, req *Request, res Result) (*Response, error) {
	for _, ic := range c.interceptors {
		if out, handled := ic.DidReceive(ctx, c, id, req, res); handled {
			if out.Response == nil && out.Err == nil {
				return nil, ErrNoResult
			}

			return out.Response, out.Err
		}
	}

	if res.Err != nil {
		return nil, res.Err
	}

	if res.Response == nil {
		return nil, ErrNotHTTP
	}

	if !res.Response.Successful() {
		return nil, &StatusError{Response: res.Response}
	}

	return res.Response, nil
}

func (c *Client) roundTrip(ctx context.Context, id uuid.UUID, req *Request) Result {
	httpReq, err := req.httpRequest(ctx)
	if err != nil {
		return Result{Err: err}
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Err: &CancelledError{RequestID: id, Err: ctxErr}}
		}

		return Result{Err: &TransportError{Err: fmt.Errorf("sending %s %s: %w", req.Method, req.URL, err)}}
	}

	if resp == nil {
		return Result{Err: ErrNotHTTP}
	}
	defer resp.Body.Close()

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	if dl := downloadFrom(ctx); dl != nil && resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		file, err := dl.store(resp.Body)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{Err: &CancelledError{RequestID: id, Err: ctxErr}}
			}

			return Result{Err: &TransportError{Err: fmt.Errorf("downloading %s: %w", req.URL, err)}}
		}

		return Result{Response: &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			URL:        finalURL,
			File:       file,
		}}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Err: &CancelledError{RequestID: id, Err: ctxErr}}
		}

		return Result{Err: &TransportError{Err: fmt.Errorf("reading response from %s: %w", req.URL, err)}}
	}

	if int64(len(body)) > c.maxResponseBytes {
		return Result{Err: &TransportError{Err: fmt.Errorf("response from %s exceeds %d bytes", req.URL, c.maxResponseBytes)}}
	}

	return Result{Response: &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        finalURL,
	}}
}

// SendAs sends req and decodes the body into T with dec, or the Client's
// decoder when dec is nil. Decode failures return *SerializationError.
func SendAs[T any](ctx context.Context, c *Client, req *Request, dec Decoder) (*TypedResponse[T], error) {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	if dec == nil {
		dec = c.decoder
	}

	var v T
	if err := dec.Decode(resp.Body, &v); err != nil {
		return nil, &SerializationError{Err: err, Response: resp}
	}

	return &TypedResponse[T]{Response: resp, Value: v}, nil
}

// SendValue is SendAs without the envelope.
func SendValue[T any](ctx context.Context, c *Client, req *Request, dec Decoder) (T, error) {
	resp, err := SendAs[T](ctx, c, req, dec)
	if err != nil {
		var zero T
		return zero, err
	}

	return resp.Value, nil
}

// IsCancelled reports whether err is a cancellation, either from an
// interceptor or from the caller's context.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
