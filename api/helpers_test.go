package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func mustGet(t *testing.T, rawURL string) *Request {
	t.Helper()
	req, err := Get(rawURL)
	require.NoError(t, err)
	return req
}

// recorder collects hook invocations across interceptors.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// hookInterceptor records each hook under its name and delegates to the
// optional functions.
type hookInterceptor struct {
	name       string
	rec        *recorder
	modify     func(ctx context.Context, c *Client, id uuid.UUID, req *Request) (*Request, error)
	willSend   func(ctx context.Context, c *Client, id uuid.UUID, req *Request) (Result, bool)
	didReceive func(ctx context.Context, c *Client, id uuid.UUID, req *Request, res Result) (Result, bool)
}

func (h *hookInterceptor) record(hook string) {
	if h.rec != nil {
		h.rec.add(h.name + "." + hook)
	}
}

func (h *hookInterceptor) ModifyRequest(ctx context.Context, c *Client, id uuid.UUID, req *Request) (*Request, error) {
	h.record("modify")
	if h.modify != nil {
		return h.modify(ctx, c, id, req)
	}
	return req, nil
}

func (h *hookInterceptor) WillSend(ctx context.Context, c *Client, id uuid.UUID, req *Request) (Result, bool) {
	h.record("willSend")
	if h.willSend != nil {
		return h.willSend(ctx, c, id, req)
	}
	return Result{}, false
}

func (h *hookInterceptor) DidReceive(ctx context.Context, c *Client, id uuid.UUID, req *Request, res Result) (Result, bool) {
	h.record("didReceive")
	if h.didReceive != nil {
		return h.didReceive(ctx, c, id, req, res)
	}
	return res, false
}
