package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogLevel selects how much LogInterceptor records.
type LogLevel int

const (
	// LogInfo records method, URL, status and duration.
	LogInfo LogLevel = iota
	// LogVerbose also records request and response bodies.
	LogVerbose
)

// LogInterceptor logs every completed request with its duration. Register
// it after interceptors that short-circuit requests (connectivity, chaos)
// if those should not be logged as sent. Results claimed by an earlier
// interceptor are logged with their final outcome.
type LogInterceptor struct {
	BaseInterceptor

	logger *slog.Logger
	level  LogLevel
	now    func() time.Time

	mu     sync.Mutex
	starts map[uuid.UUID]time.Time
}

// NewLogInterceptor creates a LogInterceptor writing to logger.
func NewLogInterceptor(logger *slog.Logger, level LogLevel) *LogInterceptor {
	return &LogInterceptor{
		logger: logger,
		level:  level,
		now:    time.Now,
		starts: make(map[uuid.UUID]time.Time),
	}
}

func (l *LogInterceptor) ModifyRequest(_ context.Context, _ *Client, id uuid.UUID, req *Request) (*Request, error) {
	now := l.now()

	l.mu.Lock()
	l.starts[id] = now
	l.mu.Unlock()

	return req, nil
}

func (l *LogInterceptor) DidReceive(ctx context.Context, _ *Client, id uuid.UUID, req *Request, res Result) (Result, bool) {
	start, ok := l.take(id)
	if !ok {
		start = l.now()
	}

	l.log(ctx, id, req, res, start)

	return res, false
}

// Complete logs requests whose result was claimed by an interceptor
// registered ahead of l, so DidReceive never saw them.
func (l *LogInterceptor) Complete(ctx context.Context, id uuid.UUID, req *Request, res Result) {
	start, ok := l.take(id)
	if !ok {
		return
	}

	var se *StatusError
	if errors.As(res.Err, &se) {
		res = Result{Response: se.Response}
	}

	l.log(ctx, id, req, res, start)
}

func (l *LogInterceptor) take(id uuid.UUID) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start, ok := l.starts[id]
	delete(l.starts, id)

	return start, ok
}

func (l *LogInterceptor) log(ctx context.Context, id uuid.UUID, req *Request, res Result, start time.Time) {
	attrs := []slog.Attr{
		slog.String("id", id.String()),
		slog.String("method", string(req.Method)),
		slog.String("url", req.URL),
		slog.Duration("took", l.now().Sub(start)),
	}

	if l.level == LogVerbose && len(req.Body) > 0 {
		attrs = append(attrs, slog.String("request_body", sanitizeBody(req.Body)))
	}

	if res.Err != nil {
		attrs = append(attrs, slog.String("error", res.Err.Error()))
		l.logger.LogAttrs(ctx, slog.LevelWarn, "request failed", attrs...)

		return
	}

	if res.Response != nil {
		attrs = append(attrs,
			slog.Int("status", res.Response.StatusCode),
			slog.Bool("successful", res.Response.Successful()),
		)

		if l.level == LogVerbose {
			attrs = append(attrs, slog.String("response_body", sanitizeBody(res.Response.Body)))
		}
	}

	l.logger.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
}

// pending returns how many requests have started but not completed.
func (l *LogInterceptor) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.starts)
}
