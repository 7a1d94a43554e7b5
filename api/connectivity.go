package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrNoConnectivity is returned without sending when the connectivity
// monitor reports the network as unreachable.
var ErrNoConnectivity = errors.New("no network connectivity")

const (
	defaultProbeAddr     = "1.1.1.1:443"
	defaultProbeInterval = 10 * time.Second
	defaultProbeTimeout  = 3 * time.Second
)

// ProbeFunc reports whether the network is reachable.
type ProbeFunc func(ctx context.Context) bool

// DialProbe returns a ProbeFunc that succeeds when a TCP connection to
// addr can be opened within timeout.
func DialProbe(addr string, timeout time.Duration) ProbeFunc {
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: timeout}

		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}

		conn.Close()

		return true
	}
}

// ConnectivityInterceptor fails requests immediately while the network
// is unreachable. Reachability is refreshed by a background monitor, so
// WillSend never blocks on a probe.
type ConnectivityInterceptor struct {
	BaseInterceptor

	probe    ProbeFunc
	interval time.Duration
	logger   *slog.Logger

	online   atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ConnectivityOption configures a ConnectivityInterceptor.
type ConnectivityOption func(*ConnectivityInterceptor)

// WithProbe replaces the default TCP probe.
func WithProbe(p ProbeFunc) ConnectivityOption {
	return func(ci *ConnectivityInterceptor) {
		ci.probe = p
	}
}

// WithProbeAddr probes addr instead of the default public resolver.
func WithProbeAddr(addr string) ConnectivityOption {
	return func(ci *ConnectivityInterceptor) {
		ci.probe = DialProbe(addr, defaultProbeTimeout)
	}
}

// WithProbeInterval sets how often the monitor re-checks.
func WithProbeInterval(d time.Duration) ConnectivityOption {
	return func(ci *ConnectivityInterceptor) {
		if d > 0 {
			ci.interval = d
		}
	}
}

// WithConnectivityLogger sets the logger for reachability changes.
func WithConnectivityLogger(logger *slog.Logger) ConnectivityOption {
	return func(ci *ConnectivityInterceptor) {
		ci.logger = logger
	}
}

// NewConnectivityInterceptor probes once synchronously, then starts the
// background monitor. Call Stop to release it.
func NewConnectivityInterceptor(opts ...ConnectivityOption) *ConnectivityInterceptor {
	ci := &ConnectivityInterceptor{
		probe:    DialProbe(defaultProbeAddr, defaultProbeTimeout),
		interval: defaultProbeInterval,
		logger:   slog.New(slog.DiscardHandler),
		stop:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(ci)
	}

	ci.check()

	ci.wg.Add(1)
	go ci.monitor()

	return ci
}

// Online reports the last observed reachability.
func (ci *ConnectivityInterceptor) Online() bool {
	return ci.online.Load()
}

// Stop terminates the background monitor.
func (ci *ConnectivityInterceptor) Stop() {
	ci.stopOnce.Do(func() { close(ci.stop) })
	ci.wg.Wait()
}

func (ci *ConnectivityInterceptor) WillSend(context.Context, *Client, uuid.UUID, *Request) (Result, bool) {
	if ci.online.Load() {
		return Result{}, false
	}

	return Result{Err: ErrNoConnectivity}, true
}

func (ci *ConnectivityInterceptor) monitor() {
	defer ci.wg.Done()

	ticker := time.NewTicker(ci.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ci.check()
		case <-ci.stop:
			return
		}
	}
}

func (ci *ConnectivityInterceptor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultProbeTimeout)
	defer cancel()

	online := ci.probe(ctx)
	if prev := ci.online.Swap(online); prev != online {
		ci.logger.Info("connectivity changed", slog.Bool("online", online))
	}
}
