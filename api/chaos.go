package api

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// ErrMonkeyingAround is the failure injected by ChaosInterceptor.
var ErrMonkeyingAround = errors.New("chaos: monkey was monkeying around")

const (
	defaultChaosProbability = 20
	maxChaosDelay           = 2 * time.Second
)

// ChaosInterceptor fails a share of requests before they are sent, to
// exercise callers' failure handling during development.
type ChaosInterceptor struct {
	BaseInterceptor

	probability int
	maxDelay    time.Duration
	roll        func() int
}

// NewChaosInterceptor fails roughly probability percent of requests.
// probability is clamped to 0-100.
func NewChaosInterceptor(probability int) *ChaosInterceptor {
	return &ChaosInterceptor{
		probability: min(max(probability, 0), 100),
		maxDelay:    maxChaosDelay,
		roll:        func() int { return rand.IntN(100) + 1 },
	}
}

// DefaultChaosInterceptor fails 20% of requests.
func DefaultChaosInterceptor() *ChaosInterceptor {
	return NewChaosInterceptor(defaultChaosProbability)
}

// Probability returns the configured failure percentage.
func (ch *ChaosInterceptor) Probability() int { return ch.probability }

func (ch *ChaosInterceptor) WillSend(ctx context.Context, _ *Client, id uuid.UUID, _ *Request) (Result, bool) {
	if ch.roll() > ch.probability {
		return Result{}, false
	}

	if ch.maxDelay > 0 {
		delay := time.Duration(rand.Int64N(int64(ch.maxDelay) + 1))

		t := time.NewTimer(delay)
		defer t.Stop()

		select {
		case <-t.C:
		case <-ctx.Done():
			return Result{Err: &CancelledError{RequestID: id, Err: ctx.Err()}}, true
		}
	}

	return Result{Err: ErrMonkeyingAround}, true
}
