package oauth

import (
	"sync"
	"time"
)

// DefaultNotifyDelay is how long a Notifier waits for further failures
// before calling back.
const DefaultNotifyDelay = 500 * time.Millisecond

// Dispatcher runs fn on the context callbacks should be delivered on.
type Dispatcher func(fn func())

// Notifier coalesces bursts of failures into a single callback. Each
// Notify cancels the pending callback and schedules a new one delay
// later, carrying the latest error.
type Notifier struct {
	delay    time.Duration
	callback func(error)
	dispatch Dispatcher

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewNotifier creates a Notifier. A nil dispatch runs the callback on
// the timer's goroutine.
func NewNotifier(delay time.Duration, callback func(error), dispatch Dispatcher) *Notifier {
	if dispatch == nil {
		dispatch = func(fn func()) { fn() }
	}

	return &Notifier{
		delay:    delay,
		callback: callback,
		dispatch: dispatch,
	}
}

// Notify schedules the callback with err, replacing any pending one.
func (n *Notifier) Notify(err error) {
	if n == nil || n.callback == nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.timer != nil {
		n.timer.Stop()
	}

	n.gen++
	gen := n.gen

	n.timer = time.AfterFunc(n.delay, func() {
		n.mu.Lock()
		current := gen == n.gen
		n.mu.Unlock()

		if !current {
			return
		}

		n.dispatch(func() { n.callback(err) })
	})
}

// Stop drops any pending callback.
func (n *Notifier) Stop() {
	if n == nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.gen++

	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}
