package oauth

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
)

// callbackLog records failed-to-renew callbacks.
type callbackLog struct {
	mu   sync.Mutex
	errs []error
}

func (c *callbackLog) record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *callbackLog) list() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

func TestNotifier_DebouncesBurst(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var got callbackLog
		n := NewNotifier(DefaultNotifyDelay, got.record, nil)

		for i := range 10 {
			n.Notify(fmt.Errorf("failure %d", i))
			time.Sleep(40 * time.Millisecond)
		}

		time.Sleep(DefaultNotifyDelay)
		synctest.Wait()

		errs := got.list()
		if assert.Len(t, errs, 1) {
			assert.EqualError(t, errs[0], "failure 9")
		}
	})
}

func TestNotifier_SeparateBurstsNotifySeparately(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var got callbackLog
		n := NewNotifier(100*time.Millisecond, got.record, nil)

		n.Notify(errors.New("first"))
		time.Sleep(150 * time.Millisecond)
		synctest.Wait()

		n.Notify(errors.New("second"))
		time.Sleep(150 * time.Millisecond)
		synctest.Wait()

		assert.Len(t, got.list(), 2)
	})
}

func TestNotifier_WaitsForQuietPeriod(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var got callbackLog
		n := NewNotifier(100*time.Millisecond, got.record, nil)

		n.Notify(ErrNoToken)
		time.Sleep(99 * time.Millisecond)
		synctest.Wait()
		assert.Empty(t, got.list())

		time.Sleep(2 * time.Millisecond)
		synctest.Wait()
		assert.Len(t, got.list(), 1)
	})
}

func TestNotifier_StopDropsPending(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var got callbackLog
		n := NewNotifier(100*time.Millisecond, got.record, nil)

		n.Notify(ErrNoToken)
		n.Stop()

		time.Sleep(time.Second)
		synctest.Wait()
		assert.Empty(t, got.list())
	})
}

func TestNotifier_UsesDispatcher(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var got callbackLog
		var dispatched atomic.Int32

		n := NewNotifier(10*time.Millisecond, got.record, func(fn func()) {
			dispatched.Add(1)
			fn()
		})

		n.Notify(ErrNoToken)
		time.Sleep(20 * time.Millisecond)
		synctest.Wait()

		assert.Equal(t, int32(1), dispatched.Load())
		assert.Len(t, got.list(), 1)
	})
}

func TestNotifier_NilSafe(t *testing.T) {
	var n *Notifier
	n.Notify(ErrNoToken)
	n.Stop()

	NewNotifier(time.Millisecond, nil, nil).Notify(ErrNoToken)
}
