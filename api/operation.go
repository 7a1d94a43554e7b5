package api

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Operation is a handle to a request started with Client.Go.
type Operation struct {
	id     uuid.UUID
	cancel context.CancelFunc
	onDone func(*Response, error)

	once sync.Once
	done chan struct{}
	resp *Response
	err  error
}

func newOperation(id uuid.UUID, cancel context.CancelFunc, onDone func(*Response, error)) *Operation {
	return &Operation{
		id:     id,
		cancel: cancel,
		onDone: onDone,
		done:   make(chan struct{}),
	}
}

// ID returns the request identifier interceptors see for this operation.
func (o *Operation) ID() uuid.UUID { return o.id }

// Cancel stops the operation. Before the network call starts it prevents
// the call; during flight it aborts the transport. Cancelling a finished
// operation does nothing.
func (o *Operation) Cancel() { o.cancel() }

// Done is closed once the result is available.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Wait blocks until the operation finishes and returns its result.
func (o *Operation) Wait() (*Response, error) {
	<-o.done
	return o.resp, o.err
}

// WaitContext is Wait bounded by ctx. It does not cancel the operation.
func (o *Operation) WaitContext(ctx context.Context) (*Response, error) {
	select {
	case <-o.done:
		return o.resp, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Operation) finish(resp *Response, err error) {
	o.once.Do(func() {
		o.resp = resp
		o.err = err

		if o.onDone != nil {
			o.onDone(resp, err)
		}

		close(o.done)
	})
}
