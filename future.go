package mrpc

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Future is a pending call result.
type Future[T any] struct {
	done chan struct{}

	mu       sync.Mutex
	resolved bool
	err      error
	result   *T
}

func (f *Future[T]) Wait() {
	<-f.done
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[T]) Result() (*T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.resolved {
		return nil, errors.New("future not resolved")
	}

	return f.result, f.err
}

func (f *Future[T]) resolve(v *T, err error) {
	f.mu.Lock()

	f.resolved = true
	if err != nil {
		f.err = err
	} else {
		f.result = v
	}

	f.mu.Unlock()

	close(f.done)
}

// CallFuture begins a call for interest and resolves the reply off the
// caller's goroutine.
func CallFuture[T any](ctx context.Context, c *Client, interest string, args any) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	go func() {
		var v T

		err := c.Call(ctx, interest, args, &v)
		if err != nil {
			f.resolve(nil, err)
			return
		}

		f.resolve(&v, nil)
	}()

	return f
}
