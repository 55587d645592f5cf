package changemaster

import "context"

// Future is the observable completion of an asynchronous lifecycle
// operation
type Future struct {
	done chan struct{}
	err  error
}

func runFuture(fn func() error) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.err = fn()
	}()
	return f
}

func resolvedFuture(err error) *Future {
	f := &Future{
		done: make(chan struct{}),
		err:  err,
	}
	close(f.done)
	return f
}

// Done is closed when the operation completes
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the operation's result. It is only meaningful after Done is
// closed
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the operation completes or ctx is done
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
