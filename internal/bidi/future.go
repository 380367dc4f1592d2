// File: internal/bidi/future.go
package bidi

import (
	"context"
	"sync"

	json "github.com/json-iterator/go"
)

// Future is the single-assignment result slot of one command.
// Callers may wait on it or drop it.
type Future struct {
	id     int64
	method string

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newFuture(id int64, method string) *Future {
	return &Future{id: id, method: method, done: make(chan struct{})}
}

// ID is the command id the future is bound to. Zero if the command was never sent.
func (f *Future) ID() int64 { return f.id }

// Method is the command name.
func (f *Future) Method() string { return f.method }

// resolve assigns the outcome. Only the first call has an effect; it reports whether it won.
func (f *Future) resolve(result json.RawMessage, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.result = result
		f.err = err
		resolved = true
		close(f.done)
	})
	return resolved
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx is done.
// Abandoning the wait does not cancel the command.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode waits for the result and unmarshals it into out. A nil out discards the result.
func (f *Future) Decode(ctx context.Context, out interface{}) error {
	raw, err := f.Wait(ctx)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
