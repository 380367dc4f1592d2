// File: internal/bidi/biditest/pipe.go
package biditest

import (
	"sync"

	"github.com/xkilldash9x/bidi-pilot/internal/transport"
)

// inbox is an unbounded FIFO of data units. Writers never block, so a reader that is busy
// dispatching cannot deadlock a peer that is answering it.
type inbox struct {
	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (b *inbox) push(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	b.mu.Lock()
	b.items = append(b.items, cp)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *inbox) pop() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil, false
	}
	data := b.items[0]
	b.items = b.items[1:]
	return data, true
}

// End is one side of an in-memory connection. It reports the same closed conditions
// as a real socket: ErrPeerClosed once the other side closes, ErrAlreadyClosed after
// this side closes.
type End struct {
	in   *inbox
	peer *End

	closeOnce sync.Once
	closed    chan struct{}
}

// Pipe returns two connected ends.
func Pipe() (*End, *End) {
	a := &End{in: newInbox(), closed: make(chan struct{})}
	b := &End{in: newInbox(), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// ReadMessage blocks until a data unit arrives or either side closes.
// Units already delivered before the peer closed are still returned.
func (e *End) ReadMessage() ([]byte, error) {
	for {
		select {
		case <-e.closed:
			return nil, transport.ErrAlreadyClosed
		default:
		}
		if data, ok := e.in.pop(); ok {
			return data, nil
		}
		select {
		case <-e.in.notify:
		case <-e.closed:
			return nil, transport.ErrAlreadyClosed
		case <-e.peer.closed:
			if data, ok := e.in.pop(); ok {
				return data, nil
			}
			return nil, transport.ErrPeerClosed
		}
	}
}

// WriteText delivers data to the peer.
func (e *End) WriteText(data []byte) error {
	select {
	case <-e.closed:
		return transport.ErrAlreadyClosed
	case <-e.peer.closed:
		return transport.ErrPeerClosed
	default:
	}
	e.peer.in.push(data)
	return nil
}

// Close closes this side. It is idempotent.
func (e *End) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}
