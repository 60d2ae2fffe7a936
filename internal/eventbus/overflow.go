package eventbus

import (
	"context"
	"sync"
)

// overflowBuffer is a locked ring of Envelopes that absorbs bursts on
// topics whose delivery channel is momentarily full.
type overflowBuffer struct {
	mu     sync.Mutex
	buf    []Envelope
	head   int // oldest item
	count  int
	cap    int
	notify chan struct{} // pinged on push so drainLoop wakes up
	done   chan struct{} // closed when drainLoop exits
}

func newOverflowBuffer(maxSize int) *overflowBuffer {
	if maxSize <= 0 {
		maxSize = defaultMaxOverflow
	}
	return &overflowBuffer{
		buf:    make([]Envelope, maxSize),
		cap:    maxSize,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// push appends an envelope, reporting false when the ring is full.
func (o *overflowBuffer) push(env Envelope) bool {
	o.mu.Lock()
	if o.count >= o.cap {
		o.mu.Unlock()
		return false
	}
	idx := (o.head + o.count) % o.cap
	o.buf[idx] = env
	o.count++
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return true
}

// pop removes the oldest envelope, reporting false when empty.
func (o *overflowBuffer) pop() (Envelope, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.count == 0 {
		return Envelope{}, false
	}
	env := o.buf[o.head]
	o.buf[o.head] = Envelope{} // release payload for GC
	o.head = (o.head + 1) % o.cap
	o.count--
	return env, true
}

func (o *overflowBuffer) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

// drainLoop feeds buffered envelopes into ch until ctx is cancelled,
// parking on the notify channel between sweeps.
func (o *overflowBuffer) drainLoop(ctx context.Context, ch chan<- Envelope) {
	defer close(o.done)
	for {
		for {
			env, ok := o.pop()
			if !ok {
				break
			}
			select {
			case ch <- env:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-o.notify:
		}
	}
}
