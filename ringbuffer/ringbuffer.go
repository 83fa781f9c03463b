// Package ringbuffer provides a fixed-capacity single-producer
// single-consumer queue of parameter updates.
//
// One goroutine may push and one goroutine may pop concurrently. Neither
// side blocks or allocates after New.
package ringbuffer

import (
	"errors"
	"sync/atomic"

	"github.com/dudk/fxchain/unit"
)

// ErrFull is returned by Push when the consumer has not caught up.
var ErrFull = errors.New("ring buffer is full")

const cacheLine = 64

// Ring is a lock-free SPSC queue of unit.Update records.
type Ring struct {
	buf  []unit.Update
	mask uint64

	_    [cacheLine]byte
	head atomic.Uint64 // owned by consumer
	_    [cacheLine - 8]byte
	tail atomic.Uint64 // owned by producer
	_    [cacheLine - 8]byte
}

// New returns a ring able to hold at least capacity updates. Capacity is
// rounded up to the next power of two.
func New(capacity int) *Ring {
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &Ring{
		buf:  make([]unit.Update, size),
		mask: uint64(size - 1),
	}
}

// Push enqueues the update. It must only be called by the producer.
func (r *Ring) Push(u unit.Update) error {
	tail := r.tail.Load()
	if tail-r.head.Load() == uint64(len(r.buf)) {
		return ErrFull
	}
	r.buf[tail&r.mask] = u
	r.tail.Store(tail + 1)
	return nil
}

// Pop dequeues the oldest update. It must only be called by the consumer.
func (r *Ring) Pop() (unit.Update, bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return unit.Update{}, false
	}
	u := r.buf[head&r.mask]
	r.head.Store(head + 1)
	return u, true
}

// Drain pops the updates available at the moment of the call and passes
// each to fn in submission order. Updates pushed while draining are left
// for the next call. It returns the number of updates consumed and must
// only be called by the consumer.
func (r *Ring) Drain(fn func(unit.Update)) int {
	head := r.head.Load()
	tail := r.tail.Load()
	for i := head; i != tail; i++ {
		fn(r.buf[i&r.mask])
	}
	r.head.Store(tail)
	return int(tail - head)
}

// Len returns the number of queued updates.
func (r *Ring) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap returns the capacity of the ring.
func (r *Ring) Cap() int {
	return len(r.buf)
}
