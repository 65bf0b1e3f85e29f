package stream

import "sync"

// Ring is a bounded FIFO of normalized float32 audio samples shared between
// a single producer and a single consumer. The producer appends with Push and
// signals end-of-stream with MarkFinished; the consumer removes contiguous
// prefixes with Pop, PopAll and DropOldest. Samples are never reordered.
//
// Capacity is a soft cap: Push never blocks and never fails. When the
// buffered duration exceeds the cap the consumer side applies a drop-oldest
// policy via DropOldest, which is a documented lossy behaviour rather than
// an error.
type Ring struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []float32
	finished bool
	dropped  uint64
}

// NewRing creates an empty ring buffer.
func NewRing() *Ring {
	r := &Ring{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Push appends samples to the tail and wakes any blocked Pop. It never
// blocks and never fails; pushes after MarkFinished are silently ignored.
func (r *Ring) Push(samples []float32) {
	if len(samples) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.buf = append(r.buf, samples...)
	r.cond.Broadcast()
}

// Pop blocks until at least n samples are buffered or the ring is finished,
// then removes and returns up to n samples. Fewer than n samples are returned
// only while draining after MarkFinished; an empty result means the ring is
// drained and finished, which is the sole termination signal.
func (r *Ring) Pop(n int) []float32 {
	if n < 0 {
		n = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.buf) < n && !r.finished {
		r.cond.Wait()
	}
	take := n
	if take > len(r.buf) {
		take = len(r.buf)
	}
	out := make([]float32, take)
	copy(out, r.buf[:take])
	r.buf = r.buf[take:]
	return out
}

// PopAll removes and returns everything currently buffered without blocking.
// Used once at stream end to flush the remainder.
func (r *Ring) PopAll() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float32, len(r.buf))
	copy(out, r.buf)
	r.buf = r.buf[:0]
	return out
}

// MarkFinished signals that no more samples will be pushed and wakes all
// blocked waiters. It is idempotent. The buffer may still be drained after
// the call but is never refilled.
func (r *Ring) MarkFinished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.finished = true
	r.cond.Broadcast()
}

// DropOldest discards up to n of the oldest buffered samples without
// blocking and returns how many were dropped.
func (r *Ring) DropOldest(n int) int {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.buf) {
		n = len(r.buf)
	}
	r.buf = r.buf[n:]
	r.dropped += uint64(n)
	return n
}

// Len returns the number of currently buffered samples.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Finished reports whether MarkFinished has been called.
func (r *Ring) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Dropped returns the cumulative number of samples discarded by DropOldest.
func (r *Ring) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
