package publish

import "sync"

// ring is a bounded FIFO with drop-oldest admission: when full, the oldest
// queued message is discarded in favor of the newest. Stale telemetry is
// worse than a gap.
type ring struct {
	mu   sync.Mutex
	buf  []Message
	head int // index of oldest
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Message, capacity)}
}

// push enqueues a message, reporting whether an older one was dropped.
func (r *ring) push(m Message) (dropped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == len(r.buf) {
		// overwrite the oldest slot
		r.buf[r.head] = m
		r.head = (r.head + 1) % len(r.buf)
		return true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = m
	r.size++
	return false
}

// pop dequeues the oldest message.
func (r *ring) pop() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return Message{}, false
	}
	m := r.buf[r.head]
	r.buf[r.head] = Message{}
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return m, true
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// clear discards everything queued, returning the count.
func (r *ring) clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.size
	for i := range r.buf {
		r.buf[i] = Message{}
	}
	r.head, r.size = 0, 0
	return n
}
