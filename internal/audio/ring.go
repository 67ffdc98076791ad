package audio

import "sync/atomic"

// ring is a fixed-capacity circular store of raw samples shared by exactly
// one Producer and one Consumer. Head and tail are monotonically increasing
// counters; each side only ever stores its own counter, so no lock is needed.
type ring struct {
	buf     []float32
	head    atomic.Uint64 // next sample to read, written by the consumer
	tail    atomic.Uint64 // next sample to write, written by the producer
	dropped atomic.Uint64
}

// Producer is the write half of a ring. It is safe to use from a real-time
// callback: Push never blocks and never allocates.
type Producer struct {
	r *ring
}

// Consumer is the read half of a ring.
type Consumer struct {
	r *ring
}

// NewRing allocates a ring holding capacity samples and splits it into its halves.
func NewRing(capacity int) (*Producer, *Consumer) {
	if capacity < 1 {
		capacity = 1
	}
	r := &ring{buf: make([]float32, capacity)}
	return &Producer{r: r}, &Consumer{r: r}
}

// Push copies as many samples as fit and returns how many were stored.
// Samples that do not fit are counted as dropped.
func (p *Producer) Push(samples []float32) int {
	r := p.r
	size := uint64(len(r.buf))
	tail := r.tail.Load()
	head := r.head.Load()

	free := size - (tail - head)
	n := uint64(len(samples))
	if n > free {
		r.dropped.Add(n - free)
		n = free
	}
	if n == 0 {
		return 0
	}

	start := tail % size
	first := copy(r.buf[start:], samples[:n])
	copy(r.buf, samples[first:n])

	r.tail.Store(tail + n)
	return int(n)
}

// Dropped returns the number of samples rejected because the ring was full.
func (p *Producer) Dropped() uint64 {
	return p.r.dropped.Load()
}

// Capacity returns the ring size in samples.
func (p *Producer) Capacity() int {
	return len(p.r.buf)
}

// Available returns the number of samples ready to be popped.
func (c *Consumer) Available() int {
	return int(c.r.tail.Load() - c.r.head.Load())
}

// Pop moves up to len(dst) samples into dst and returns how many were read.
func (c *Consumer) Pop(dst []float32) int {
	r := c.r
	size := uint64(len(r.buf))
	head := r.head.Load()
	tail := r.tail.Load()

	n := tail - head
	if uint64(len(dst)) < n {
		n = uint64(len(dst))
	}
	if n == 0 {
		return 0
	}

	start := head % size
	first := copy(dst[:n], r.buf[start:])
	copy(dst[first:n], r.buf)

	r.head.Store(head + n)
	return int(n)
}
