package audio

import "sync"

// Chunk is a batch of normalised samples in [-1, 1], interleaved when the
// format has more than one channel. Ownership moves with the chunk: the
// sender never touches it again after a successful send.
type Chunk []float32

// ChunkPipe is the channel between the bridge goroutine and the recorder.
// Drop releases the receiving side; any pending or later send then fails,
// which is how the bridge learns it has to exit.
type ChunkPipe struct {
	ch   chan Chunk
	gone chan struct{}
	once sync.Once
}

// NewChunkPipe creates a pipe buffering up to size chunks.
func NewChunkPipe(size int) *ChunkPipe {
	if size < 1 {
		size = 1
	}
	return &ChunkPipe{
		ch:   make(chan Chunk, size),
		gone: make(chan struct{}),
	}
}

// C returns the receive side of the pipe.
func (p *ChunkPipe) C() <-chan Chunk {
	return p.ch
}

// Drop marks the receiver as gone. It is safe to call more than once.
func (p *ChunkPipe) Drop() {
	p.once.Do(func() { close(p.gone) })
}

// Dropped reports whether Drop has been called.
func (p *ChunkPipe) Dropped() bool {
	select {
	case <-p.gone:
		return true
	default:
		return false
	}
}

func (p *ChunkPipe) send(chunk Chunk) bool {
	// A dropped pipe must fail even when the buffer still has room.
	if p.Dropped() {
		return false
	}
	select {
	case p.ch <- chunk:
		return true
	case <-p.gone:
		return false
	}
}
