package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval bounds how long the bridge sleeps when no wake signal arrives.
const DefaultPollInterval = 100 * time.Millisecond

type captureOptions struct {
	pollInterval time.Duration
}

// Option configures a Capture.
type Option func(*captureOptions)

// WithPollInterval sets the fallback interval at which the bridge checks the ring.
func WithPollInterval(d time.Duration) Option {
	return func(o *captureOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// Capture is a running input stream together with its bridge goroutine.
// The capture lasts until Close; it must be closed by whoever started it.
type Capture struct {
	format   Format
	stream   Stream
	producer *Producer
	consumer *Consumer
	pipe     *ChunkPipe
	poll     time.Duration

	wake    chan struct{}
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Start opens the backend's input stream with format and starts forwarding
// ChunkSamples-sized chunks onto pipe. Device errors are returned here and
// never from the background goroutine.
func Start(backend Backend, format Format, pipe *ChunkPipe, opts ...Option) (*Capture, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	o := captureOptions{pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}

	producer, consumer := NewRing(format.RingCapacity())
	c := &Capture{
		format:   format,
		producer: producer,
		consumer: consumer,
		pipe:     pipe,
		poll:     o.pollInterval,
		wake:     make(chan struct{}, 1),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	stream, err := backend.Open(format, c.onSamples)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	c.stream = stream

	go c.bridge()

	slog.Debug("Capture started", "format", format.String(), "ring_capacity", producer.Capacity(), "poll_interval", c.poll)
	return c, nil
}

// onSamples runs on the audio driver's thread.
func (c *Capture) onSamples(samples []float32) {
	c.producer.Push(samples)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Close stops the input stream. Once it returns no more samples are
// captured; the bridge forwards what is still buffered and then exits.
func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.stream.Close()
		close(c.closing)
	})
	return c.closeErr
}

// Done is closed once the bridge goroutine has exited.
func (c *Capture) Done() <-chan struct{} {
	return c.done
}

// Dropped returns how many samples were lost to ring overflow.
func (c *Capture) Dropped() uint64 {
	return c.producer.Dropped()
}

// Format returns the format the stream was opened with.
func (c *Capture) Format() Format {
	return c.format
}

func (c *Capture) bridge() {
	defer close(c.done)

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	size := c.format.ChunkSamples()
	for {
		select {
		case <-c.wake:
		case <-ticker.C:
		case <-c.closing:
			c.flush(size)
			return
		}
		if !c.forward(size) {
			return
		}
	}
}

// forward sends every whole chunk available. It returns false when the
// receiver is gone.
func (c *Capture) forward(size int) bool {
	if size <= 0 {
		return true
	}
	for c.consumer.Available() >= size {
		chunk := make(Chunk, size)
		c.consumer.Pop(chunk)
		if !c.pipe.send(chunk) {
			return false
		}
	}
	return true
}

// flush forwards the remaining whole chunks and then one trailing partial chunk.
func (c *Capture) flush(size int) {
	if !c.forward(size) {
		return
	}
	if n := c.consumer.Available(); n > 0 {
		chunk := make(Chunk, n)
		c.consumer.Pop(chunk)
		c.pipe.send(chunk)
	}
}
