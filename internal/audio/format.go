package audio

import (
	"fmt"
	"time"
)

// BitsPerSample is the bit depth of every persisted recording (signed linear PCM).
const BitsPerSample = 16

const (
	// ChunkDuration is the nominal length of one chunk handed from the bridge to the recorder.
	ChunkDuration = 500 * time.Millisecond
	// RingDuration is how much audio the ring buffer holds before the callback starts dropping.
	RingDuration = 60 * time.Second
)

// Format describes the audio stream captured from the input device.
// It is an immutable value and is always passed by value.
type Format struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`
	Channels   int `json:"channels" yaml:"channels"`
}

// DefaultFormat returns 16 kHz mono, the format speech recognisers expect.
func DefaultFormat() Format {
	return Format{SampleRate: 16000, Channels: 1}
}

// SamplesFor returns the number of interleaved samples covering d.
func (f Format) SamplesFor(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(f.Channels) * int64(d) / int64(time.Second))
}

// ChunkSamples returns the size of one chunk in interleaved samples.
func (f Format) ChunkSamples() int {
	return f.SamplesFor(ChunkDuration)
}

// RingCapacity returns the ring buffer capacity in interleaved samples.
func (f Format) RingCapacity() int {
	return f.SamplesFor(RingDuration)
}

// Duration converts an interleaved sample count back to playback time.
func (f Format) Duration(samples int) time.Duration {
	perSecond := int64(f.SampleRate) * int64(f.Channels)
	if perSecond <= 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / perSecond)
}

// Validate reports whether the format can be opened by a backend.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d: must be positive", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 8 {
		return fmt.Errorf("invalid channel count %d: must be between 1 and 8", f.Channels)
	}
	if f.ChunkSamples() < 1 {
		return fmt.Errorf("invalid sample rate %d: a %s chunk holds no samples", f.SampleRate, ChunkDuration)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %d-bit", f.SampleRate, f.Channels, BitsPerSample)
}
