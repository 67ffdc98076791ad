package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormat_DerivedSizes(t *testing.T) {
	f := DefaultFormat()

	assert.Equal(t, 16000, f.SampleRate)
	assert.Equal(t, 1, f.Channels)
	assert.Equal(t, 8000, f.ChunkSamples())
	assert.Equal(t, 960000, f.RingCapacity())
	assert.Equal(t, 1600, f.SamplesFor(100*time.Millisecond))
}

func TestFormat_StereoCountsInterleavedSamples(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2}

	assert.Equal(t, 48000, f.ChunkSamples())
	assert.Equal(t, 48000*2*60, f.RingCapacity())
	assert.Equal(t, time.Second, f.Duration(96000))
}

func TestFormat_Duration(t *testing.T) {
	f := DefaultFormat()

	assert.Equal(t, 1500*time.Millisecond, f.Duration(24000))
	assert.Equal(t, time.Duration(0), f.Duration(0))
	assert.Equal(t, time.Duration(0), Format{}.Duration(100))
}

func TestFormat_Validate(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		wantErr bool
	}{
		{"default", DefaultFormat(), false},
		{"cd quality stereo", Format{SampleRate: 44100, Channels: 2}, false},
		{"eight channels", Format{SampleRate: 48000, Channels: 8}, false},
		{"zero rate", Format{SampleRate: 0, Channels: 1}, true},
		{"negative rate", Format{SampleRate: -16000, Channels: 1}, true},
		{"no channels", Format{SampleRate: 16000, Channels: 0}, true},
		{"too many channels", Format{SampleRate: 16000, Channels: 9}, true},
		{"one hertz", Format{SampleRate: 1, Channels: 1}, true},
		{"two hertz", Format{SampleRate: 2, Channels: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFormat_ValidateRequiresNonEmptyChunk(t *testing.T) {
	f := Format{SampleRate: 1, Channels: 1}

	assert.Zero(t, f.ChunkSamples())
	assert.ErrorContains(t, f.Validate(), "holds no samples")
}
