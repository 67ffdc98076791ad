package encoder

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/audiolibrelab/dictator/internal/audio"
)

func TestQuantize(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{0.5, 16384},
		{-0.5, -16384},
		{0.25, 8192},
		{1.0 / 32767, 1},
		{2, 32767},
		{-3.5, -32767},
		{float32(math.Inf(1)), 32767},
		{float32(math.Inf(-1)), -32767},
		{float32(math.NaN()), 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Quantize(tt.in), "Quantize(%v)", tt.in)
	}
}

func TestQuantize_MatchesRoundClampLaw(t *testing.T) {
	for i := -2000; i <= 2000; i++ {
		s := float32(i) / 1500
		clamped := math.Max(-1, math.Min(1, float64(s)))
		want := int16(math.Round(clamped * 32767))

		got := Quantize(s)
		if got != want {
			t.Fatalf("Quantize(%v) = %d, want %d", s, got, want)
		}
		if again := Quantize(s); again != got {
			t.Fatalf("Quantize(%v) not stable: %d then %d", s, got, again)
		}
	}
}

func TestQuantizeChunk(t *testing.T) {
	chunk := audio.Chunk{0, 1, -1, 0.5}
	assert.Equal(t, []int16{0, 32767, -32767, 16384}, QuantizeChunk(chunk))
	assert.Empty(t, QuantizeChunk(nil))
}
