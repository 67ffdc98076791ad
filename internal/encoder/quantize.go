package encoder

import (
	"math"

	"github.com/audiolibrelab/dictator/internal/audio"
)

// Quantize converts a normalised sample to 16-bit PCM:
// round(clamp(s, -1, 1) * 32767). NaN maps to silence.
func Quantize(s float32) int16 {
	if s != s {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(math.Round(float64(s) * math.MaxInt16))
}

// QuantizeChunk converts a whole chunk into a newly allocated PCM buffer.
func QuantizeChunk(chunk audio.Chunk) []int16 {
	pcm := make([]int16, len(chunk))
	for i, s := range chunk {
		pcm[i] = Quantize(s)
	}
	return pcm
}
