package encoder

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/audiolibrelab/dictator/internal/audio"
)

// wavFormatPCM is the RIFF format tag for linear PCM.
const wavFormatPCM = 1

type wavSink struct {
	file *os.File
	enc  *wav.Encoder
	buf  *goaudio.IntBuffer
}

func openWAV(path string, format audio.Format) (sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	s := &wavSink{
		file: f,
		enc:  wav.NewEncoder(f, format.SampleRate, audio.BitsPerSample, format.Channels, wavFormatPCM),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			SourceBitDepth: audio.BitsPerSample,
		},
	}

	// Write the header right away so that an empty recording is still a valid file.
	if err := s.write(nil); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write wav header: %w", err)
	}
	return s, nil
}

func (s *wavSink) write(pcm []int16) error {
	if cap(s.buf.Data) < len(pcm) {
		s.buf.Data = make([]int, len(pcm))
	}
	s.buf.Data = s.buf.Data[:len(pcm)]
	for i, v := range pcm {
		s.buf.Data[i] = int(v)
	}
	return s.enc.Write(s.buf)
}

// close patches the RIFF sizes and closes the file. wav.Encoder.Close does
// not close the underlying file.
func (s *wavSink) close() error {
	encErr := s.enc.Close()
	fileErr := s.file.Close()
	if encErr != nil {
		return fmt.Errorf("failed to finish wav header: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("failed to close wav file: %w", fileErr)
	}
	return nil
}
