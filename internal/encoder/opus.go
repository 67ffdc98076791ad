package encoder

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"

	"github.com/audiolibrelab/dictator/internal/audio"
)

const (
	opusFrameMillis = 20
	// Ogg Opus granule positions always count 48 kHz samples.
	opusGranuleStep = 48000 * opusFrameMillis / 1000
	opusPayloadType = 111
	maxOpusPacket   = 4000
)

func validateOpusFormat(format audio.Format) error {
	switch format.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("opus does not support %d Hz (use 8000, 12000, 16000, 24000 or 48000)", format.SampleRate)
	}
	if format.Channels > 2 {
		return fmt.Errorf("opus encoding supports at most 2 channels, got %d", format.Channels)
	}
	return nil
}

// opusSink encodes 20 ms frames and stores them as Ogg Opus pages. The RTP
// packets only carry sequencing for the Ogg writer; nothing goes on the wire.
type opusSink struct {
	enc    *opus.Encoder
	ogg    *oggwriter.OggWriter
	frame  int // interleaved samples per 20 ms frame
	buffer []int16
	packet []byte

	ssrc      uint32
	sequence  uint16
	timestamp uint32
}

func openOpus(path string, format audio.Format) (sink, error) {
	enc, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	ogg, err := oggwriter.New(path, uint32(format.SampleRate), uint16(format.Channels))
	if err != nil {
		return nil, err
	}

	frame := format.SamplesFor(opusFrameMillis * time.Millisecond)
	return &opusSink{
		enc:       enc,
		ogg:       ogg,
		frame:     frame,
		buffer:    make([]int16, 0, frame*2),
		packet:    make([]byte, maxOpusPacket),
		ssrc:      rand.Uint32(),
		timestamp: opusGranuleStep,
	}, nil
}

func (s *opusSink) write(pcm []int16) error {
	s.buffer = append(s.buffer, pcm...)
	for len(s.buffer) >= s.frame {
		if err := s.encodeFrame(s.buffer[:s.frame]); err != nil {
			return err
		}
		s.buffer = s.buffer[:copy(s.buffer, s.buffer[s.frame:])]
	}
	return nil
}

func (s *opusSink) encodeFrame(frame []int16) error {
	n, err := s.enc.Encode(frame, s.packet)
	if err != nil {
		return fmt.Errorf("opus encode failed: %w", err)
	}

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: s.sequence,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: s.packet[:n],
	}
	s.sequence++
	s.timestamp += opusGranuleStep

	if err := s.ogg.WriteRTP(packet); err != nil {
		return fmt.Errorf("failed to write ogg page: %w", err)
	}
	return nil
}

// close pads the trailing partial frame with silence and closes the file.
func (s *opusSink) close() error {
	if len(s.buffer) > 0 {
		frame := make([]int16, s.frame)
		copy(frame, s.buffer)
		s.buffer = s.buffer[:0]
		if err := s.encodeFrame(frame); err != nil {
			s.ogg.Close()
			return err
		}
	}
	if err := s.ogg.Close(); err != nil {
		return fmt.Errorf("failed to close ogg file: %w", err)
	}
	return nil
}
