package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	pwRecordBinary = "pw-record"
	pwLinkBinary   = "pw-link"

	// pwReadFrames is the number of frames read from pw-record per callback.
	pwReadFrames  = 1024
	pwStopTimeout = 5 * time.Second
)

// PipeWireBackend captures through a pw-record process writing raw f32
// samples to its stdout.
type PipeWireBackend struct{}

func (p *PipeWireBackend) Open(format Format, onSamples SampleFunc) (Stream, error) {
	if _, err := exec.LookPath(pwRecordBinary); err != nil {
		return nil, fmt.Errorf("%s not found: %w", pwRecordBinary, err)
	}

	cmd := exec.Command(pwRecordBinary, pwRecordArgs(format)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", pwRecordBinary, err)
	}
	slog.Debug("pw-record started", "pid", cmd.Process.Pid, "format", format.String())

	s := &pipeWireStream{
		cmd:        cmd,
		readerDone: make(chan struct{}),
		stderrDone: make(chan struct{}),
	}
	go s.readOutput(stderr)
	go func() {
		defer close(s.readerDone)
		if err := pumpSamples(stdout, format.Channels, onSamples); err != nil {
			slog.Warn("pw-record stream ended", "error", err)
		}
	}()
	return s, nil
}

// ListSources returns the PipeWire output ports, which include every
// capture device channel.
func (p *PipeWireBackend) ListSources() ([]Source, error) {
	output, err := exec.Command(pwLinkBinary, "--output").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}

	var sources []Source
	for _, port := range parsePorts(string(output)) {
		sources = append(sources, Source{ID: port, Name: port})
	}
	return sources, nil
}

func (p *PipeWireBackend) GetType() BackendType {
	return BackendTypePipeWire
}

func pwRecordArgs(format Format) []string {
	return []string{
		"--format", "f32",
		"--rate", fmt.Sprint(format.SampleRate),
		"--channels", fmt.Sprint(format.Channels),
		"--media-role", "Communication",
		"-",
	}
}

// parsePorts extracts port names from pw-link output
func parsePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports
}

// pumpSamples decodes little-endian f32 frames from r and hands them to
// onSamples until r is exhausted. A trailing partial frame is discarded.
func pumpSamples(r io.Reader, channels int, onSamples SampleFunc) error {
	frameBytes := 4 * channels
	buf := make([]byte, pwReadFrames*frameBytes)
	samples := make([]float32, pwReadFrames*channels)
	pending := 0

	for {
		n, err := r.Read(buf[pending:])
		pending += n

		whole := pending - pending%frameBytes
		if whole > 0 {
			count := decodeF32LE(samples, buf[:whole])
			onSamples(samples[:count])
			pending = copy(buf, buf[whole:pending])
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// decodeF32LE converts src into dst and returns the number of samples written.
func decodeF32LE(dst []float32, src []byte) int {
	n := len(src) / 4
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return n
}

type pipeWireStream struct {
	cmd        *exec.Cmd
	readerDone chan struct{}
	stderrDone chan struct{}
	stderrBuf  strings.Builder

	once     sync.Once
	closeErr error
}

// Close interrupts pw-record and returns once its output has been fully
// consumed, so no callback runs afterwards.
func (s *pipeWireStream) Close() error {
	s.once.Do(func() {
		s.closeErr = s.stop()
	})
	return s.closeErr
}

func (s *pipeWireStream) stop() error {
	// Send termination signal
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to send interrupt to pw-record, killing", "error", err)
		s.cmd.Process.Kill()
	}

	select {
	case <-s.readerDone:
	case <-time.After(pwStopTimeout):
		slog.Warn("pw-record did not exit within timeout, force killing")
		s.cmd.Process.Kill()
		<-s.readerDone
	}
	<-s.stderrDone

	err := s.cmd.Wait()
	if err == nil {
		return nil
	}

	// Check if it's a normal exit due to signal
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		if state == "signal: interrupt" || state == "signal: killed" || exitErr.ExitCode() == 130 {
			return nil
		}
	}
	slog.Debug("pw-record stderr", "output", s.stderrBuf.String())
	return fmt.Errorf("pw-record failed: %w", err)
}

// readOutput buffers stderr for error reporting
func (s *pipeWireStream) readOutput(pipe io.ReadCloser) {
	defer close(s.stderrDone)
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		s.stderrBuf.WriteString(line + "\n")
		slog.Debug("pw-record output", "line", line)
	}
}
