// Package feedback plays short sounds when a recording starts, stops or
// fails. Playback problems never affect recording; they are only logged.
package feedback

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/speaker"
	"github.com/gopxl/beep/wav"

	"github.com/audiolibrelab/dictator/internal/config"
	"github.com/audiolibrelab/dictator/internal/recorder"
)

// outputRate is the rate the speaker is opened at; every sound is resampled to it.
const outputRate = beep.SampleRate(44100)

const resampleQuality = 4

// DefaultSearchDirs are tried, in order, for sounds given by a relative name.
var DefaultSearchDirs = []string{"assets", "/usr/share/dictator/assets"}

// output plays a decoded stream and returns once playback is scheduled.
// done is called when the stream has finished.
type output func(s beep.Streamer, format beep.Format, done func()) error

type Player struct {
	cfg        config.FeedbackConfig
	searchDirs []string
	out        output

	once    sync.Once
	initErr error
}

func New(cfg config.FeedbackConfig) *Player {
	p := &Player{cfg: cfg, searchDirs: DefaultSearchDirs}
	p.out = p.speakerOutput
	return p
}

// Resolve finds a sound file. A path that exists as given wins, then each
// search directory is tried.
func (p *Player) Resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("no sound configured")
	}
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("sound file not found: %s", name)
	}

	tried := []string{name}
	for _, dir := range p.searchDirs {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		tried = append(tried, candidate)
	}
	return "", fmt.Errorf("sound file not found (tried: %s)", strings.Join(tried, ", "))
}

// Play starts playing the named sound and returns without waiting for it
// to finish.
func (p *Player) Play(name string) error {
	path, err := p.Resolve(name)
	if err != nil {
		return err
	}

	streamer, format, err := decode(path)
	if err != nil {
		return err
	}

	slog.Debug("Playing feedback sound", "path", path, "sample_rate", format.SampleRate)
	if err := p.out(streamer, format, func() { streamer.Close() }); err != nil {
		streamer.Close()
		return fmt.Errorf("failed to play %s: %w", path, err)
	}
	return nil
}

// Subscribe plays the configured sounds for recorder events. It does
// nothing when feedback is disabled.
func (p *Player) Subscribe(bus EventBus.Bus) error {
	if !p.cfg.Enabled {
		return nil
	}
	subs := map[string]interface{}{
		recorder.TopicStarted: func(recorder.StartedEvent) { p.playLogged(p.cfg.StartSound) },
		recorder.TopicStopped: func(recorder.StoppedEvent) { p.playLogged(p.cfg.StopSound) },
		recorder.TopicFailed:  func(recorder.FailedEvent) { p.playLogged(p.cfg.ErrorSound) },
	}
	for topic, fn := range subs {
		if err := bus.SubscribeAsync(topic, fn, true); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	return nil
}

func (p *Player) playLogged(name string) {
	if name == "" {
		return
	}
	if err := p.Play(name); err != nil {
		slog.Warn("Feedback sound failed", "sound", name, "error", err)
	}
}

func decode(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("failed to open sound: %w", err)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	default:
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("unsupported sound format: %s", filepath.Ext(path))
	}
	if err != nil {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return streamer, format, nil
}

// speakerOutput opens the default output device on first use.
func (p *Player) speakerOutput(s beep.Streamer, format beep.Format, done func()) error {
	p.once.Do(func() {
		p.initErr = speaker.Init(outputRate, outputRate.N(100*time.Millisecond))
	})
	if p.initErr != nil {
		return fmt.Errorf("failed to open output device: %w", p.initErr)
	}

	if format.SampleRate != outputRate {
		s = beep.Resample(resampleQuality, format.SampleRate, outputRate, s)
	}
	speaker.Play(beep.Seq(s, beep.Callback(done)))
	return nil
}
