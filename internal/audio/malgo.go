package audio

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unsafe"

	"github.com/gen2brain/malgo"
)

// MalgoBackend captures from the system default input device through miniaudio.
type MalgoBackend struct{}

// malgoStream owns one miniaudio context and its capture device.
type malgoStream struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	once   sync.Once
}

func logMiniaudio(message string) {
	slog.Debug("miniaudio", "message", strings.TrimSpace(message))
}

// Open initialises the default capture device in f32 format and starts it.
func (b *MalgoBackend) Open(format Format, onSamples SampleFunc) (Stream, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, logMiniaudio)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)

	channels := format.Channels
	onData := func(_, input []byte, frameCount uint32) {
		n := int(frameCount) * channels
		if n == 0 || len(input) < n*4 {
			return
		}
		// miniaudio hands us f32 frames; view them in place instead of copying.
		samples := unsafe.Slice((*float32)(unsafe.Pointer(&input[0])), n)
		onSamples(samples)
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	slog.Info("Capture device opened",
		"sample_rate", device.SampleRate(),
		"channels", device.CaptureChannels())

	return &malgoStream{ctx: ctx, device: device}, nil
}

// Close uninitialises the device, which blocks until the data callback has returned.
func (s *malgoStream) Close() error {
	var err error
	s.once.Do(func() {
		s.device.Uninit()
		err = s.ctx.Uninit()
		s.ctx.Free()
		slog.Debug("Capture device closed")
	})
	if err != nil {
		return fmt.Errorf("failed to release audio context: %w", err)
	}
	return nil
}

// ListSources enumerates capture devices.
func (b *MalgoBackend) ListSources() ([]Source, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, logMiniaudio)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	sources := make([]Source, 0, len(infos))
	for i := range infos {
		sources = append(sources, Source{
			ID:        infos[i].ID.String(),
			Name:      infos[i].Name(),
			IsDefault: infos[i].IsDefault != 0,
		})
	}
	return sources, nil
}

// GetType returns the backend type
func (b *MalgoBackend) GetType() BackendType {
	return BackendTypeMalgo
}
