package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"medvoice/internal/domain"
	"medvoice/internal/ports"
)

var errSessionClosed = errors.New("capture session closed")

// The PortAudio host must be initialized exactly once for any number of
// concurrent users. Access probes and capture sessions share a refcount
// so permission checks do not tear the host down under a live session.
var (
	hostMu   sync.Mutex
	hostRefs int
)

func acquireHost() error {
	hostMu.Lock()
	defer hostMu.Unlock()
	if hostRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio init failed: %w", err)
		}
	}
	hostRefs++
	return nil
}

func releaseHost() {
	hostMu.Lock()
	defer hostMu.Unlock()
	hostRefs--
	if hostRefs == 0 {
		_ = portaudio.Terminate()
	}
}

// PortAudioCapture opens microphone streams through the PortAudio host.
type PortAudioCapture struct {
	log zerolog.Logger
}

func NewPortAudioCapture(log zerolog.Logger) *PortAudioCapture {
	return &PortAudioCapture{log: log}
}

// RequestAccess briefly opens the default input stream. On platforms that
// gate microphone access this is what triggers the permission prompt; it
// also catches a missing or busy input device early.
func (c *PortAudioCapture) RequestAccess(_ context.Context) error {
	if err := acquireHost(); err != nil {
		return err
	}
	defer releaseHost()

	in := make([]int16, 64)
	stream, err := portaudio.OpenDefaultStream(1, 0, 16000, len(in), in)
	if err != nil {
		return fmt.Errorf("microphone access probe failed: %w", err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("microphone probe close failed: %w", err)
	}
	return nil
}

// Info snapshots the current default input device.
func (c *PortAudioCapture) Info(_ context.Context) (domain.MicrophoneInfo, error) {
	if err := acquireHost(); err != nil {
		return domain.MicrophoneInfo{}, err
	}
	defer releaseHost()

	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		return domain.MicrophoneInfo{}, fmt.Errorf("no default input device: %w", err)
	}
	return domain.MicrophoneInfo{
		Label:        device.Name,
		SampleRate:   int(device.DefaultSampleRate),
		Capabilities: deviceCapabilities(device.MaxInputChannels, device.DefaultLowInputLatency.String()),
	}, nil
}

func (c *PortAudioCapture) Start(_ context.Context, cfg ports.CaptureConfig) (ports.AudioSession, error) {
	cfg = applyCaptureDefaults(cfg)

	if err := acquireHost(); err != nil {
		return nil, err
	}

	in := make([]int16, cfg.WindowFrames*cfg.Channels)
	stream, err := c.openStream(cfg, in)
	if err != nil {
		releaseHost()
		return nil, fmt.Errorf("failed to open microphone: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		releaseHost()
		return nil, fmt.Errorf("failed to start capture: %w", err)
	}

	c.log.Debug().
		Int("sampleRate", cfg.SampleRate).
		Int("windowFrames", cfg.WindowFrames).
		Str("device", cfg.Device).
		Msg("capture session opened")

	return &paSession{stream: stream, buffer: in, closed: make(chan struct{})}, nil
}

// openStream opens the named device when one is configured, otherwise the
// system default.
func (c *PortAudioCapture) openStream(cfg ports.CaptureConfig, in []int16) (*portaudio.Stream, error) {
	if cfg.Device == "" {
		return portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.WindowFrames, in)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("device enumeration failed: %w", err)
	}
	for _, device := range devices {
		if device.Name != cfg.Device || device.MaxInputChannels < cfg.Channels {
			continue
		}
		params := portaudio.LowLatencyParameters(device, nil)
		params.Input.Channels = cfg.Channels
		params.SampleRate = float64(cfg.SampleRate)
		params.FramesPerBuffer = cfg.WindowFrames
		return portaudio.OpenStream(params, in)
	}

	c.log.Warn().Str("device", cfg.Device).Msg("configured device not found, using default")
	return portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.WindowFrames, in)
}

func applyCaptureDefaults(cfg ports.CaptureConfig) ports.CaptureConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.WindowFrames <= 0 {
		cfg.WindowFrames = 2048
	}
	return cfg
}

func deviceCapabilities(inputChannels int, lowLatency string) []string {
	return []string{
		fmt.Sprintf("channels:%d", inputChannels),
		fmt.Sprintf("latency:%s", lowLatency),
	}
}

type paSession struct {
	stream *portaudio.Stream
	buffer []int16

	closeOnce sync.Once
	closed    chan struct{}
}

// ReadWindow blocks until one window of samples is captured. An input
// overflow drops stale frames on the host side but still yields a window.
func (s *paSession) ReadWindow() ([]int16, error) {
	select {
	case <-s.closed:
		return nil, errSessionClosed
	default:
	}

	if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		select {
		case <-s.closed:
			return nil, errSessionClosed
		default:
		}
		return nil, fmt.Errorf("capture read failed: %w", err)
	}

	window := make([]int16, len(s.buffer))
	copy(window, s.buffer)
	return window, nil
}

func (s *paSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.stream.Abort()
		err = s.stream.Close()
		releaseHost()
	})
	return err
}
