package usecase

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"medvoice/internal/domain"
	"medvoice/internal/ports"
)

// meterGain scales RMS energy of a normalized sample window to a percent.
const meterGain = 400

// meterLevel computes the loudness percent for one sample window.
func meterLevel(window []int16) int {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, sample := range window {
		normalized := float64(sample) / 32768
		sum += normalized * normalized
	}
	level := int(math.Sqrt(sum/float64(len(window))) * meterGain)
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}

// VolumeMeter runs the standalone microphone test: it owns a capture session
// and emits one volume reading per sample window.
type VolumeMeter struct {
	capture ports.AudioCapture
	events  ports.EventSink
	guard   *CaptureGuard
	log     zerolog.Logger
	cfg     ports.CaptureConfig

	mu      sync.Mutex
	session ports.AudioSession
	done    chan struct{}
	running bool
}

func NewVolumeMeter(
	capture ports.AudioCapture,
	guard *CaptureGuard,
	events ports.EventSink,
	log zerolog.Logger,
	cfg ports.CaptureConfig,
) *VolumeMeter {
	if cfg.WindowFrames <= 0 {
		cfg.WindowFrames = 2048
	}
	if guard == nil {
		guard = NewCaptureGuard()
	}
	return &VolumeMeter{capture: capture, events: events, guard: guard, log: log, cfg: cfg}
}

// Start acquires the microphone, publishes a device snapshot and begins
// emitting volume readings. Starting an already-running meter is a no-op.
func (m *VolumeMeter) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.guard.Acquire(OwnerMeter, m.Stop)

	if info, err := m.capture.Info(ctx); err == nil {
		m.events.MicrophoneInfo(info)
	} else {
		m.log.Warn().Err(err).Msg("microphone info unavailable")
	}

	session, err := m.capture.Start(ctx, m.cfg)
	if err != nil {
		m.guard.Release(OwnerMeter)
		m.events.RecognitionError(domain.ClassifiedError{
			Kind:      domain.ErrorKindHardwareUnavailable,
			Message:   "Microphone could not be opened for testing",
			Retryable: false,
		})
		return err
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		_ = session.Close()
		return nil
	}
	m.session = session
	m.done = make(chan struct{})
	m.running = true
	done := m.done
	m.mu.Unlock()

	go m.loop(session, done)
	m.events.Status("Microphone test running", domain.SeverityInfo)
	return nil
}

func (m *VolumeMeter) loop(session ports.AudioSession, done chan struct{}) {
	defer close(done)
	for {
		window, err := session.ReadWindow()
		if len(window) > 0 {
			m.events.Volume(domain.VolumeReading{Level: meterLevel(window)})
		}
		if err != nil {
			return
		}
	}
}

// Stop tears the capture session down and emits a final zero reading so any
// displaying UI resets. Safe to call repeatedly and concurrently with the
// read loop.
func (m *VolumeMeter) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	session := m.session
	done := m.done
	m.session = nil
	m.mu.Unlock()

	_ = session.Close()
	<-done

	m.guard.Release(OwnerMeter)
	m.events.Volume(domain.VolumeReading{Level: 0})
	m.events.Status("Microphone test stopped", domain.SeverityInfo)
}

// Running reports whether the meter currently holds the microphone.
func (m *VolumeMeter) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
