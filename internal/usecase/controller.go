package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"medvoice/internal/domain"
	"medvoice/internal/ports"
)

var (
	ErrUnsupportedPlatform = errors.New("speech recognition is not supported on this platform")
	ErrPermissionDenied    = errors.New("microphone access denied")
	ErrFatalState          = errors.New("recognition is in a fatal state and must be reinitialized")
)

// ControllerConfig tunes the recognition lifecycle.
type ControllerConfig struct {
	Recognition ports.RecognitionConfig
	Capture     ports.CaptureConfig

	MaxInitAttempts      int
	MaxRestartAttempts   int
	InitBackoffStep      time.Duration
	NoSpeechWindow       time.Duration
	NoSpeechRestartDelay time.Duration
	RestartSettle        time.Duration
}

func (c *ControllerConfig) applyDefaults() {
	if c.MaxInitAttempts <= 0 {
		c.MaxInitAttempts = 3
	}
	if c.MaxRestartAttempts <= 0 {
		c.MaxRestartAttempts = 3
	}
	if c.InitBackoffStep <= 0 {
		c.InitBackoffStep = time.Second
	}
	if c.NoSpeechWindow <= 0 {
		c.NoSpeechWindow = 10 * time.Second
	}
	if c.NoSpeechRestartDelay <= 0 {
		c.NoSpeechRestartDelay = 2 * time.Second
	}
	if c.RestartSettle <= 0 {
		c.RestartSettle = 100 * time.Millisecond
	}
}

// RecognitionController owns the continuous recognition lifecycle: permission
// acquisition, session start/stop, auto-restart, no-speech deadlines and
// engine error classification.
type RecognitionController struct {
	capture    ports.AudioCapture
	recognizer ports.Recognizer
	events     ports.EventSink
	forwarder  *TranscriptForwarder
	guard      *CaptureGuard
	log        zerolog.Logger
	cfg        ControllerConfig

	mu              sync.Mutex
	state           domain.RecognitionState
	active          bool
	initialized     bool
	restartAttempts int
	session         *listenSession
	baseCtx         context.Context
}

func NewRecognitionController(
	capture ports.AudioCapture,
	recognizer ports.Recognizer,
	forwarder *TranscriptForwarder,
	guard *CaptureGuard,
	events ports.EventSink,
	log zerolog.Logger,
	cfg ControllerConfig,
) *RecognitionController {
	cfg.applyDefaults()
	if guard == nil {
		guard = NewCaptureGuard()
	}
	return &RecognitionController{
		capture:    capture,
		recognizer: recognizer,
		events:     events,
		forwarder:  forwarder,
		guard:      guard,
		log:        log,
		cfg:        cfg,
		state:      domain.StateIdle,
		baseCtx:    context.Background(),
	}
}

// Initialize prepares the recognition engine: capability check, permission
// gate, then bounded warm-up retries with increasing backoff. Calling it
// explicitly also clears a prior fatal state.
func (c *RecognitionController) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.state = domain.StateInitializing
	c.restartAttempts = 0
	c.mu.Unlock()

	if !c.recognizer.Available() {
		c.enterFatal(domain.ClassifiedError{
			Kind:      domain.ErrorKindUnsupportedPlatform,
			Message:   "Speech recognition is not available on this platform",
			Retryable: false,
		})
		return ErrUnsupportedPlatform
	}

	if err := c.capture.RequestAccess(ctx); err != nil {
		c.mu.Lock()
		c.state = domain.StateIdle
		c.mu.Unlock()
		c.events.RecognitionError(domain.ClassifiedError{
			Kind:      domain.ErrorKindPermissionDenied,
			Message:   "Microphone access was denied. Grant access and try again.",
			Retryable: true,
		})
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxInitAttempts; attempt++ {
		lastErr = c.recognizer.Init(ctx)
		if lastErr == nil {
			c.mu.Lock()
			c.initialized = true
			if c.state == domain.StateInitializing {
				c.state = domain.StateIdle
			}
			c.mu.Unlock()
			c.events.Status("Speech recognition ready", domain.SeverityInfo)
			return nil
		}

		c.log.Warn().Err(lastErr).Int("attempt", attempt).Msg("recognizer warm-up failed")
		if attempt == c.cfg.MaxInitAttempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * c.cfg.InitBackoffStep):
		case <-ctx.Done():
			c.mu.Lock()
			c.state = domain.StateIdle
			c.mu.Unlock()
			return ctx.Err()
		}
	}

	c.enterFatal(domain.ClassifiedError{
		Kind:      domain.ErrorKindInitialization,
		Message:   "Speech recognition could not be initialized",
		Retryable: false,
	})
	return fmt.Errorf("recognizer initialization failed after %d attempts: %w", c.cfg.MaxInitAttempts, lastErr)
}

// Start begins (or restarts) a listening session, lazily initializing first.
func (c *RecognitionController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == domain.StateFatal {
		c.mu.Unlock()
		return ErrFatalState
	}
	previous := c.session
	c.session = nil
	c.baseCtx = ctx
	c.mu.Unlock()

	if previous != nil {
		c.teardown(previous, true)
	}

	if err := c.Initialize(ctx); err != nil {
		return err
	}

	c.guard.Acquire(OwnerRecognition, c.Stop)
	if err := c.startSession(ctx); err != nil {
		c.guard.Release(OwnerRecognition)
		return err
	}

	c.events.Status("Listening...", domain.SeverityInfo)
	return nil
}

func (c *RecognitionController) startSession(ctx context.Context) error {
	sessionCtx, cancel := context.WithCancel(ctx)

	stream, err := c.recognizer.Start(sessionCtx, c.cfg.Recognition)
	if err != nil {
		cancel()
		c.events.RecognitionError(domain.ClassifiedError{
			Kind:      domain.ErrorKindTransientNetwork,
			Message:   "Could not reach the recognition engine",
			Retryable: true,
		})
		return err
	}

	audio, err := c.capture.Start(sessionCtx, c.cfg.Capture)
	if err != nil {
		_ = stream.Stop()
		cancel()
		c.events.RecognitionError(domain.ClassifiedError{
			Kind:      domain.ErrorKindHardwareUnavailable,
			Message:   "Microphone capture could not be started",
			Retryable: false,
		})
		return err
	}

	session := &listenSession{
		cancel:      cancel,
		audio:       audio,
		stream:      stream,
		pumpDone:    make(chan struct{}),
		consumeDone: make(chan struct{}),
	}

	c.mu.Lock()
	c.session = session
	c.active = true
	c.state = domain.StateListening
	c.mu.Unlock()

	session.armNoSpeech(c.cfg.NoSpeechWindow, c.noSpeechDeadline)

	go c.pump(session)
	go c.consume(session)
	return nil
}

func (c *RecognitionController) noSpeechDeadline() {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active {
		c.events.Status("No speech detected yet; still listening", domain.SeverityWarning)
	}
}

// pump streams capture windows to the engine while emitting live volume.
func (c *RecognitionController) pump(s *listenSession) {
	defer close(s.pumpDone)

	for {
		window, err := s.audio.ReadWindow()
		if len(window) > 0 {
			c.events.Volume(domain.VolumeReading{Level: meterLevel(window)})
			if sendErr := s.stream.SendAudio(pcmBytes(window)); sendErr != nil {
				c.log.Debug().Err(sendErr).Msg("audio send failed; stream is closing")
				return
			}
		}
		if err != nil {
			if c.isCurrent(s) && c.isActive() {
				c.events.RecognitionError(domain.ClassifiedError{
					Kind:      domain.ErrorKindHardwareUnavailable,
					Message:   "Microphone capture failed",
					Retryable: false,
				})
				go c.Stop()
			}
			return
		}
	}
}

// consume dispatches engine callbacks in delivery order, then handles the
// natural end of the stream.
func (c *RecognitionController) consume(s *listenSession) {
	defer close(s.consumeDone)

	for event := range s.stream.Events() {
		switch event.Kind {
		case ports.EngineEventResult:
			c.handleResults(s, event.Hypotheses)
		case ports.EngineEventError:
			c.handleEngineError(s, event)
		}
	}

	c.handleStreamEnd(s)
}

func (c *RecognitionController) handleResults(s *listenSession, hypotheses []domain.Hypothesis) {
	for _, hypothesis := range hypotheses {
		text := strings.TrimSpace(hypothesis.Text)
		if text == "" {
			continue
		}

		c.events.Transcript(domain.TranscriptEvent{
			Text:      text,
			IsFinal:   hypothesis.IsFinal,
			Timestamp: time.Now(),
		})
		s.resetNoSpeech(c.cfg.NoSpeechWindow, c.noSpeechDeadline)

		if hypothesis.IsFinal {
			c.mu.Lock()
			c.restartAttempts = 0
			c.mu.Unlock()
			if c.forwarder != nil {
				c.forwarder.Enqueue(text)
			}
		}
	}
}

func (c *RecognitionController) handleEngineError(s *listenSession, event ports.EngineEvent) {
	message := strings.TrimSpace(event.Message)

	switch event.Code {
	case domain.EngineErrNoSpeech:
		c.events.RecognitionError(domain.ClassifiedError{
			Kind:      domain.ErrorKindNoSpeechTimeout,
			Message:   "No speech was recognized",
			Retryable: true,
		})
		if c.isActive() && s.tryScheduleRestart(c.cfg.NoSpeechRestartDelay, func() { c.restart(s) }) {
			c.log.Debug().Msg("no-speech restart scheduled")
		}
	case domain.EngineErrAudioCapture:
		c.events.RecognitionError(domain.ClassifiedError{
			Kind:      domain.ErrorKindHardwareUnavailable,
			Message:   "Microphone is unavailable. Check the audio device and retry.",
			Retryable: false,
		})
		c.stopAfterEngineError()
	case domain.EngineErrNotAllowed:
		c.mu.Lock()
		c.initialized = false // a fresh grant is required
		c.mu.Unlock()
		c.events.RecognitionError(domain.ClassifiedError{
			Kind:      domain.ErrorKindPermissionDenied,
			Message:   "Microphone permission was revoked",
			Retryable: true,
		})
		c.stopAfterEngineError()
	case domain.EngineErrNetwork:
		c.events.RecognitionError(domain.ClassifiedError{
			Kind:      domain.ErrorKindTransientNetwork,
			Message:   "Recognition connection interrupted; restarting",
			Retryable: true,
		})
	case domain.EngineErrAborted:
		c.events.RecognitionError(domain.ClassifiedError{
			Kind:      domain.ErrorKindAborted,
			Message:   "Recognition was interrupted; restarting",
			Retryable: true,
		})
	default:
		if message == "" {
			message = "Speech recognition failed"
		}
		c.events.RecognitionError(domain.ClassifiedError{
			Kind:      domain.ErrorKindUnknown,
			Message:   message,
			Retryable: false,
		})
		c.stopAfterEngineError()
	}
}

// stopAfterEngineError marks the session inactive and releases it without
// emitting the user-facing "recording stopped" status.
func (c *RecognitionController) stopAfterEngineError() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	go c.Stop()
}

func (c *RecognitionController) handleStreamEnd(s *listenSession) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}

	if !c.active {
		// An engine error deactivated us before Stop could claim the
		// session; this side still holds the capture handle and timers.
		c.session = nil
		if c.state != domain.StateFatal {
			c.state = domain.StateIdle
		}
		c.mu.Unlock()
		c.teardown(s, false)
		c.guard.Release(OwnerRecognition)
		c.events.Volume(domain.VolumeReading{Level: 0})
		c.events.Status("Recognition session ended", domain.SeverityInfo)
		return
	}

	c.restartAttempts++
	if c.restartAttempts > c.cfg.MaxRestartAttempts {
		c.session = nil
		c.mu.Unlock()
		c.escalateRestartLimit(s)
		return
	}
	c.state = domain.StateRestarting
	c.mu.Unlock()

	// Settle briefly to avoid tight restart loops.
	time.AfterFunc(c.cfg.RestartSettle, func() { c.restart(s) })
}

func (c *RecognitionController) escalateRestartLimit(s *listenSession) {
	c.enterFatal(domain.ClassifiedError{
		Kind:      domain.ErrorKindInitialization,
		Message:   "Speech recognition kept failing and was disabled. Reinitialize to continue.",
		Retryable: false,
	})
	s.cancelTimers()
	s.cancel()
	_ = s.audio.Close()
	c.guard.Release(OwnerRecognition)
}

// restart replaces prev with a fresh session. It is a no-op when prev has
// already been superseded or the controller went inactive.
func (c *RecognitionController) restart(prev *listenSession) {
	c.mu.Lock()
	if prev != nil && c.session != prev {
		c.mu.Unlock()
		return
	}
	if prev == nil && c.session != nil {
		c.mu.Unlock()
		return
	}
	if !c.active || c.state == domain.StateFatal {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.state = domain.StateRestarting
	ctx := c.baseCtx
	c.mu.Unlock()

	if prev != nil {
		c.teardown(prev, false)
	}

	if err := c.startSession(ctx); err != nil {
		c.log.Warn().Err(err).Msg("session restart failed")
		c.mu.Lock()
		c.restartAttempts++
		over := c.restartAttempts > c.cfg.MaxRestartAttempts
		active := c.active
		c.mu.Unlock()

		if over {
			c.enterFatal(domain.ClassifiedError{
				Kind:      domain.ErrorKindInitialization,
				Message:   "Speech recognition kept failing and was disabled. Reinitialize to continue.",
				Retryable: false,
			})
			c.guard.Release(OwnerRecognition)
			return
		}
		if active {
			time.AfterFunc(c.cfg.RestartSettle, func() { c.restart(nil) })
		}
	}
}

// Stop ends the active session. It is idempotent: repeated calls emit no
// duplicate status and never fail.
func (c *RecognitionController) Stop() {
	c.mu.Lock()
	session := c.session
	c.session = nil
	wasActive := c.active
	c.active = false
	if c.state != domain.StateFatal {
		c.state = domain.StateIdle
	}
	c.mu.Unlock()

	if session != nil {
		c.teardown(session, true)
	}
	c.guard.Release(OwnerRecognition)

	if session != nil || wasActive {
		// Clear any live volume display.
		c.events.Volume(domain.VolumeReading{Level: 0})
	}
	if wasActive {
		c.events.Status("Recording stopped", domain.SeverityInfo)
	}
}

// teardown releases a session's resources. Recognizer stop errors are logged
// and swallowed since the session is already ending.
func (c *RecognitionController) teardown(s *listenSession, wait bool) {
	s.cancelTimers()
	if err := s.stream.Stop(); err != nil {
		c.log.Debug().Err(err).Msg("recognizer stop failed")
	}
	_ = s.audio.Close()
	s.cancel()
	if wait {
		<-s.consumeDone
		<-s.pumpDone
	}
}

// Status reports the current lifecycle state.
func (c *RecognitionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Status{State: c.state, Active: c.active}
}

func (c *RecognitionController) enterFatal(err domain.ClassifiedError) {
	c.mu.Lock()
	c.state = domain.StateFatal
	c.active = false
	c.initialized = false
	c.mu.Unlock()
	c.events.RecognitionError(err)
}

func (c *RecognitionController) isCurrent(s *listenSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == s
}

func (c *RecognitionController) isActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// pcmBytes converts samples to little-endian 16-bit PCM for the wire.
func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		out[2*i] = byte(sample)
		out[2*i+1] = byte(sample >> 8)
	}
	return out
}
