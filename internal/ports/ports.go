package ports

import (
	"context"

	"medvoice/internal/domain"
)

// CaptureConfig describes how the microphone should be captured.
type CaptureConfig struct {
	SampleRate   int
	Channels     int
	WindowFrames int
	Device       string
}

// AudioSession is a live capture session delivering fixed-size sample windows.
type AudioSession interface {
	// ReadWindow blocks until one window of samples is available. It
	// returns an error once the session is closed or the device fails.
	ReadWindow() ([]int16, error)
	Close() error
}

// AudioCapture acquires microphone access and capture sessions.
type AudioCapture interface {
	// RequestAccess briefly opens and releases an input handle to trigger
	// the platform permission prompt. Safe to call repeatedly.
	RequestAccess(ctx context.Context) error

	// Info snapshots the current default input device.
	Info(ctx context.Context) (domain.MicrophoneInfo, error)

	Start(ctx context.Context, cfg CaptureConfig) (AudioSession, error)
}

// RecognitionConfig describes engine-agnostic recognition settings.
type RecognitionConfig struct {
	Language       string
	Continuous     bool
	InterimResults bool
	SampleRate     int
	Channels       int
}

// EngineEventKind distinguishes result delivery from engine errors.
type EngineEventKind string

const (
	EngineEventResult EngineEventKind = "result"
	EngineEventError  EngineEventKind = "error"
)

// EngineEvent is one recognizer callback: either a batch of hypotheses or
// an engine-reported error.
type EngineEvent struct {
	Kind       EngineEventKind
	Hypotheses []domain.Hypothesis
	Code       domain.EngineErrorCode
	Message    string
}

// RecognitionStream is an active continuous recognition session.
type RecognitionStream interface {
	SendAudio(chunk []byte) error

	// Events yields engine callbacks in delivery order. The channel is
	// closed when the session ends, naturally or otherwise.
	Events() <-chan EngineEvent

	// Stop ends the session best-effort.
	Stop() error
}

// Recognizer starts continuous recognition sessions.
type Recognizer interface {
	// Available reports whether the recognition engine can run at all.
	Available() bool

	// Init performs a one-time engine warm-up. Transient failures may be
	// retried by the caller.
	Init(ctx context.Context) error

	Start(ctx context.Context, cfg RecognitionConfig) (RecognitionStream, error)
}

// Utterance is one synthesis request against the local engine.
type Utterance struct {
	Text     string
	Language string
	// Voice is an engine voice name, or empty for the engine default.
	Voice string
}

// Playback tracks one in-flight synthesis attempt.
type Playback interface {
	// Started is closed when audio has audibly begun.
	Started() <-chan struct{}
	// Done yields the terminal outcome exactly once.
	Done() <-chan error
	Cancel()
}

// Synthesizer is a local text-to-speech engine with a voice catalog.
type Synthesizer interface {
	// Voices returns the catalog snapshot; empty until the catalog loads.
	Voices() []domain.VoiceCandidate

	// CatalogReady is closed once the voice catalog has loaded.
	CatalogReady() <-chan struct{}

	// Cancel discards any in-flight synthesis.
	Cancel()

	// Resume clears a suspended playback state after a Cancel.
	Resume()

	Speak(ctx context.Context, utt Utterance) (Playback, error)
}

// RemoteSpeech plays pre-rendered audio fetched from a remote endpoint.
// Play blocks until playback finishes or ctx is cancelled.
type RemoteSpeech interface {
	Play(ctx context.Context, text string, language string) error
}

// Translator forwards a finalized transcript to the translation backend.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (domain.Translation, error)
}

// TermValidator checks and corrects domain terminology in a transcript.
type TermValidator interface {
	Validate(text string) (domain.TermValidation, error)
}

// EventSink receives controller events for the presentation layer.
type EventSink interface {
	Status(message string, severity domain.Severity)
	Transcript(event domain.TranscriptEvent)
	Volume(reading domain.VolumeReading)
	MicrophoneInfo(info domain.MicrophoneInfo)
	RecognitionError(err domain.ClassifiedError)
	Translation(result domain.Translation)
}
