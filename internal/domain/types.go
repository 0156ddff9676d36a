package domain

import "time"

// RecognitionState models the continuous-recognition lifecycle.
type RecognitionState string

const (
	StateIdle         RecognitionState = "idle"
	StateInitializing RecognitionState = "initializing"
	StateListening    RecognitionState = "listening"
	StateRestarting   RecognitionState = "restarting"
	StateFatal        RecognitionState = "fatal"
)

// Severity tags user-facing status messages.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ErrorKind classifies surfaced errors for the presentation layer.
type ErrorKind string

const (
	ErrorKindUnsupportedPlatform ErrorKind = "unsupported_platform"
	ErrorKindPermissionDenied    ErrorKind = "permission_denied"
	ErrorKindHardwareUnavailable ErrorKind = "hardware_unavailable"
	ErrorKindNoSpeechTimeout     ErrorKind = "no_speech_timeout"
	ErrorKindTransientNetwork    ErrorKind = "transient_network"
	ErrorKindAborted             ErrorKind = "aborted"
	ErrorKindInitialization      ErrorKind = "initialization_failure"
	ErrorKindPlaybackFailed      ErrorKind = "playback_failed"
	ErrorKindTranslation         ErrorKind = "translation_failure"
	ErrorKindUnknown             ErrorKind = "unknown"
)

// EngineErrorCode identifies raw error codes reported by a recognition engine.
type EngineErrorCode string

const (
	EngineErrNoSpeech     EngineErrorCode = "no-speech"
	EngineErrAudioCapture EngineErrorCode = "audio-capture"
	EngineErrNotAllowed   EngineErrorCode = "not-allowed"
	EngineErrNetwork      EngineErrorCode = "network"
	EngineErrAborted      EngineErrorCode = "aborted"
)

// ClassifiedError is a surfaced, user-presentable error.
type ClassifiedError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// StatusEvent is a human-readable status update.
type StatusEvent struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Hypothesis is one recognition alternative delivered by the engine.
type Hypothesis struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence"`
}

// TranscriptEvent is emitted for every interim or final hypothesis, in
// engine callback order.
type TranscriptEvent struct {
	Text      string    `json:"text"`
	IsFinal   bool      `json:"isFinal"`
	Timestamp time.Time `json:"timestamp"`
}

// VolumeReading is a live loudness sample in percent.
type VolumeReading struct {
	Level int `json:"levelPercent"`
}

// MicrophoneInfo is a point-in-time snapshot of the active input device.
type MicrophoneInfo struct {
	Label        string   `json:"label"`
	Muted        bool     `json:"muted"`
	SampleRate   int      `json:"sampleRate"`
	Capabilities []string `json:"capabilities"`
}

// SpeechRequest asks for synthesized playback of text in a language.
type SpeechRequest struct {
	Text     string `json:"text"`
	Language string `json:"languageCode"`
}

// VoiceCandidate describes one voice from the synthesis engine's catalog.
type VoiceCandidate struct {
	Name     string `json:"name"`
	Language string `json:"languageTag"`
	Native   bool   `json:"isNative"`
}

// FallbackTier names one strategy in the speech output cascade.
type FallbackTier string

const (
	TierNativeVoice      FallbackTier = "native-voice"
	TierGenericSynthesis FallbackTier = "generic-synthesis"
	TierRemoteAudio      FallbackTier = "remote-audio"
)

// TermCorrection records one terminology substitution applied to a transcript.
type TermCorrection struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TermValidation is the outcome of terminology validation on a transcript.
type TermValidation struct {
	Text        string           `json:"text"`
	TermsFound  []string         `json:"termsFound,omitempty"`
	Corrections []TermCorrection `json:"corrections,omitempty"`
	Warnings    []string         `json:"warnings,omitempty"`
}

// Translation is the downstream result for one finalized transcript segment.
type Translation struct {
	Original   string  `json:"original"`
	Translated string  `json:"translated"`
	SourceLang string  `json:"sourceLang"`
	TargetLang string  `json:"targetLang"`
	Confidence float64 `json:"confidence"`

	TermsFound  []string         `json:"termsFound,omitempty"`
	Corrections []TermCorrection `json:"corrections,omitempty"`
	Warnings    []string         `json:"warnings,omitempty"`
}

// Status summarizes the current controller status.
type Status struct {
	State   RecognitionState `json:"state"`
	Active  bool             `json:"active"`
	Message string           `json:"message,omitempty"`
}
