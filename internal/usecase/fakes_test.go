package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"medvoice/internal/domain"
	"medvoice/internal/ports"
)

// waitFor polls until cond holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

type fakeCapture struct {
	mu        sync.Mutex
	accessErr error
	infoErr   error
	info      domain.MicrophoneInfo
	startErr  error
	sessions  []*fakeAudioSession
	created   []*fakeAudioSession
	calls     int
}

func (f *fakeCapture) RequestAccess(context.Context) error { return f.accessErr }

func (f *fakeCapture) Info(context.Context) (domain.MicrophoneInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeCapture) Start(_ context.Context, _ ports.CaptureConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	var session *fakeAudioSession
	if f.calls < len(f.sessions) {
		session = f.sessions[f.calls]
	} else {
		session = newFakeAudioSession()
	}
	f.calls++
	f.created = append(f.created, session)
	return session, nil
}

func (f *fakeCapture) startCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAudioSession serves queued windows, then blocks until closed.
type fakeAudioSession struct {
	mu      sync.Mutex
	windows [][]int16
	index   int
	closed  chan struct{}
	once    sync.Once
}

func newFakeAudioSession(windows ...[]int16) *fakeAudioSession {
	return &fakeAudioSession{windows: windows, closed: make(chan struct{})}
}

func (f *fakeAudioSession) ReadWindow() ([]int16, error) {
	f.mu.Lock()
	if f.index < len(f.windows) {
		window := f.windows[f.index]
		f.index++
		f.mu.Unlock()
		return window, nil
	}
	f.mu.Unlock()
	<-f.closed
	return nil, errors.New("capture session closed")
}

func (f *fakeAudioSession) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeAudioSession) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type fakeRecognizer struct {
	mu          sync.Mutex
	unavailable bool
	initErrs    []error
	initCalls   int
	startErr    error
	streams     []*fakeStream
	started     []*fakeStream
	calls       int
}

func (f *fakeRecognizer) Available() bool { return !f.unavailable }

func (f *fakeRecognizer) Init(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.initCalls
	f.initCalls++
	if call < len(f.initErrs) {
		return f.initErrs[call]
	}
	return nil
}

func (f *fakeRecognizer) Start(_ context.Context, _ ports.RecognitionConfig) (ports.RecognitionStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	var stream *fakeStream
	if f.calls < len(f.streams) {
		stream = f.streams[f.calls]
	} else {
		stream = newFakeStream()
	}
	f.calls++
	f.started = append(f.started, stream)
	return stream, nil
}

func (f *fakeRecognizer) startCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRecognizer) initAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls
}

type fakeStream struct {
	mu        sync.Mutex
	events    chan ports.EngineEvent
	sent      [][]byte
	stopCalls int
	closed    bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan ports.EngineEvent, 32)}
}

// newEndedStream returns a stream whose event channel is already closed,
// as after the engine ends the session on its own.
func newEndedStream() *fakeStream {
	stream := newFakeStream()
	stream.closed = true
	close(stream.events)
	return stream
}

func (f *fakeStream) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("stream closed")
	}
	f.sent = append(f.sent, chunk)
	return nil
}

func (f *fakeStream) Events() <-chan ports.EngineEvent { return f.events }

func (f *fakeStream) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

func (f *fakeStream) emitResult(hypotheses ...domain.Hypothesis) {
	f.events <- ports.EngineEvent{Kind: ports.EngineEventResult, Hypotheses: hypotheses}
}

func (f *fakeStream) emitError(code domain.EngineErrorCode, message string) {
	f.events <- ports.EngineEvent{Kind: ports.EngineEventError, Code: code, Message: message}
}

type fakeSink struct {
	mu           sync.Mutex
	statuses     []domain.StatusEvent
	transcripts  []domain.TranscriptEvent
	volumes      []domain.VolumeReading
	infos        []domain.MicrophoneInfo
	errors       []domain.ClassifiedError
	translations []domain.Translation
}

func (f *fakeSink) Status(message string, severity domain.Severity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, domain.StatusEvent{Message: message, Severity: severity})
}

func (f *fakeSink) Transcript(event domain.TranscriptEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, event)
}

func (f *fakeSink) Volume(reading domain.VolumeReading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, reading)
}

func (f *fakeSink) MicrophoneInfo(info domain.MicrophoneInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos = append(f.infos, info)
}

func (f *fakeSink) RecognitionError(err domain.ClassifiedError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, err)
}

func (f *fakeSink) Translation(result domain.Translation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.translations = append(f.translations, result)
}

func (f *fakeSink) snapshotStatuses() []domain.StatusEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.StatusEvent, len(f.statuses))
	copy(out, f.statuses)
	return out
}

func (f *fakeSink) snapshotTranscripts() []domain.TranscriptEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.TranscriptEvent, len(f.transcripts))
	copy(out, f.transcripts)
	return out
}

func (f *fakeSink) snapshotVolumes() []domain.VolumeReading {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.VolumeReading, len(f.volumes))
	copy(out, f.volumes)
	return out
}

func (f *fakeSink) snapshotErrors() []domain.ClassifiedError {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ClassifiedError, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeSink) snapshotTranslations() []domain.Translation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Translation, len(f.translations))
	copy(out, f.translations)
	return out
}

func (f *fakeSink) lastError() (domain.ClassifiedError, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errors) == 0 {
		return domain.ClassifiedError{}, false
	}
	return f.errors[len(f.errors)-1], true
}

func (f *fakeSink) hasErrorKind(kind domain.ErrorKind) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, err := range f.errors {
		if err.Kind == kind {
			return true
		}
	}
	return false
}

func (f *fakeSink) statusCount(message string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, status := range f.statuses {
		if status.Message == message {
			count++
		}
	}
	return count
}

type fakeTranslator struct {
	mu    sync.Mutex
	err   error
	errOn string
	texts []string
}

func (f *fakeTranslator) Translate(_ context.Context, text, sourceLang, targetLang string) (domain.Translation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil || (f.errOn != "" && f.errOn == text) {
		err := f.err
		if err == nil {
			err = errors.New("translation backend unavailable")
		}
		return domain.Translation{}, err
	}
	return domain.Translation{
		Translated: "[" + text + "]",
		SourceLang: sourceLang,
		TargetLang: targetLang,
		Confidence: 0.9,
	}, nil
}

func (f *fakeTranslator) snapshotTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

type fakeValidator struct {
	mu          sync.Mutex
	err         error
	corrected   string
	terms       []string
	corrections []domain.TermCorrection
	warnings    []string
	texts       []string
}

func (f *fakeValidator) Validate(text string) (domain.TermValidation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil {
		return domain.TermValidation{}, f.err
	}
	out := domain.TermValidation{
		Text:        text,
		TermsFound:  f.terms,
		Corrections: f.corrections,
		Warnings:    f.warnings,
	}
	if f.corrected != "" {
		out.Text = f.corrected
	}
	return out, nil
}

type fakeSynth struct {
	mu         sync.Mutex
	voices     []domain.VoiceCandidate
	ready      chan struct{}
	speakErr   error
	playbacks  []*fakePlayback
	utterances []ports.Utterance
	cancels    int
	resumes    int
	calls      int
}

func newFakeSynth(voices ...domain.VoiceCandidate) *fakeSynth {
	ready := make(chan struct{})
	close(ready)
	return &fakeSynth{voices: voices, ready: ready}
}

func (f *fakeSynth) Voices() []domain.VoiceCandidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voices
}

func (f *fakeSynth) CatalogReady() <-chan struct{} { return f.ready }

func (f *fakeSynth) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeSynth) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
}

func (f *fakeSynth) Speak(_ context.Context, utt ports.Utterance) (ports.Playback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utterances = append(f.utterances, utt)
	if f.speakErr != nil {
		return nil, f.speakErr
	}
	var playback *fakePlayback
	if f.calls < len(f.playbacks) {
		playback = f.playbacks[f.calls]
	} else {
		playback = newFakePlayback(true, nil)
	}
	f.calls++
	return playback, nil
}

func (f *fakeSynth) snapshotUtterances() []ports.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.Utterance, len(f.utterances))
	copy(out, f.utterances)
	return out
}

type fakePlayback struct {
	started     chan struct{}
	done        chan error
	mu          sync.Mutex
	cancelCalls int
}

func newFakePlayback(started bool, result error) *fakePlayback {
	p := &fakePlayback{started: make(chan struct{}), done: make(chan error, 1)}
	if started {
		close(p.started)
		p.done <- result
	}
	return p
}

func (f *fakePlayback) Started() <-chan struct{} { return f.started }

func (f *fakePlayback) Done() <-chan error { return f.done }

func (f *fakePlayback) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
}

func (f *fakePlayback) cancelled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelCalls
}

type fakeRemote struct {
	mu    sync.Mutex
	err   error
	texts []string
	langs []string
}

func (f *fakeRemote) Play(_ context.Context, text, language string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.langs = append(f.langs, language)
	return f.err
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}
