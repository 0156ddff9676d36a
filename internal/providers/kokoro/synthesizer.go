package kokoro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
	"github.com/rs/zerolog"

	"medvoice/internal/domain"
	"medvoice/internal/ports"
)

var errCancelled = errors.New("synthesis cancelled")

// Config controls the Kokoro synthesis server connection.
// See https://github.com/remsky/Kokoro-FastAPI for the server side.
type Config struct {
	BaseURL string
	Speed   float32
	Timeout time.Duration
}

// Synthesizer renders speech through a Kokoro server and plays it on the
// local speaker. The voice catalog loads in the background so startup is
// never blocked on the server.
type Synthesizer struct {
	cfg    Config
	log    zerolog.Logger
	client *http.Client

	tokenizer *sentences.DefaultSentenceTokenizer

	mu      sync.Mutex
	voices  []domain.VoiceCandidate
	current *playback
	ready   chan struct{}
}

func NewSynthesizer(cfg Config, log zerolog.Logger) *Synthesizer {
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	tokenizer, _ := english.NewSentenceTokenizer(nil)
	s := &Synthesizer{
		cfg:       cfg,
		log:       log,
		client:    &http.Client{Timeout: cfg.Timeout},
		tokenizer: tokenizer,
		ready:     make(chan struct{}),
	}
	go s.loadCatalog()
	return s
}

// Voices returns the catalog snapshot, empty until the load completes.
func (s *Synthesizer) Voices() []domain.VoiceCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voices
}

func (s *Synthesizer) CatalogReady() <-chan struct{} {
	return s.ready
}

func (s *Synthesizer) loadCatalog() {
	defer close(s.ready)

	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(s.cfg.BaseURL, "/")+"/v1/audio/voices", nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("voice catalog request invalid")
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn().Err(err).Msg("voice catalog unavailable")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.log.Warn().Int("status", resp.StatusCode).Msg("voice catalog request rejected")
		return
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		s.log.Warn().Err(err).Msg("voice catalog read failed")
		return
	}
	voices, err := parseCatalog(payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("voice catalog parse failed")
		return
	}

	s.mu.Lock()
	s.voices = voices
	s.mu.Unlock()
	s.log.Info().Int("voices", len(voices)).Msg("voice catalog loaded")
}

func parseCatalog(payload []byte) ([]domain.VoiceCandidate, error) {
	var body struct {
		Voices []string `json:"voices"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, err
	}

	voices := make([]domain.VoiceCandidate, 0, len(body.Voices))
	for _, name := range body.Voices {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		voices = append(voices, domain.VoiceCandidate{
			Name:     name,
			Language: voiceLanguage(name),
			Native:   true,
		})
	}
	return voices, nil
}

// voiceLanguage derives the language tag from a Kokoro voice name. The
// first letter encodes the voice pack's language.
func voiceLanguage(name string) string {
	if name == "" {
		return "en-US"
	}
	switch name[0] {
	case 'a':
		return "en-US"
	case 'b':
		return "en-GB"
	case 'e':
		return "es-ES"
	case 'f':
		return "fr-FR"
	case 'h':
		return "hi-IN"
	case 'i':
		return "it-IT"
	case 'j':
		return "ja-JP"
	case 'p':
		return "pt-BR"
	case 'z':
		return "zh-CN"
	default:
		return "en-US"
	}
}

// langCode folds a language tag back onto Kokoro's one-letter pack code.
func langCode(language string) string {
	lower := strings.ToLower(language)
	switch {
	case lower == "en-gb":
		return "b"
	case strings.HasPrefix(lower, "en"):
		return "a"
	case strings.HasPrefix(lower, "es"):
		return "e"
	case strings.HasPrefix(lower, "fr"):
		return "f"
	case strings.HasPrefix(lower, "hi"):
		return "h"
	case strings.HasPrefix(lower, "it"):
		return "i"
	case strings.HasPrefix(lower, "ja"):
		return "j"
	case strings.HasPrefix(lower, "pt"):
		return "p"
	case strings.HasPrefix(lower, "zh"):
		return "z"
	default:
		return "a"
	}
}

// Speak starts asynchronous synthesis and playback of one utterance. Long
// text is split into sentences so the first audio arrives quickly.
func (s *Synthesizer) Speak(ctx context.Context, utt ports.Utterance) (ports.Playback, error) {
	text := strings.TrimSpace(utt.Text)
	if text == "" {
		return nil, errors.New("nothing to synthesize")
	}

	p := newPlayback()
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()

	go s.run(ctx, p, text, utt)
	return p, nil
}

func (s *Synthesizer) run(ctx context.Context, p *playback, text string, utt ports.Utterance) {
	chunks := s.split(text)
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			p.finish(ctx.Err())
			return
		}
		if p.isCancelled() {
			p.finish(errCancelled)
			return
		}

		body, err := s.requestSound(ctx, chunk, utt)
		if err != nil {
			p.finish(fmt.Errorf("synthesis request failed: %w", err))
			return
		}
		err = p.play(body, i == 0)
		_ = body.Close()
		if err != nil {
			p.finish(err)
			return
		}
	}
	p.finish(nil)
}

// split breaks text into sentence-sized synthesis chunks.
func (s *Synthesizer) split(text string) []string {
	if s.tokenizer == nil {
		return []string{text}
	}
	parts := s.tokenizer.Tokenize(text)
	if len(parts) <= 1 {
		return []string{text}
	}
	chunks := make([]string, 0, len(parts))
	for _, part := range parts {
		if chunk := strings.TrimSpace(part.Text); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

func (s *Synthesizer) requestSound(ctx context.Context, text string, utt ports.Utterance) (io.ReadCloser, error) {
	voice := utt.Voice
	if voice == "" {
		voice = defaultVoiceFor(utt.Language)
	}
	payload := map[string]any{
		"input":           text,
		"voice":           voice,
		"response_format": "mp3",
		"download_format": "mp3",
		"stream":          false,
		"speed":           s.cfg.Speed,
		"lang_code":       langCode(utt.Language),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.cfg.BaseURL, "/")+"/v1/audio/speech", bytes.NewBuffer(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// defaultVoiceFor picks a generic pack voice when no catalog voice was
// resolved for the request.
func defaultVoiceFor(language string) string {
	switch langCode(language) {
	case "b":
		return "bf_emma"
	case "e":
		return "ef_dora"
	case "f":
		return "ff_siwis"
	case "h":
		return "hf_alpha"
	case "i":
		return "if_sara"
	case "j":
		return "jf_alpha"
	case "p":
		return "pf_dora"
	case "z":
		return "zf_xiaobei"
	default:
		return "af_bella"
	}
}

// Cancel discards the in-flight playback, if any.
func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current != nil {
		current.Cancel()
	}
}

// Resume clears a paused speaker after a Cancel so the next utterance
// plays immediately.
func (s *Synthesizer) Resume() {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current != nil {
		current.resume()
	}
}

// Shared speaker state. The device opens once at the first playback's
// sample rate; later streams resample onto it.
var (
	speakerOnce sync.Once
	speakerRate beep.SampleRate
)

func ensureSpeaker(format beep.Format) {
	speakerOnce.Do(func() {
		speakerRate = format.SampleRate
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			speakerRate = 0
		}
	})
}

type playback struct {
	started chan struct{}
	done    chan error
	cancel  chan struct{}

	startOnce  sync.Once
	finishOnce sync.Once
	cancelOnce sync.Once

	mu        sync.Mutex
	ctrl      *beep.Ctrl
	cancelled bool
}

func newPlayback() *playback {
	return &playback{
		started: make(chan struct{}),
		done:    make(chan error, 1),
		cancel:  make(chan struct{}),
	}
}

func (p *playback) Started() <-chan struct{} { return p.started }

func (p *playback) Done() <-chan error { return p.done }

func (p *playback) Cancel() {
	p.mu.Lock()
	p.cancelled = true
	ctrl := p.ctrl
	p.mu.Unlock()

	if ctrl != nil {
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
	}
	p.cancelOnce.Do(func() { close(p.cancel) })
	p.finish(errCancelled)
}

func (p *playback) resume() {
	p.mu.Lock()
	ctrl := p.ctrl
	p.mu.Unlock()
	if ctrl != nil {
		speaker.Lock()
		ctrl.Paused = false
		speaker.Unlock()
	}
}

func (p *playback) isCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

func (p *playback) finish(err error) {
	p.finishOnce.Do(func() {
		if err != nil {
			p.done <- err
		} else {
			p.done <- nil
		}
	})
}

// play decodes one mp3 chunk and blocks until the speaker drains it.
func (p *playback) play(body io.Reader, first bool) error {
	streamer, format, err := mp3.Decode(io.NopCloser(bufferAll(body)))
	if err != nil {
		return fmt.Errorf("mp3 decode failed: %w", err)
	}
	defer streamer.Close()

	ensureSpeaker(format)
	var source beep.Streamer = streamer
	if speakerRate != 0 && format.SampleRate != speakerRate {
		source = beep.Resample(4, format.SampleRate, speakerRate, streamer)
	}

	chunkDone := make(chan struct{})
	ctrl := &beep.Ctrl{Streamer: beep.Seq(source, beep.Callback(func() {
		close(chunkDone)
	}))}

	p.mu.Lock()
	if p.cancelled {
		p.mu.Unlock()
		return errCancelled
	}
	p.ctrl = ctrl
	p.mu.Unlock()

	speaker.Play(ctrl)
	if first {
		p.startOnce.Do(func() { close(p.started) })
	}

	// A cancelled ctrl never reaches its callback, so wait on both.
	select {
	case <-chunkDone:
	case <-p.cancel:
		return errCancelled
	}

	p.mu.Lock()
	p.ctrl = nil
	cancelled := p.cancelled
	p.mu.Unlock()
	if cancelled {
		return errCancelled
	}
	return nil
}

// bufferAll reads the full response before decoding so a slow network
// cannot starve the speaker mid-sentence.
func bufferAll(r io.Reader) *bytes.Reader {
	data, err := io.ReadAll(r)
	if err != nil {
		return bytes.NewReader(nil)
	}
	return bytes.NewReader(data)
}
