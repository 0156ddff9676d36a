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
	ErrPlaybackFailed   = errors.New("speech playback failed in every tier")
	errStartDeadline    = errors.New("playback did not start before the deadline")
	errCatalogUnloaded  = errors.New("voice catalog did not load")
	errSpeechSuperseded = errors.New("superseded by a newer speech request")
)

// CascadeConfig tunes the speech output fallback chain.
type CascadeConfig struct {
	StartDeadline  time.Duration
	SettleDelay    time.Duration
	CatalogTimeout time.Duration
}

func (c *CascadeConfig) applyDefaults() {
	if c.StartDeadline <= 0 {
		c.StartDeadline = 3 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 50 * time.Millisecond
	}
	if c.CatalogTimeout <= 0 {
		c.CatalogTimeout = 5 * time.Second
	}
}

// SpeechCascade drives speech output through an ordered list of tiers:
// native voice, generic synthesis, then remote pre-rendered audio. Calls are
// single-flight: a new Speak cancels the one in flight.
type SpeechCascade struct {
	synth  ports.Synthesizer
	remote ports.RemoteSpeech
	events ports.EventSink
	log    zerolog.Logger
	cfg    CascadeConfig

	mu     sync.Mutex
	flight *speechFlight
}

type speechFlight struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSpeechCascade(
	synth ports.Synthesizer,
	remote ports.RemoteSpeech,
	events ports.EventSink,
	log zerolog.Logger,
	cfg CascadeConfig,
) *SpeechCascade {
	cfg.applyDefaults()
	return &SpeechCascade{synth: synth, remote: remote, events: events, log: log, cfg: cfg}
}

// Speak plays text in the requested language, trying each tier in order.
// Exactly one outcome is surfaced; intermediate tier failures are only
// logged.
func (c *SpeechCascade) Speak(ctx context.Context, req domain.SpeechRequest) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil
	}

	flightCtx, cancel := context.WithCancel(ctx)
	flight := &speechFlight{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	previous := c.flight
	c.flight = flight
	c.mu.Unlock()

	if previous != nil {
		previous.cancel()
		<-previous.done
	}

	defer func() {
		c.mu.Lock()
		if c.flight == flight {
			c.flight = nil
		}
		c.mu.Unlock()
		cancel()
		close(flight.done)
	}()

	c.synth.Cancel()
	if err := sleepCtx(flightCtx, c.cfg.SettleDelay); err != nil {
		return errSpeechSuperseded
	}
	c.synth.Resume()

	lang := NormalizeLanguage(req.Language)
	voice := c.resolveVoice(flightCtx, lang)

	type tier struct {
		name domain.FallbackTier
		run  func(context.Context) error
	}
	var tiers []tier
	if voice != nil {
		voiceName := voice.Name
		tiers = append(tiers, tier{domain.TierNativeVoice, func(ctx context.Context) error {
			return c.playEngine(ctx, text, lang, voiceName)
		}})
	}
	tiers = append(tiers,
		tier{domain.TierGenericSynthesis, func(ctx context.Context) error {
			return c.playEngine(ctx, text, lang, "")
		}},
		tier{domain.TierRemoteAudio, func(ctx context.Context) error {
			return c.remote.Play(ctx, text, lang)
		}},
	)

	var lastErr error
	for _, t := range tiers {
		err := t.run(flightCtx)
		if err == nil {
			return nil
		}
		if flightCtx.Err() != nil {
			return errSpeechSuperseded
		}
		lastErr = err
		c.log.Warn().Str("tier", string(t.name)).Err(err).Msg("synthesis tier failed")
	}

	c.events.RecognitionError(domain.ClassifiedError{
		Kind:      domain.ErrorKindPlaybackFailed,
		Message:   "Unable to play synthesized speech",
		Retryable: true,
	})
	return fmt.Errorf("%w: %v", ErrPlaybackFailed, lastErr)
}

// Cancel discards any in-flight speech without starting new output.
func (c *SpeechCascade) Cancel() {
	c.mu.Lock()
	flight := c.flight
	c.mu.Unlock()
	if flight != nil {
		flight.cancel()
	}
	c.synth.Cancel()
}

// resolveVoice waits (bounded) for the voice catalog and picks the best
// candidate for lang, or nil when only generic synthesis is possible.
func (c *SpeechCascade) resolveVoice(ctx context.Context, lang string) *domain.VoiceCandidate {
	voices := c.synth.Voices()
	if len(voices) == 0 {
		select {
		case <-c.synth.CatalogReady():
		case <-time.After(c.cfg.CatalogTimeout):
			c.log.Warn().Err(errCatalogUnloaded).Msg("continuing without a voice catalog")
			return nil
		case <-ctx.Done():
			return nil
		}
		voices = c.synth.Voices()
	}
	return PickVoice(voices, lang)
}

func (c *SpeechCascade) playEngine(ctx context.Context, text, lang, voice string) error {
	playback, err := c.synth.Speak(ctx, ports.Utterance{Text: text, Language: lang, Voice: voice})
	if err != nil {
		return err
	}

	deadline := time.NewTimer(c.cfg.StartDeadline)
	defer deadline.Stop()

	select {
	case <-playback.Started():
	case err := <-playback.Done():
		// Finished (or failed) before audio was confirmed audible.
		return err
	case <-deadline.C:
		playback.Cancel()
		return errStartDeadline
	case <-ctx.Done():
		playback.Cancel()
		return ctx.Err()
	}

	select {
	case err := <-playback.Done():
		return err
	case <-ctx.Done():
		playback.Cancel()
		return ctx.Err()
	}
}

// PickVoice prefers a native matching-language voice, then any matching
// voice. It returns nil when no voice matches lang.
func PickVoice(voices []domain.VoiceCandidate, lang string) *domain.VoiceCandidate {
	base := baseLanguage(lang)
	var fallback *domain.VoiceCandidate
	for i := range voices {
		voice := &voices[i]
		if !languageMatches(voice.Language, lang, base) {
			continue
		}
		if voice.Native {
			return voice
		}
		if fallback == nil {
			fallback = voice
		}
	}
	return fallback
}

// NormalizeLanguage canonicalizes a BCP-47-ish tag. All Chinese variants
// collapse to a single regional tag.
func NormalizeLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return "en-US"
	}
	lower := strings.ToLower(lang)
	if lower == "zh" || strings.HasPrefix(lower, "zh-") {
		return "zh-CN"
	}
	parts := strings.SplitN(lower, "-", 2)
	if len(parts) == 2 && parts[1] != "" {
		return parts[0] + "-" + strings.ToUpper(parts[1])
	}
	return lower
}

func baseLanguage(lang string) string {
	if idx := strings.IndexByte(lang, '-'); idx > 0 {
		return strings.ToLower(lang[:idx])
	}
	return strings.ToLower(lang)
}

func languageMatches(voiceLang, lang, base string) bool {
	voiceLang = strings.TrimSpace(voiceLang)
	if voiceLang == "" {
		return false
	}
	if strings.EqualFold(voiceLang, lang) {
		return true
	}
	return baseLanguage(voiceLang) == base
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
