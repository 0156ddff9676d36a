package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"medvoice/internal/domain"
	"medvoice/internal/ports"
)

// TranscriptForwarder hands each finalized transcript segment, exactly once
// and in order, through terminology validation to the translation backend.
// Enqueue never blocks the recognition callback path.
type TranscriptForwarder struct {
	validator  ports.TermValidator
	translator ports.Translator
	events     ports.EventSink
	log        zerolog.Logger

	sourceLang string
	targetLang string
	timeout    time.Duration

	mu      sync.Mutex
	pending []string
	wake    chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	drained   chan struct{}
}

func NewTranscriptForwarder(
	validator ports.TermValidator,
	translator ports.Translator,
	events ports.EventSink,
	log zerolog.Logger,
	sourceLang, targetLang string,
) *TranscriptForwarder {
	f := &TranscriptForwarder{
		validator:  validator,
		translator: translator,
		events:     events,
		log:        log,
		sourceLang: sourceLang,
		targetLang: targetLang,
		timeout:    15 * time.Second,
		wake:       make(chan struct{}, 1),
		closed:     make(chan struct{}),
		drained:    make(chan struct{}),
	}
	go f.worker()
	return f
}

// Enqueue schedules one finalized segment for forwarding.
func (f *TranscriptForwarder) Enqueue(text string) {
	if text == "" {
		return
	}
	f.mu.Lock()
	f.pending = append(f.pending, text)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Close stops the worker after the current segment finishes.
func (f *TranscriptForwarder) Close() {
	f.closeOnce.Do(func() {
		close(f.closed)
		<-f.drained
	})
}

func (f *TranscriptForwarder) worker() {
	defer close(f.drained)
	for {
		select {
		case <-f.closed:
			return
		case <-f.wake:
		}

		for {
			f.mu.Lock()
			if len(f.pending) == 0 {
				f.mu.Unlock()
				break
			}
			text := f.pending[0]
			f.pending = f.pending[1:]
			f.mu.Unlock()

			f.forward(text)
		}
	}
}

func (f *TranscriptForwarder) forward(text string) {
	outgoing := text
	var terms []string
	var corrections []domain.TermCorrection
	var warnings []string

	if f.validator != nil {
		validation, err := f.validator.Validate(text)
		if err != nil {
			// Validation never blocks forwarding; fall back to raw text.
			f.log.Warn().Err(err).Msg("terminology validation failed")
		} else {
			if validation.Text != "" {
				outgoing = validation.Text
			}
			terms = validation.TermsFound
			corrections = validation.Corrections
			warnings = validation.Warnings
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	result, err := f.translator.Translate(ctx, outgoing, f.sourceLang, f.targetLang)
	cancel()
	if err != nil {
		f.log.Warn().Err(err).Str("text", outgoing).Msg("translation failed")
		f.events.RecognitionError(domain.ClassifiedError{
			Kind:      domain.ErrorKindTranslation,
			Message:   "Translation failed for the last phrase",
			Retryable: true,
		})
		return
	}

	result.Original = text
	result.TermsFound = terms
	result.Corrections = corrections
	result.Warnings = warnings
	f.events.Translation(result)
}
