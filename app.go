package main

import (
	"context"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"medvoice/internal/bootstrap"
	"medvoice/internal/bus"
	"medvoice/internal/config"
	"medvoice/internal/domain"
	"medvoice/internal/usecase"
)

const (
	eventStatus      = "medvoice:status"
	eventTranscript  = "medvoice:transcript"
	eventVolume      = "medvoice:volume"
	eventMicrophone  = "medvoice:microphone"
	eventError       = "medvoice:error"
	eventTranslation = "medvoice:translation"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	controller *usecase.RecognitionController
	meter      *usecase.VolumeMeter
	cascade    *usecase.SpeechCascade
	forwarder  *usecase.TranscriptForwarder
	events     *bus.Bus
	cfg        config.Config
	bootErr    error

	cancelEvents func()
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build()
	if err != nil {
		a.bootErr = err
		runtime.EventsEmit(ctx, eventError, map[string]string{
			"kind":    string(domain.ErrorKindInitialization),
			"message": err.Error(),
		})
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.meter = services.Meter
	a.cascade = services.Cascade
	a.forwarder = services.Forwarder
	a.events = services.Events

	ch, cancel := services.Events.Subscribe(64)
	a.cancelEvents = cancel
	go a.forwardEvents(ch)
}

func (a *App) shutdown(_ context.Context) {
	if a.controller != nil {
		a.controller.Stop()
	}
	if a.meter != nil {
		a.meter.Stop()
	}
	if a.cascade != nil {
		a.cascade.Cancel()
	}
	if a.forwarder != nil {
		a.forwarder.Close()
	}
	if a.cancelEvents != nil {
		a.cancelEvents()
	}
}

func (a *App) forwardEvents(ch <-chan bus.Event) {
	for event := range ch {
		runtime.EventsEmit(a.ctx, eventName(event.Type), eventPayload(event))
	}
}

// StartRecording begins a continuous recognition session. Initialization is
// idempotent and also clears a prior fatal state.
func (a *App) StartRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	a.meter.Stop()
	if err := a.controller.Initialize(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	if err := a.controller.Start(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// StopRecording ends the current recognition session.
func (a *App) StopRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	a.controller.Stop()
	return a.controller.Status(), nil
}

// TestMicrophone starts the standalone level meter so the user can verify
// input before a session.
func (a *App) TestMicrophone() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.meter.Start(a.ctx)
}

// StopMicrophoneTest stops the level meter.
func (a *App) StopMicrophoneTest() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.meter.Stop()
	return nil
}

// Speak plays text through the output cascade. Playback during an active
// listening session is allowed but flagged, since the speaker can feed the
// microphone.
func (a *App) Speak(text, language string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if a.controller.Status().Active {
		a.events.Status("Playing audio while the microphone is listening", domain.SeverityWarning)
	}
	go func() {
		// Failures are surfaced on the event bus by the cascade.
		_ = a.cascade.Speak(a.ctx, domain.SpeechRequest{Text: text, Language: language})
	}()
	return nil
}

// GetStatus returns the current recognition status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.StateFatal, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.StateIdle, Active: false}
	}
	return a.controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"recognizer":     "Whisper",
		"model":          a.cfg.Speech.Model,
		"language":       a.cfg.Speech.Language,
		"targetLanguage": a.cfg.Translate.TargetLanguage,
		"synthesizer":    a.cfg.Synthesis.ServerURL,
		"rulesFile":      a.cfg.Terms.RulesPath,
		"audioInput":     a.cfg.Capture.Device,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func eventName(t bus.EventType) string {
	switch t {
	case bus.EventStatus:
		return eventStatus
	case bus.EventTranscript:
		return eventTranscript
	case bus.EventVolume:
		return eventVolume
	case bus.EventMicrophone:
		return eventMicrophone
	case bus.EventError:
		return eventError
	case bus.EventTranslation:
		return eventTranslation
	default:
		return "medvoice:" + string(t)
	}
}

func eventPayload(event bus.Event) any {
	switch event.Type {
	case bus.EventStatus:
		return event.Status
	case bus.EventTranscript:
		return event.Transcript
	case bus.EventVolume:
		return event.Volume
	case bus.EventMicrophone:
		return event.Microphone
	case bus.EventError:
		return event.Error
	case bus.EventTranslation:
		return event.Translation
	default:
		return event
	}
}
