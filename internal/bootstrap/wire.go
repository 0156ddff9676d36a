package bootstrap

import (
	"medvoice/internal/audio"
	"medvoice/internal/bus"
	"medvoice/internal/config"
	"medvoice/internal/logging"
	"medvoice/internal/medterms"
	"medvoice/internal/ports"
	"medvoice/internal/providers/gtts"
	"medvoice/internal/providers/kokoro"
	"medvoice/internal/providers/whisper"
	"medvoice/internal/translate"
	"medvoice/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.RecognitionController
	Meter      *usecase.VolumeMeter
	Cascade    *usecase.SpeechCascade
	Forwarder  *usecase.TranscriptForwarder
	Events     *bus.Bus
	Config     config.Config
}

// Build wires all backend dependencies for the current runtime.
func Build() (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	log := logging.New(cfg.LogLevel)
	events := bus.New(log)

	validator, err := medterms.NewValidator(cfg.Terms.RulesPath)
	if err != nil {
		return Services{}, err
	}

	translator := translate.NewClient(translate.Config{
		BaseURL:           cfg.Translate.ServerURL,
		APIKey:            cfg.Translate.APIKey,
		RequestsPerMinute: cfg.Translate.RequestsPerMinute,
		BurstLimit:        cfg.Translate.BurstLimit,
		CacheSize:         cfg.Translate.CacheSize,
	}, log)

	forwarder := usecase.NewTranscriptForwarder(
		validator,
		translator,
		events,
		log,
		cfg.Speech.Language,
		cfg.Translate.TargetLanguage,
	)

	captureCfg := ports.CaptureConfig{
		SampleRate:   cfg.Capture.SampleRate,
		Channels:     cfg.Capture.Channels,
		WindowFrames: cfg.Capture.WindowFrames,
		Device:       cfg.Capture.Device,
	}

	guard := usecase.NewCaptureGuard()
	capture := audio.NewPortAudioCapture(log)

	controller := usecase.NewRecognitionController(
		capture,
		whisper.NewRecognizer(whisper.Config{
			ServerURL: cfg.Speech.ServerURL,
			APIKey:    cfg.Speech.APIKey,
			Model:     cfg.Speech.Model,
		}),
		forwarder,
		guard,
		events,
		log,
		usecase.ControllerConfig{
			Recognition: ports.RecognitionConfig{
				Language:       cfg.Speech.Language,
				Continuous:     true,
				InterimResults: cfg.Speech.InterimResults,
				SampleRate:     cfg.Capture.SampleRate,
				Channels:       cfg.Capture.Channels,
			},
			Capture:              captureCfg,
			MaxInitAttempts:      cfg.Session.MaxInitAttempts,
			MaxRestartAttempts:   cfg.Session.MaxRestartAttempts,
			NoSpeechWindow:       cfg.Session.NoSpeechWindow,
			NoSpeechRestartDelay: cfg.Session.NoSpeechRestartDelay,
			RestartSettle:        cfg.Session.RestartSettle,
		},
	)

	meter := usecase.NewVolumeMeter(capture, guard, events, log, captureCfg)

	cascade := usecase.NewSpeechCascade(
		kokoro.NewSynthesizer(kokoro.Config{
			BaseURL: cfg.Synthesis.ServerURL,
			Speed:   float32(cfg.Synthesis.Speed),
		}, log),
		gtts.NewPlayer(gtts.Config{
			CacheDir: cfg.Remote.CacheDir,
			Speed:    float32(cfg.Remote.Speed),
		}, log),
		events,
		log,
		usecase.CascadeConfig{
			StartDeadline:  cfg.Session.SpeechStartDeadline,
			CatalogTimeout: cfg.Session.CatalogTimeout,
		},
	)

	return Services{
		Controller: controller,
		Meter:      meter,
		Cascade:    cascade,
		Forwarder:  forwarder,
		Events:     events,
		Config:     cfg,
	}, nil
}
