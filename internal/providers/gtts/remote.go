package gtts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	googletts "github.com/GrailFinder/google-translate-tts"
	"github.com/GrailFinder/google-translate-tts/handlers"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog"
)

// Config controls the remote pre-rendered audio tier.
type Config struct {
	CacheDir string
	Speed    float32
}

// Player fetches pre-rendered speech from the Google Translate endpoint
// and plays it locally. It is the last tier in the output cascade.
type Player struct {
	cfg Config
	log zerolog.Logger

	mu sync.Mutex
}

func NewPlayer(cfg Config, log zerolog.Logger) *Player {
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "medvoice-tts")
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	return &Player{cfg: cfg, log: log}
}

// Play renders text in language remotely and blocks until local playback
// finishes or ctx is cancelled. Serialized: one remote clip at a time.
func (p *Player) Play(ctx context.Context, text, language string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	speech := &googletts.Speech{
		Folder:   p.cfg.CacheDir,
		Language: remoteLanguage(language),
		Speed:    p.cfg.Speed,
		Handler:  &handlers.Beep{},
	}

	reader, err := speech.GenerateSpeech(text)
	if err != nil {
		return fmt.Errorf("remote speech fetch failed: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	streamer, format, err := mp3.Decode(io.NopCloser(reader))
	if err != nil {
		return fmt.Errorf("mp3 decode failed: %w", err)
	}
	defer streamer.Close()

	ensureSpeaker(format)
	var source beep.Streamer = streamer
	if p.cfg.Speed != 1.0 {
		source = beep.ResampleRatio(3, float64(p.cfg.Speed), streamer)
	}

	done := make(chan struct{})
	ctrl := &beep.Ctrl{Streamer: beep.Seq(source, beep.Callback(func() {
		close(done)
	}))}
	speaker.Play(ctrl)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
		return ctx.Err()
	}
}

// remoteLanguage reduces a BCP-47 tag to the endpoint's two-letter code,
// keeping the Chinese regional form it requires.
func remoteLanguage(language string) string {
	language = strings.TrimSpace(language)
	if language == "" {
		return "en"
	}
	lower := strings.ToLower(language)
	if lower == "zh" || strings.HasPrefix(lower, "zh-") {
		return "zh-CN"
	}
	if idx := strings.IndexByte(lower, '-'); idx > 0 {
		return lower[:idx]
	}
	return lower
}

var speakerOnce sync.Once

func ensureSpeaker(format beep.Format) {
	speakerOnce.Do(func() {
		// The synthesis tier may already hold the device; beep tolerates a
		// failed re-init and keeps the first rate.
		_ = speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10))
	})
}
