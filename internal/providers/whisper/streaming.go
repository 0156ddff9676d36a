package whisper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"medvoice/internal/domain"
	"medvoice/internal/ports"
)

// Config controls the whisper streaming server connection.
type Config struct {
	ServerURL string
	APIKey    string
	Model     string
}

// Recognizer implements ports.Recognizer against a whisper streaming server.
type Recognizer struct {
	cfg Config
}

func NewRecognizer(cfg Config) *Recognizer {
	if cfg.Model == "" {
		cfg.Model = "base"
	}
	return &Recognizer{cfg: cfg}
}

// Available reports whether a streaming endpoint is configured at all.
func (r *Recognizer) Available() bool {
	return strings.TrimSpace(r.cfg.ServerURL) != ""
}

// Init dials the streaming endpoint once and closes it cleanly. A cold
// server loading its model rejects this probe, which the caller retries.
func (r *Recognizer) Init(ctx context.Context) error {
	wsURL, err := buildStreamURL(r.cfg, ports.RecognitionConfig{})
	if err != nil {
		return err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, r.headers())
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("recognition engine is not ready: %w", err)
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}

func (r *Recognizer) Start(ctx context.Context, cfg ports.RecognitionConfig) (ports.RecognitionStream, error) {
	if !r.Available() {
		return nil, errors.New("whisper server URL is not configured")
	}

	wsURL, err := buildStreamURL(r.cfg, cfg)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, r.headers())
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to whisper websocket: %w", err)
	}

	session := &streamSession{
		conn:     conn,
		events:   make(chan ports.EngineEvent, 64),
		audio:    make(chan []byte, 32),
		sendDone: make(chan struct{}),
		done:     make(chan struct{}),
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.events)
		close(session.done)
		_ = conn.Close()
	}()

	go func() {
		<-ctx.Done()
		_ = session.Stop()
	}()

	return session, nil
}

func (r *Recognizer) headers() http.Header {
	headers := http.Header{}
	if r.cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}
	return headers
}

type streamSession struct {
	conn *websocket.Conn

	events   chan ports.EngineEvent
	audio    chan []byte
	sendDone chan struct{}
	done     chan struct{}

	wg sync.WaitGroup

	stopOnce      sync.Once
	closeSendOnce sync.Once
	stopped       atomic.Bool
}

func (s *streamSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.sendDone:
		return errors.New("audio stream is already closed")
	case <-s.done:
		return errors.New("session closed")
	}
}

func (s *streamSession) Events() <-chan ports.EngineEvent {
	return s.events
}

func (s *streamSession) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.closeSend()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// closeSend signals the write loop to flush and finish. The audio channel is
// never closed, so a racing SendAudio cannot panic.
func (s *streamSession) closeSend() {
	s.closeSendOnce.Do(func() { close(s.sendDone) })
}

func (s *streamSession) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		case <-s.sendDone:
			// Flush buffered audio before the stop sentinel.
			for {
				select {
				case chunk := <-s.audio:
					if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
						return
					}
				default:
					_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`))
					_ = s.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (s *streamSession) readLoop() {
	defer s.wg.Done()
	// The server ending the stream must also unblock the write loop so
	// the event channel closes and the session winds down on its own.
	defer s.closeSend()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			// A locally requested stop is not an engine failure.
			if !s.stopped.Load() && !isExpectedClose(err) {
				s.emit(ports.EngineEvent{
					Kind:    ports.EngineEventError,
					Code:    domain.EngineErrNetwork,
					Message: err.Error(),
				})
			}
			return
		}

		var message serverMessage
		if err := json.Unmarshal(payload, &message); err != nil {
			continue
		}
		s.dispatch(message)
	}
}

func (s *streamSession) dispatch(message serverMessage) {
	switch strings.ToLower(message.Type) {
	case "partial", "final":
		text := strings.TrimSpace(message.Text)
		if text == "" {
			return
		}
		s.emit(ports.EngineEvent{
			Kind: ports.EngineEventResult,
			Hypotheses: []domain.Hypothesis{{
				Text:       text,
				IsFinal:    strings.EqualFold(message.Type, "final"),
				Confidence: message.Confidence,
			}},
		})
	case "error":
		s.emit(ports.EngineEvent{
			Kind:    ports.EngineEventError,
			Code:    mapErrorCode(message.ErrorCode),
			Message: strings.TrimSpace(message.Message),
		})
	}
}

func (s *streamSession) emit(event ports.EngineEvent) {
	select {
	case s.events <- event:
	case <-s.done:
	}
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) || errors.Is(err, websocket.ErrCloseSent)
}

type serverMessage struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	ErrorCode  string  `json:"error_code"`
	Message    string  `json:"message"`
}

// mapErrorCode folds server error codes onto the engine error vocabulary.
// Unknown codes pass through and classify as unrecoverable upstream.
func mapErrorCode(code string) domain.EngineErrorCode {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "no-speech", "no_speech":
		return domain.EngineErrNoSpeech
	case "audio-capture", "audio_capture":
		return domain.EngineErrAudioCapture
	case "not-allowed", "not_allowed", "unauthorized":
		return domain.EngineErrNotAllowed
	case "network", "service-unavailable":
		return domain.EngineErrNetwork
	case "aborted":
		return domain.EngineErrAborted
	default:
		return domain.EngineErrorCode(strings.TrimSpace(code))
	}
}

func buildStreamURL(providerCfg Config, streamCfg ports.RecognitionConfig) (string, error) {
	base := strings.TrimSpace(providerCfg.ServerURL)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	streamURL, err := url.Parse(base + "/v1/stream")
	if err != nil {
		return "", fmt.Errorf("invalid whisper server URL: %w", err)
	}

	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = 1
	}

	query := streamURL.Query()
	query.Set("model", providerCfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", fmt.Sprintf("%d", streamCfg.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", streamCfg.Channels))
	query.Set("interim_results", fmt.Sprintf("%t", streamCfg.InterimResults))
	if streamCfg.Language != "" {
		query.Set("language", streamCfg.Language)
	}
	streamURL.RawQuery = query.Encode()
	return streamURL.String(), nil
}
