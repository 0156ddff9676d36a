package bus

import (
	"sync"

	"github.com/rs/zerolog"

	"medvoice/internal/domain"
)

// EventType identifies the payload carried by an Event.
type EventType string

const (
	EventStatus      EventType = "status"
	EventTranscript  EventType = "transcript"
	EventVolume      EventType = "volume"
	EventMicrophone  EventType = "microphone"
	EventError       EventType = "error"
	EventTranslation EventType = "translation"
)

// Event is one published notification. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type        EventType               `json:"type"`
	Status      *domain.StatusEvent     `json:"status,omitempty"`
	Transcript  *domain.TranscriptEvent `json:"transcript,omitempty"`
	Volume      *domain.VolumeReading   `json:"volume,omitempty"`
	Microphone  *domain.MicrophoneInfo  `json:"microphone,omitempty"`
	Error       *domain.ClassifiedError `json:"error,omitempty"`
	Translation *domain.Translation     `json:"translation,omitempty"`
}

// Bus is a typed publish/subscribe channel between the controllers and the
// presentation layer. It implements ports.EventSink. Publishing never blocks;
// a subscriber that falls behind loses its oldest events.
type Bus struct {
	log zerolog.Logger

	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func New(log zerolog.Logger) *Bus {
	return &Bus{log: log, subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber with the given buffer size and
// returns its channel plus a cancel func. The channel is closed on cancel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}

	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
			continue
		default:
		}

		// Full buffer: drop the oldest event and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
		default:
			b.log.Debug().Int("subscriber", id).Str("type", string(event.Type)).Msg("dropped bus event")
		}
	}
}

func (b *Bus) Status(message string, severity domain.Severity) {
	b.publish(Event{Type: EventStatus, Status: &domain.StatusEvent{Message: message, Severity: severity}})
}

func (b *Bus) Transcript(event domain.TranscriptEvent) {
	b.publish(Event{Type: EventTranscript, Transcript: &event})
}

func (b *Bus) Volume(reading domain.VolumeReading) {
	b.publish(Event{Type: EventVolume, Volume: &reading})
}

func (b *Bus) MicrophoneInfo(info domain.MicrophoneInfo) {
	b.publish(Event{Type: EventMicrophone, Microphone: &info})
}

func (b *Bus) RecognitionError(err domain.ClassifiedError) {
	b.publish(Event{Type: EventError, Error: &err})
}

func (b *Bus) Translation(result domain.Translation) {
	b.publish(Event{Type: EventTranslation, Translation: &result})
}
