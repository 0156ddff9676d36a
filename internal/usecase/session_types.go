package usecase

import (
	"sync"
	"time"

	"medvoice/internal/ports"
)

// listenSession holds the resources of one continuous recognition run.
type listenSession struct {
	cancel func()
	audio  ports.AudioSession
	stream ports.RecognitionStream

	pumpDone    chan struct{}
	consumeDone chan struct{}

	timerMu        sync.Mutex
	noSpeechTimer  *time.Timer
	restartTimer   *time.Timer
	restartPending bool
}

// armNoSpeech starts (or restarts) the no-speech deadline.
func (s *listenSession) armNoSpeech(window time.Duration, fire func()) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	s.armNoSpeechLocked(window, fire)
}

func (s *listenSession) armNoSpeechLocked(window time.Duration, fire func()) {
	if s.noSpeechTimer != nil {
		s.noSpeechTimer.Stop()
	}
	s.noSpeechTimer = time.AfterFunc(window, fire)
}

// resetNoSpeech re-arms the deadline. Every hypothesis counts as speech,
// interim or final.
func (s *listenSession) resetNoSpeech(window time.Duration, fire func()) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	s.armNoSpeechLocked(window, fire)
}

// tryScheduleRestart debounces no-speech restarts: only one may be pending
// at a time. Returns false while a restart is already scheduled.
func (s *listenSession) tryScheduleRestart(delay time.Duration, fire func()) bool {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.restartPending {
		return false
	}
	s.restartPending = true
	s.restartTimer = time.AfterFunc(delay, func() {
		s.timerMu.Lock()
		s.restartPending = false
		s.timerMu.Unlock()
		fire()
	})
	return true
}

// cancelTimers stops all pending timers on every session exit path.
func (s *listenSession) cancelTimers() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.noSpeechTimer != nil {
		s.noSpeechTimer.Stop()
	}
	if s.restartTimer != nil {
		s.restartTimer.Stop()
	}
	s.restartPending = false
}
