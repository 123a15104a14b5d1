package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qfzcxdl/tranlater/internal/ports"
)

// recognitionSession groups the stream handles that belong to one provider
// session. The controller is the only mutator of the "current" reference;
// components that hold a stale session see their writes dropped or buffered.
type recognitionSession struct {
	id        string
	startedAt time.Time
	cancel    context.CancelFunc

	primary ports.RecognitionStream

	secondaryMu sync.Mutex
	secondary   ports.RecognitionStream

	primaryDone   chan struct{}
	secondaryDone chan struct{}

	teardownOnce sync.Once
}

func newRecognitionSession(cancel context.CancelFunc, primary, secondary ports.RecognitionStream) *recognitionSession {
	s := &recognitionSession{
		id:            uuid.NewString(),
		startedAt:     time.Now(),
		cancel:        cancel,
		primary:       primary,
		secondary:     secondary,
		primaryDone:   make(chan struct{}),
		secondaryDone: make(chan struct{}),
	}
	if secondary == nil {
		close(s.secondaryDone)
	}
	return s
}

// dropSecondary detaches the translation stream, returning it for closing.
// Used both on teardown and when the secondary fails at runtime.
func (s *recognitionSession) dropSecondary() ports.RecognitionStream {
	s.secondaryMu.Lock()
	defer s.secondaryMu.Unlock()
	secondary := s.secondary
	s.secondary = nil
	return secondary
}

// teardown destroys both stream handles exactly once.
func (s *recognitionSession) teardown() {
	s.teardownOnce.Do(func() {
		s.cancel()
		_ = s.primary.Close()
		if secondary := s.dropSecondary(); secondary != nil {
			_ = secondary.Close()
		}
	})
}

// waitConsumers blocks until both stream consumer goroutines have exited.
func (s *recognitionSession) waitConsumers() {
	<-s.primaryDone
	<-s.secondaryDone
}
