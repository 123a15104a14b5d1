package usecase

import (
	"strings"
	"sync"
	"time"

	"github.com/qfzcxdl/tranlater/internal/domain"
)

type pendingFragment struct {
	text       string
	isFinal    bool
	confidence float64
	has        bool
}

// resultSynchronizer merges fragments from the primary transcript channel and
// the optional secondary translation channel into single emitted records.
// When only one channel has fresh content it waits up to flushWindow for the
// other before emitting with whatever is available.
type resultSynchronizer struct {
	mu                 sync.Mutex
	flushWindow        time.Duration
	translationEnabled bool
	sourceLanguage     string
	targetLanguage     string

	dedup  *finalDeduplicator
	emit   func(domain.SynchronizedResult)
	onDrop func()

	primary    pendingFragment
	secondary  pendingFragment
	flushTimer *time.Timer

	// Last emitted-but-unfinalized content per channel, so a voice-activity-end
	// signal can still finalize text that already went out as interim.
	lastInterimPrimary   pendingFragment
	lastInterimSecondary pendingFragment
}

func newResultSynchronizer(
	flushWindow time.Duration,
	sourceLanguage string,
	targetLanguage string,
	dedup *finalDeduplicator,
	emit func(domain.SynchronizedResult),
	onDrop func(),
) *resultSynchronizer {
	if flushWindow <= 0 {
		flushWindow = 80 * time.Millisecond
	}
	if onDrop == nil {
		onDrop = func() {}
	}
	return &resultSynchronizer{
		flushWindow:        flushWindow,
		translationEnabled: targetLanguage != "",
		sourceLanguage:     sourceLanguage,
		targetLanguage:     targetLanguage,
		dedup:              dedup,
		emit:               emit,
		onDrop:             onDrop,
	}
}

// OnFragment records the latest content for the fragment's channel and emits
// either immediately (both channels pending, or translation disabled) or
// after the flush window elapses.
func (s *resultSynchronizer) OnFragment(fragment domain.TranscriptFragment) {
	text := strings.TrimSpace(fragment.Text)
	if text == "" {
		return
	}

	s.mu.Lock()
	pending := pendingFragment{
		text:       text,
		isFinal:    fragment.IsFinal,
		confidence: fragment.Confidence,
		has:        true,
	}
	if fragment.Channel == domain.ChannelSecondary {
		s.secondary = pending
	} else {
		s.primary = pending
	}

	if !s.translationEnabled {
		// Pass-through: never wait on a channel that will not produce data.
		result, ok := s.takeResultLocked()
		s.mu.Unlock()
		if ok {
			s.emit(result)
		}
		return
	}

	if s.primary.has && s.secondary.has {
		s.stopTimerLocked()
		result, ok := s.takeResultLocked()
		s.mu.Unlock()
		if ok {
			s.emit(result)
		}
		return
	}

	s.stopTimerLocked()
	s.flushTimer = time.AfterFunc(s.flushWindow, s.flush)
	s.mu.Unlock()
}

// ForceFinalize promotes any unfinalized pending fragment to final and routes
// it through the normal emission path. Used on voice-activity-end signals to
// avoid waiting on the provider's own, often late, final event.
func (s *resultSynchronizer) ForceFinalize() {
	s.mu.Lock()
	if !s.primary.has && !s.secondary.has {
		// Nothing mid-window; fall back to the last interim emission.
		s.primary = s.lastInterimPrimary
		s.secondary = s.lastInterimSecondary
	}
	if !s.primary.has && !s.secondary.has {
		s.mu.Unlock()
		return
	}
	if s.primary.has {
		s.primary.isFinal = true
	}
	if s.secondary.has {
		s.secondary.isFinal = true
	}
	s.stopTimerLocked()
	result, ok := s.takeResultLocked()
	s.mu.Unlock()
	if ok {
		s.emit(result)
	}
}

// Reset discards pending content and cancels the flush timer.
func (s *resultSynchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.primary = pendingFragment{}
	s.secondary = pendingFragment{}
	s.lastInterimPrimary = pendingFragment{}
	s.lastInterimSecondary = pendingFragment{}
}

func (s *resultSynchronizer) flush() {
	s.mu.Lock()
	if !s.primary.has && !s.secondary.has {
		s.mu.Unlock()
		return
	}
	result, ok := s.takeResultLocked()
	s.mu.Unlock()
	if ok {
		s.emit(result)
	}
}

// takeResultLocked builds the emitted record from pending state, consults the
// deduplicator for finals, and clears both channels. It returns ok=false when
// the deduplicator decided the final adds no new information.
func (s *resultSynchronizer) takeResultLocked() (domain.SynchronizedResult, bool) {
	original := s.primary.text
	confidence := s.primary.confidence
	isFinal := s.primary.isFinal
	if !s.primary.has {
		// Primary absent within the window: fall back to the secondary text so
		// the caption line is never empty.
		original = s.secondary.text
		confidence = s.secondary.confidence
		isFinal = s.secondary.isFinal
	}

	translated := ""
	if s.translationEnabled && s.secondary.has {
		translated = s.secondary.text
	}

	if isFinal {
		s.lastInterimPrimary = pendingFragment{}
		s.lastInterimSecondary = pendingFragment{}
	} else {
		s.lastInterimPrimary = s.primary
		s.lastInterimSecondary = s.secondary
	}
	s.primary = pendingFragment{}
	s.secondary = pendingFragment{}

	result := domain.SynchronizedResult{
		Original:       original,
		Translated:     translated,
		SourceLanguage: s.sourceLanguage,
		TargetLanguage: s.targetLanguage,
		IsFinal:        isFinal,
		Confidence:     confidence,
	}

	if !isFinal {
		result.Kind = domain.ResultKindInterim
		return result, true
	}

	switch s.dedup.Decide(original) {
	case decisionDrop:
		s.onDrop()
		return domain.SynchronizedResult{}, false
	case decisionAcceptUpdate:
		result.Kind = domain.ResultKindUpdate
	default:
		result.Kind = domain.ResultKindFinal
	}
	return result, true
}

func (s *resultSynchronizer) stopTimerLocked() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
}
