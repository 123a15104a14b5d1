package usecase

import (
	"strings"
	"sync"
	"time"
)

// dedupDecision is the outcome of comparing a new final against the last one.
type dedupDecision string

const (
	decisionAcceptNew    dedupDecision = "accept-new"
	decisionAcceptUpdate dedupDecision = "accept-update"
	decisionDrop         dedupDecision = "drop"
)

// finalDeduplicator detects the same utterance being finalized twice across
// reconnect or VAD boundaries. Its state deliberately survives session
// restarts, since overlap typically happens because of a restart; it is reset
// only on explicit stop.
type finalDeduplicator struct {
	mu            sync.Mutex
	window        time.Duration
	overlapRatio  float64
	minOverlapLen int
	now           func() time.Time

	lastFinalText      string
	lastFinalEmittedAt time.Time
}

func newFinalDeduplicator(window time.Duration, overlapRatio float64, minOverlapLen int) *finalDeduplicator {
	if window <= 0 {
		window = 8 * time.Second
	}
	if overlapRatio <= 0 {
		overlapRatio = 0.70
	}
	if minOverlapLen <= 0 {
		minOverlapLen = 10
	}
	return &finalDeduplicator{
		window:        window,
		overlapRatio:  overlapRatio,
		minOverlapLen: minOverlapLen,
		now:           time.Now,
	}
}

// IsOverlapping reports whether newText overlaps the previously accepted
// final. Finals older than the dedup window belong to a new utterance and
// never overlap.
func (d *finalDeduplicator) IsOverlapping(newText string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overlapsLocked(normalizeFinal(newText))
}

// Decide classifies a new final against the stored state and updates the
// state on every accepted decision.
func (d *finalDeduplicator) Decide(newText string) dedupDecision {
	trimmed := strings.TrimSpace(newText)
	normalized := strings.ToLower(trimmed)

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.overlapsLocked(normalized) {
		d.acceptLocked(trimmed)
		return decisionAcceptNew
	}
	if len(normalized) > len(normalizeFinal(d.lastFinalText)) {
		d.acceptLocked(trimmed)
		return decisionAcceptUpdate
	}
	return decisionDrop
}

func (d *finalDeduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastFinalText = ""
	d.lastFinalEmittedAt = time.Time{}
}

func (d *finalDeduplicator) acceptLocked(text string) {
	d.lastFinalText = text
	d.lastFinalEmittedAt = d.now()
}

func (d *finalDeduplicator) overlapsLocked(normalized string) bool {
	previous := normalizeFinal(d.lastFinalText)
	if previous == "" || normalized == "" {
		return false
	}
	if d.now().Sub(d.lastFinalEmittedAt) > d.window {
		return false
	}
	if previous == normalized {
		return true
	}
	if strings.HasPrefix(previous, normalized) || strings.HasPrefix(normalized, previous) {
		return true
	}

	shorter := len(previous)
	if len(normalized) < shorter {
		shorter = len(normalized)
	}
	// Short utterances are exempt from fuzzy matching to avoid false positives.
	if shorter < d.minOverlapLen {
		return false
	}
	common := longestCommonPrefixLen(previous, normalized)
	return float64(common)/float64(shorter) >= d.overlapRatio
}

func normalizeFinal(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func longestCommonPrefixLen(a, b string) int {
	limit := len(a)
	if len(b) < limit {
		limit = len(b)
	}
	for i := 0; i < limit; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return limit
}
