package usecase

import (
	"testing"
	"time"
)

func TestDeduplicatorFirstFinalIsAlwaysNew(t *testing.T) {
	t.Parallel()

	dedup := newFinalDeduplicator(8*time.Second, 0.70, 10)
	if got := dedup.Decide("hello world"); got != decisionAcceptNew {
		t.Fatalf("expected accept-new, got %s", got)
	}
	if dedup.lastFinalText != "hello world" {
		t.Fatalf("state not updated: %q", dedup.lastFinalText)
	}
}

func TestDeduplicatorDropsShorterResend(t *testing.T) {
	t.Parallel()

	dedup := newFinalDeduplicator(8*time.Second, 0.70, 10)
	dedup.Decide("good morning everyone")

	if got := dedup.Decide("good morning"); got != decisionDrop {
		t.Fatalf("expected drop, got %s", got)
	}
	if dedup.lastFinalText != "good morning everyone" {
		t.Fatalf("drop must leave state unchanged, got %q", dedup.lastFinalText)
	}
}

func TestDeduplicatorEqualResendIsDropped(t *testing.T) {
	t.Parallel()

	dedup := newFinalDeduplicator(8*time.Second, 0.70, 10)
	dedup.Decide("Hello World")
	if got := dedup.Decide("  hello world  "); got != decisionDrop {
		t.Fatalf("expected case/space-insensitive drop, got %s", got)
	}
}

func TestDeduplicatorLongerOverlapIsUpdate(t *testing.T) {
	t.Parallel()

	dedup := newFinalDeduplicator(8*time.Second, 0.70, 10)
	dedup.Decide("hello")
	if got := dedup.Decide("hello world"); got != decisionAcceptUpdate {
		t.Fatalf("expected accept-update, got %s", got)
	}
	if dedup.lastFinalText != "hello world" {
		t.Fatalf("update must replace state, got %q", dedup.lastFinalText)
	}
}

func TestDeduplicatorFuzzyPrefixRatio(t *testing.T) {
	t.Parallel()

	dedup := newFinalDeduplicator(8*time.Second, 0.70, 10)
	dedup.Decide("the quick brown fox")

	// 14 of 19 leading characters match on the shorter side: ratio ~0.74.
	if got := dedup.Decide("the quick browXYZ fox jumps over"); got != decisionAcceptUpdate {
		t.Fatalf("expected fuzzy overlap update, got %s", got)
	}
}

func TestDeduplicatorShortUtterancesSkipFuzzyMatch(t *testing.T) {
	t.Parallel()

	dedup := newFinalDeduplicator(8*time.Second, 0.70, 10)
	dedup.Decide("thank yoo")

	// 8 of 9 leading characters match, but both sides are under the minimum
	// length gate, so fuzzy matching is skipped.
	if got := dedup.Decide("thank you"); got != decisionAcceptNew {
		t.Fatalf("expected accept-new for short near-match, got %s", got)
	}
}

func TestDeduplicatorShortPrefixStillOverlaps(t *testing.T) {
	t.Parallel()

	dedup := newFinalDeduplicator(8*time.Second, 0.70, 10)
	dedup.Decide("okay")
	if got := dedup.Decide("okay then"); got != decisionAcceptUpdate {
		t.Fatalf("expected prefix overlap update, got %s", got)
	}
}

func TestDeduplicatorWindowExpiry(t *testing.T) {
	t.Parallel()

	dedup := newFinalDeduplicator(8*time.Second, 0.70, 10)
	now := time.Now()
	dedup.now = func() time.Time { return now }
	dedup.Decide("hello world out there")

	dedup.now = func() time.Time { return now.Add(9 * time.Second) }
	if got := dedup.Decide("hello world out there"); got != decisionAcceptNew {
		t.Fatalf("finals older than the window never overlap, got %s", got)
	}
}

func TestDeduplicatorReset(t *testing.T) {
	t.Parallel()

	dedup := newFinalDeduplicator(8*time.Second, 0.70, 10)
	dedup.Decide("something said")
	dedup.Reset()
	if dedup.lastFinalText != "" || !dedup.lastFinalEmittedAt.IsZero() {
		t.Fatalf("expected cleared state after reset")
	}
	if got := dedup.Decide("something said"); got != decisionAcceptNew {
		t.Fatalf("expected accept-new after reset, got %s", got)
	}
}

func TestIsOverlapping(t *testing.T) {
	t.Parallel()

	dedup := newFinalDeduplicator(8*time.Second, 0.70, 10)
	if dedup.IsOverlapping("anything") {
		t.Fatalf("no prior final must never overlap")
	}
	dedup.Decide("streaming captions are hard")
	if !dedup.IsOverlapping("streaming captions are hard to test") {
		t.Fatalf("expected prefix overlap")
	}
	if dedup.IsOverlapping("completely different words") {
		t.Fatalf("unexpected overlap")
	}
}

func TestLongestCommonPrefixLen(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "abc", 3},
		{"abcdef", "abcxyz", 3},
		{"short", "shorter", 5},
	}
	for _, tc := range cases {
		if got := longestCommonPrefixLen(tc.a, tc.b); got != tc.want {
			t.Fatalf("prefix(%q,%q)=%d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
