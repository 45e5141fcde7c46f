package history

import (
	"testing"
	"time"
)

func qualifyingSession(start time.Time, content []byte) EditSession {
	return EditSession{
		ID:              "ses_test",
		StartTime:       start,
		LastEditTime:    start.Add(12 * time.Second),
		EditCount:       4,
		InitialSnapshot: oneBlock,
		CurrentSnapshot: content,
		Significant:     true,
	}
}

func TestGateAllowsQualifyingSession(t *testing.T) {
	gate := NewGate(DefaultConfig())
	start := time.Now()

	if !gate.Allow(qualifyingSession(start, twoBlocks), start.Add(12*time.Second)) {
		t.Fatal("expected a significant 12s session with 4 edits to be allowed")
	}
}

func TestGateRejectsUnreadySessions(t *testing.T) {
	gate := NewGate(DefaultConfig())
	start := time.Now()
	now := start.Add(12 * time.Second)

	insignificant := qualifyingSession(start, twoBlocks)
	insignificant.Significant = false
	if gate.Allow(insignificant, now) {
		t.Fatal("expected insignificant session to be rejected")
	}

	short := qualifyingSession(start, twoBlocks)
	if gate.Allow(short, start.Add(9*time.Second)) {
		t.Fatal("expected session shorter than the minimum duration to be rejected")
	}

	few := qualifyingSession(start, twoBlocks)
	few.EditCount = 2
	if gate.Allow(few, now) {
		t.Fatal("expected session with fewer than 3 edits to be rejected")
	}
}

func TestGateWindowLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VersionWindow = 5 * time.Minute
	cfg.MaxVersionsPerWindow = 1
	gate := NewGate(cfg)
	start := time.Now()

	first := start.Add(12 * time.Second)
	if !gate.Allow(qualifyingSession(start, twoBlocks), first) {
		t.Fatal("expected first commit to be allowed")
	}
	gate.Record(twoBlocks, first)

	second := first.Add(time.Second)
	if gate.Allow(qualifyingSession(start.Add(time.Second), threeBlocks), second) {
		t.Fatal("expected second commit within the window to be rejected")
	}

	later := first.Add(5*time.Minute + time.Millisecond)
	if !gate.Allow(qualifyingSession(later.Add(-12*time.Second), threeBlocks), later) {
		t.Fatal("expected commit after the window to be allowed")
	}
	if gate.Count(later) != 0 {
		t.Fatalf("expected evicted window, got %d entries", gate.Count(later))
	}
}

func TestGateSkipsDuplicateSnapshot(t *testing.T) {
	gate := NewGate(DefaultConfig())
	start := time.Now()
	now := start.Add(12 * time.Second)

	gate.Record(twoBlocks, now)
	same := []byte(` [ {"content":"Hello","type":"paragraph"}, {"type":"paragraph","content":"World"} ] `)
	if gate.Allow(qualifyingSession(start, same), now.Add(time.Second)) {
		t.Fatal("expected snapshot equal to the last committed one to be rejected")
	}
	if !gate.Allow(qualifyingSession(start, threeBlocks), now.Add(time.Second)) {
		t.Fatal("expected a different snapshot to be allowed")
	}
}

func TestGateForceAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxVersionsPerWindow = 1
	gate := NewGate(cfg)
	now := time.Now()
	gate.Record(oneBlock, now)

	session := EditSession{ID: "s", StartTime: now, LastEditTime: now, EditCount: 1, Significant: true}
	if !gate.ForceAllowed(session) {
		t.Fatal("expected forced commit of a significant session to bypass window, duration and count")
	}
	session.Significant = false
	if gate.ForceAllowed(session) {
		t.Fatal("expected forced commit of an insignificant session to be refused")
	}
}
