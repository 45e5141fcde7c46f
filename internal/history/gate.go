package history

import (
	"time"

	"folio/api/internal/blocks"
)

type windowEntry struct {
	at          time.Time
	contentHash string
}

// Gate decides when a session may become a version. It keeps a sliding window
// of recent commits and is not safe for concurrent use; the Manager owns it.
type Gate struct {
	window       time.Duration
	maxPerWindow int
	minDuration  time.Duration
	minEditCount int
	entries      []windowEntry
}

func NewGate(cfg Config) *Gate {
	cfg = cfg.withDefaults()
	return &Gate{
		window:       cfg.VersionWindow,
		maxPerWindow: cfg.MaxVersionsPerWindow,
		minDuration:  cfg.MinSessionDuration,
		minEditCount: cfg.MinEditCount,
	}
}

// Allow reports whether an automatic commit of session may happen at now.
// It also refuses a snapshot identical to the last committed one.
func (g *Gate) Allow(session EditSession, now time.Time) bool {
	g.evict(now)
	if !session.Significant {
		return false
	}
	if session.Duration(now) < g.minDuration {
		return false
	}
	if session.EditCount < g.minEditCount {
		return false
	}
	if len(g.entries) >= g.maxPerWindow {
		return false
	}
	if n := len(g.entries); n > 0 && g.entries[n-1].contentHash == blocks.Hash(session.CurrentSnapshot) {
		return false
	}
	return true
}

// ForceAllowed skips the window, duration and edit count checks but still
// refuses an insignificant session.
func (g *Gate) ForceAllowed(session EditSession) bool {
	return session.Significant
}

// Record pushes a committed snapshot into the window.
func (g *Gate) Record(content []byte, now time.Time) {
	g.evict(now)
	g.entries = append(g.entries, windowEntry{at: now, contentHash: blocks.Hash(content)})
}

// Count returns the number of commits inside the window ending at now.
func (g *Gate) Count(now time.Time) int {
	g.evict(now)
	return len(g.entries)
}

func (g *Gate) evict(now time.Time) {
	cutoff := now.Add(-g.window)
	keep := 0
	for keep < len(g.entries) && g.entries[keep].at.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		g.entries = append(g.entries[:0], g.entries[keep:]...)
	}
}
