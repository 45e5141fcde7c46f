package history

import (
	"time"

	"folio/api/internal/util"
)

// EditSession is a run of consecutive local edits. Values are never modified
// in place; the Tracker returns a new value for every update.
type EditSession struct {
	ID              string
	StartTime       time.Time
	LastEditTime    time.Time
	EditCount       int
	InitialSnapshot []byte
	CurrentSnapshot []byte
	Significant     bool
}

func (s EditSession) Duration(now time.Time) time.Duration {
	return now.Sub(s.StartTime)
}

func (s EditSession) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastEditTime)
}

// Tracker folds edits into sessions.
type Tracker struct {
	classifier Classifier
	newID      func() string
}

func NewTracker(classifier Classifier) Tracker {
	return Tracker{
		classifier: classifier,
		newID:      func() string { return util.NewID("ses") },
	}
}

// Start opens a session from the first edit after idle.
func (t Tracker) Start(content []byte, now time.Time) EditSession {
	snapshot := cloneBytes(content)
	return EditSession{
		ID:              t.newID(),
		StartTime:       now,
		LastEditTime:    now,
		EditCount:       1,
		InitialSnapshot: snapshot,
		CurrentSnapshot: snapshot,
	}
}

// Update returns session with one more edit applied. Significance is measured
// against the snapshot the session started from and never reverts.
func (t Tracker) Update(session EditSession, content []byte, now time.Time) EditSession {
	next := session
	next.EditCount++
	next.LastEditTime = now
	next.CurrentSnapshot = cloneBytes(content)
	if !next.Significant {
		next.Significant = t.classifier.Compare(session.InitialSnapshot, next.CurrentSnapshot)
	}
	return next
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	return append([]byte(nil), in...)
}
