package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"folio/api/internal/store"
)

var (
	// ErrPersistence wraps a failed write to the version store.
	ErrPersistence = errors.New("version store write failed")
	// ErrHandleClosed is returned by every operation after Close.
	ErrHandleClosed = errors.New("document handle closed")
)

// Source tells who authored an edit.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

type VersionCreator interface {
	Create(ctx context.Context, input store.NewVersion) (store.Version, error)
}

// EventHandlers are invoked after the manager releases its lock. Nil handlers
// are skipped.
type EventHandlers struct {
	OnSessionStart   func(sessionID string)
	OnSessionEnd     func(sessionID string, versionCreated bool)
	OnVersionCreated func(version store.Version)
}

type SessionStats struct {
	SessionID         string
	Duration          time.Duration
	EditCount         int
	Significant       bool
	TimeSinceLastEdit time.Duration
}

type Options struct {
	DocumentID string
	// Author is stamped on every version this manager creates.
	Author    string
	Config    Config
	Store     VersionCreator
	Scheduler Scheduler
	Logger    *slog.Logger
	Events    EventHandlers
}

// Manager runs the version history pipeline for one opened document handle:
// debounced edits feed the session tracker, the gate decides, and qualifying
// sessions are written to the store. Two managers for the same document share
// nothing.
type Manager struct {
	documentID string
	author     string
	cfg        Config
	store      VersionCreator
	sched      Scheduler
	logger     *slog.Logger
	events     EventHandlers
	tracker    Tracker
	gate       *Gate

	mu         sync.Mutex
	session    *EditSession
	debounce   slot
	waiter     chan bool
	inactivity slot
	idleGen    uint64
	committing bool
	closed     bool
}

func NewManager(opts Options) (*Manager, error) {
	documentID := strings.TrimSpace(opts.DocumentID)
	if documentID == "" {
		return nil, errors.New("document id is required")
	}
	if opts.Store == nil {
		return nil, errors.New("version store is required")
	}
	cfg := opts.Config.withDefaults()
	sched := opts.Scheduler
	if sched == nil {
		sched = SystemScheduler()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		documentID: documentID,
		author:     strings.TrimSpace(opts.Author),
		cfg:        cfg,
		store:      opts.Store,
		sched:      sched,
		logger:     logger.With("document_id", documentID),
		events:     opts.Events,
		tracker:    NewTracker(NewClassifier(cfg)),
		gate:       NewGate(cfg),
	}, nil
}

func (m *Manager) DocumentID() string {
	return m.documentID
}

// HandleContentChange debounces a content change and reports whether it led
// to an automatic version. It blocks until the debounce delay elapses; a call
// superseded by a newer change returns false as soon as it is superseded.
// Remote edits are ignored. Canceling ctx only stops the wait: the change
// stays pending and is folded when the debounce fires.
func (m *Manager) HandleContentChange(ctx context.Context, content []byte, title string, source Source) (bool, error) {
	result, err := m.SubmitContentChange(ctx, content, title, source)
	if err != nil {
		return false, err
	}
	select {
	case created := <-result:
		return created, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// SubmitContentChange registers a content change and arms its debounce
// without waiting. Changes are folded in the order they are submitted, so the
// last submitted content wins. The returned channel receives exactly one
// value: whether the change led to an automatic version.
func (m *Manager) SubmitContentChange(ctx context.Context, content []byte, title string, source Source) (<-chan bool, error) {
	result := make(chan bool, 1)
	if source != SourceLocal {
		m.logger.Debug("ignoring non-local edit", "source", string(source))
		result <- false
		return result, nil
	}
	edit := cloneBytes(content)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrHandleClosed
	}
	m.supersedeLocked()
	m.waiter = result
	m.debounce.replace(m.sched.AfterFunc(m.cfg.Debounce, func() {
		m.flush(ctx, result, edit, title)
	}))
	return result, nil
}

// flush runs once the debounce delay passed without a newer edit.
func (m *Manager) flush(ctx context.Context, result chan<- bool, content []byte, title string) {
	m.mu.Lock()
	if m.closed || m.waiter != result {
		m.mu.Unlock()
		return
	}
	m.waiter = nil
	m.debounce.clear()

	var events []func()
	now := m.sched.Now()
	var session EditSession
	if m.session == nil {
		session = m.tracker.Start(content, now)
		events = append(events, m.sessionStarted(session.ID))
	} else {
		session = m.tracker.Update(*m.session, content, now)
	}
	m.session = &session
	m.armInactivityLocked(session.ID)

	if !m.gate.Allow(session, now) {
		m.mu.Unlock()
		fire(events)
		result <- false
		return
	}
	if m.committing {
		m.mu.Unlock()
		m.logger.Debug("commit in flight; automatic version skipped", "session_id", session.ID)
		fire(events)
		result <- false
		return
	}
	m.committing = true
	m.mu.Unlock()
	fire(events)

	_, err := m.commit(context.WithoutCancel(ctx), store.NewVersion{
		DocumentID: m.documentID,
		Title:      title,
		Content:    session.CurrentSnapshot,
		ChangeType: store.ChangeEdit,
		Author:     m.author,
	}, session.ID)
	if err != nil {
		m.logger.Warn("automatic version not created", "session_id", session.ID, "error", err)
		result <- false
		return
	}
	result <- true
}

// ManualCreateVersion saves content unconditionally as an EDIT version and
// returns its id. The id is empty when another commit was already in flight.
func (m *Manager) ManualCreateVersion(ctx context.Context, content []byte, title, summary string) (string, error) {
	return m.commitNow(ctx, store.NewVersion{
		DocumentID: m.documentID,
		Title:      title,
		Content:    cloneBytes(content),
		ChangeType: store.ChangeEdit,
		Summary:    summary,
		Author:     m.author,
	})
}

// CreateTitleChangeVersion saves content unconditionally as a TITLE version
// describing the rename.
func (m *Manager) CreateTitleChangeVersion(ctx context.Context, content []byte, newTitle, oldTitle string) (string, error) {
	return m.commitNow(ctx, store.NewVersion{
		DocumentID: m.documentID,
		Title:      newTitle,
		Content:    cloneBytes(content),
		ChangeType: store.ChangeTitle,
		Summary:    renameSummary(oldTitle, newTitle),
		Author:     m.author,
	})
}

// EndCurrentSession ends the active session. When content is supplied and the
// session is significant, one last version is written first, regardless of
// the rate window.
func (m *Manager) EndCurrentSession(ctx context.Context, content []byte, title string) (bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, ErrHandleClosed
	}
	m.supersedeLocked()
	if m.session == nil {
		m.mu.Unlock()
		return false, nil
	}
	session := *m.session
	if content == nil || !m.gate.ForceAllowed(session) || m.committing {
		m.endSessionLocked()
		m.mu.Unlock()
		fire([]func(){m.sessionEnded(session.ID, false)})
		return false, nil
	}
	m.committing = true
	m.mu.Unlock()

	_, err := m.commit(ctx, store.NewVersion{
		DocumentID: m.documentID,
		Title:      title,
		Content:    cloneBytes(content),
		ChangeType: store.ChangeEdit,
		Author:     m.author,
	}, session.ID)
	if err != nil {
		m.mu.Lock()
		ended := false
		if m.session != nil && m.session.ID == session.ID {
			m.endSessionLocked()
			ended = true
		}
		m.mu.Unlock()
		if ended {
			fire([]func(){m.sessionEnded(session.ID, false)})
		}
		return false, err
	}
	return true, nil
}

// SessionStats describes the active session, if any.
func (m *Manager) SessionStats() (SessionStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return SessionStats{}, false
	}
	now := m.sched.Now()
	return SessionStats{
		SessionID:         m.session.ID,
		Duration:          m.session.Duration(now),
		EditCount:         m.session.EditCount,
		Significant:       m.session.Significant,
		TimeSinceLastEdit: m.session.IdleFor(now),
	}, true
}

// Close cancels pending timers and ends the active session without saving.
// Later calls return ErrHandleClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.supersedeLocked()
	ended := m.endSessionLocked()
	m.mu.Unlock()
	if ended != "" {
		fire([]func(){m.sessionEnded(ended, false)})
	}
}

func (m *Manager) commitNow(ctx context.Context, input store.NewVersion) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrHandleClosed
	}
	if m.committing {
		m.mu.Unlock()
		m.logger.Debug("commit in flight; save skipped", "change_type", string(input.ChangeType))
		return "", nil
	}
	m.committing = true
	m.mu.Unlock()

	version, err := m.commit(ctx, input, "")
	if err != nil {
		return "", err
	}
	return version.ID, nil
}

// commit writes input while the committing flag is held by the caller. On
// success it records the snapshot in the rate window and ends the session it
// supersedes: sessionID, or whichever session is active when sessionID is empty.
func (m *Manager) commit(ctx context.Context, input store.NewVersion, sessionID string) (store.Version, error) {
	version, err := m.store.Create(ctx, input)

	m.mu.Lock()
	m.committing = false
	if err != nil {
		m.mu.Unlock()
		return store.Version{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	m.gate.Record(input.Content, m.sched.Now())
	events := []func(){m.versionCreated(version)}
	if m.session != nil && (sessionID == "" || m.session.ID == sessionID) {
		events = append(events, m.sessionEnded(m.endSessionLocked(), true))
	}
	m.mu.Unlock()

	m.logger.Info("version created",
		"version_id", version.ID,
		"sequence", version.SequenceNumber,
		"change_type", string(version.ChangeType),
	)
	fire(events)
	return version, nil
}

// supersedeLocked cancels the pending debounce and releases its waiter.
func (m *Manager) supersedeLocked() {
	m.debounce.cancel()
	if m.waiter != nil {
		m.waiter <- false
		m.waiter = nil
	}
}

func (m *Manager) armInactivityLocked(sessionID string) {
	m.idleGen++
	gen := m.idleGen
	m.inactivity.replace(m.sched.AfterFunc(m.cfg.SessionTimeout, func() {
		m.expire(sessionID, gen)
	}))
}

func (m *Manager) expire(sessionID string, gen uint64) {
	m.mu.Lock()
	if m.session == nil || m.session.ID != sessionID || m.idleGen != gen {
		m.mu.Unlock()
		return
	}
	if m.committing {
		// The commit ends the session when it succeeds; otherwise the session
		// times out one period later.
		m.armInactivityLocked(sessionID)
		m.mu.Unlock()
		return
	}
	m.inactivity.clear()
	m.session = nil
	m.mu.Unlock()

	m.logger.Debug("session timed out", "session_id", sessionID)
	fire([]func(){m.sessionEnded(sessionID, false)})
}

func (m *Manager) endSessionLocked() string {
	if m.session == nil {
		return ""
	}
	id := m.session.ID
	m.session = nil
	m.inactivity.cancel()
	return id
}

func (m *Manager) sessionStarted(sessionID string) func() {
	return func() {
		m.logger.Debug("session started", "session_id", sessionID)
		if m.events.OnSessionStart != nil {
			m.events.OnSessionStart(sessionID)
		}
	}
}

func (m *Manager) sessionEnded(sessionID string, versionCreated bool) func() {
	return func() {
		if m.events.OnSessionEnd != nil {
			m.events.OnSessionEnd(sessionID, versionCreated)
		}
	}
}

func (m *Manager) versionCreated(version store.Version) func() {
	return func() {
		if m.events.OnVersionCreated != nil {
			m.events.OnVersionCreated(version)
		}
	}
}

func fire(events []func()) {
	for _, event := range events {
		event()
	}
}

func renameSummary(oldTitle, newTitle string) string {
	oldTitle = strings.TrimSpace(oldTitle)
	newTitle = strings.TrimSpace(newTitle)
	if oldTitle == "" {
		return fmt.Sprintf("Title set to %q", newTitle)
	}
	return fmt.Sprintf("Renamed from %q to %q", oldTitle, newTitle)
}
