package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"folio/api/internal/store"
)

type fakeTask struct {
	sched    *fakeScheduler
	at       time.Time
	delay    time.Duration
	fn       func()
	fired    bool
	canceled bool
}

func (t *fakeTask) Cancel() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	if t.fired || t.canceled {
		return false
	}
	t.canceled = true
	return true
}

// fakeScheduler runs callbacks synchronously from Advance in due order.
type fakeScheduler struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*fakeTask
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeScheduler) AfterFunc(delay time.Duration, fn func()) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &fakeTask{sched: s, at: s.now.Add(delay), delay: delay, fn: fn}
	s.tasks = append(s.tasks, task)
	return task
}

func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	for {
		var next *fakeTask
		for _, task := range s.tasks {
			if task.fired || task.canceled || task.at.After(target) {
				continue
			}
			if next == nil || task.at.Before(next.at) {
				next = task
			}
		}
		if next == nil {
			break
		}
		next.fired = true
		s.now = next.at
		s.mu.Unlock()
		next.fn()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

func (s *fakeScheduler) scheduled(delay time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, task := range s.tasks {
		if task.delay == delay {
			count++
		}
	}
	return count
}

func (s *fakeScheduler) waitScheduled(t *testing.T, delay time.Duration, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.scheduled(delay) < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for task with delay %s", delay)
		}
		time.Sleep(time.Millisecond)
	}
}

type fakeStore struct {
	*store.MemoryStore
	createFn func(ctx context.Context, input store.NewVersion) (store.Version, error)
}

func (f *fakeStore) Create(ctx context.Context, input store.NewVersion) (store.Version, error) {
	if f.createFn != nil {
		return f.createFn(ctx, input)
	}
	return f.MemoryStore.Create(ctx, input)
}

type sessionEnd struct {
	id      string
	created bool
}

type harness struct {
	t     *testing.T
	cfg   Config
	sched *fakeScheduler
	store *fakeStore
	m     *Manager

	mu      sync.Mutex
	started []string
	ended   []sessionEnd
	created []store.Version
}

type editResult struct {
	created bool
	err     error
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		cfg:   cfg.withDefaults(),
		sched: newFakeScheduler(),
		store: &fakeStore{MemoryStore: store.NewMemoryStore()},
	}
	m, err := NewManager(Options{
		DocumentID: "doc-1",
		Author:     "Avery",
		Config:     cfg,
		Store:      h.store,
		Scheduler:  h.sched,
		Events: EventHandlers{
			OnSessionStart: func(id string) {
				h.mu.Lock()
				defer h.mu.Unlock()
				h.started = append(h.started, id)
			},
			OnSessionEnd: func(id string, created bool) {
				h.mu.Lock()
				defer h.mu.Unlock()
				h.ended = append(h.ended, sessionEnd{id: id, created: created})
			},
			OnVersionCreated: func(version store.Version) {
				h.mu.Lock()
				defer h.mu.Unlock()
				h.created = append(h.created, version)
			},
		},
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(m.Close)
	h.m = m
	return h
}

// submit starts a local edit and waits until its debounce task is scheduled.
func (h *harness) submit(content []byte) <-chan editResult {
	h.t.Helper()
	before := h.sched.scheduled(h.cfg.Debounce)
	out := make(chan editResult, 1)
	go func() {
		created, err := h.m.HandleContentChange(context.Background(), content, "Plan", SourceLocal)
		out <- editResult{created: created, err: err}
	}()
	h.sched.waitScheduled(h.t, h.cfg.Debounce, before+1)
	return out
}

func (h *harness) await(out <-chan editResult) editResult {
	h.t.Helper()
	select {
	case res := <-out:
		return res
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for HandleContentChange")
		return editResult{}
	}
}

// edit submits content and lets the debounce elapse.
func (h *harness) edit(content []byte) editResult {
	h.t.Helper()
	out := h.submit(content)
	h.sched.Advance(h.cfg.Debounce)
	return h.await(out)
}

func (h *harness) versions() []store.Version {
	h.t.Helper()
	items, err := h.store.List(context.Background(), "doc-1", 100)
	if err != nil {
		h.t.Fatalf("List() error = %v", err)
	}
	return items
}

func (h *harness) events() ([]string, []sessionEnd, []store.Version) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.started...), append([]sessionEnd(nil), h.ended...), append([]store.Version(nil), h.created...)
}

func paragraphs(n int) []byte {
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, fmt.Sprintf(`{"type":"paragraph","content":"line %d"}`, i))
	}
	return []byte("[" + strings.Join(parts, ",") + "]")
}

func TestManagerCommitsQualifyingSession(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	steps := []struct {
		content []byte
		pause   time.Duration
	}{
		{content: oneBlock, pause: 3 * time.Second},
		{content: oneBlock},
		{content: twoBlocks, pause: 3 * time.Second},
	}
	for i, step := range steps {
		res := h.edit(step.content)
		if res.err != nil || res.created {
			t.Fatalf("edit %d: unexpected result %+v", i, res)
		}
		h.sched.Advance(step.pause)
	}

	stats, ok := h.m.SessionStats()
	if !ok || stats.EditCount != 3 || !stats.Significant {
		t.Fatalf("unexpected session stats: %+v ok=%v", stats, ok)
	}

	res := h.edit(twoBlocks)
	if res.err != nil || !res.created {
		t.Fatalf("expected fourth edit to create a version, got %+v", res)
	}

	versions := h.versions()
	if len(versions) != 1 {
		t.Fatalf("expected 1 version, got %d", len(versions))
	}
	if versions[0].ChangeType != store.ChangeEdit || versions[0].Author != "Avery" || versions[0].Title != "Plan" {
		t.Fatalf("unexpected version: %+v", versions[0])
	}
	if string(versions[0].Content) != string(twoBlocks) {
		t.Fatalf("expected committed content to be the last snapshot, got %s", versions[0].Content)
	}

	if _, ok := h.m.SessionStats(); ok {
		t.Fatal("expected session to end after the commit")
	}
	started, ended, created := h.events()
	if len(started) != 1 || len(ended) != 1 || len(created) != 1 {
		t.Fatalf("unexpected events: started=%v ended=%v created=%d", started, ended, len(created))
	}
	if ended[0].id != started[0] || !ended[0].created {
		t.Fatalf("expected session %s to end with a version, got %+v", started[0], ended[0])
	}
	if created[0].ID != versions[0].ID {
		t.Fatal("expected version-created event for the stored version")
	}
}

func TestManagerRespectsRateWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSessionDuration = time.Millisecond
	cfg.MaxVersionsPerWindow = 2
	h := newHarness(t, cfg)

	commits := 0
	for i := 1; i <= 15; i++ {
		res := h.edit(paragraphs(i))
		if res.err != nil {
			t.Fatalf("edit %d: error = %v", i, res.err)
		}
		if res.created {
			commits++
		}
	}
	if commits != 2 {
		t.Fatalf("expected 2 automatic versions inside the window, got %d", commits)
	}
	if len(h.versions()) != 2 {
		t.Fatalf("expected 2 stored versions, got %d", len(h.versions()))
	}
}

func TestManagerIgnoresRemoteEdits(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	created, err := h.m.HandleContentChange(context.Background(), twoBlocks, "Plan", SourceRemote)
	if err != nil || created {
		t.Fatalf("HandleContentChange() = %v, %v", created, err)
	}
	if h.sched.scheduled(h.cfg.Debounce) != 0 {
		t.Fatal("remote edit must not schedule a debounce")
	}
	if _, ok := h.m.SessionStats(); ok {
		t.Fatal("remote edit must not start a session")
	}
}

func TestManagerSupersededChangeReturnsFalse(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	first := h.submit(oneBlock)
	second := h.submit(twoBlocks)

	if res := h.await(first); res.created || res.err != nil {
		t.Fatalf("expected superseded change to return false, got %+v", res)
	}

	h.sched.Advance(h.cfg.Debounce)
	if res := h.await(second); res.err != nil {
		t.Fatalf("second change error = %v", res.err)
	}

	stats, ok := h.m.SessionStats()
	if !ok || stats.EditCount != 1 {
		t.Fatalf("expected one folded edit, got %+v ok=%v", stats, ok)
	}
}

func TestManagerInactivityEndsSession(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.edit(oneBlock)
	h.sched.Advance(30 * time.Second)
	h.edit(twoBlocks)
	h.sched.Advance(59 * time.Second)
	if _, ok := h.m.SessionStats(); !ok {
		t.Fatal("each edit should reset the inactivity timer")
	}

	h.sched.Advance(time.Second)
	if _, ok := h.m.SessionStats(); ok {
		t.Fatal("expected session to time out")
	}
	started, ended, _ := h.events()
	if len(ended) != 1 || ended[0].id != started[0] || ended[0].created {
		t.Fatalf("expected timed out session to end without a version, got %+v", ended)
	}
	if len(h.versions()) != 0 {
		t.Fatal("timeout must not create a version")
	}
}

func TestManualCreateVersionWithoutSession(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	id, err := h.m.ManualCreateVersion(context.Background(), oneBlock, "Plan", "Checkpoint before review")
	if err != nil {
		t.Fatalf("ManualCreateVersion() error = %v", err)
	}
	if id == "" {
		t.Fatal("expected a version id")
	}

	version, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if version.ChangeType != store.ChangeEdit || version.Summary != "Checkpoint before review" {
		t.Fatalf("unexpected manual version: %+v", version)
	}
	_, ended, created := h.events()
	if len(created) != 1 || len(ended) != 0 {
		t.Fatalf("expected one version event and no session end, got created=%d ended=%v", len(created), ended)
	}
}

func TestManualCreateVersionEndsActiveSession(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.edit(oneBlock)
	if _, err := h.m.ManualCreateVersion(context.Background(), oneBlock, "Plan", ""); err != nil {
		t.Fatalf("ManualCreateVersion() error = %v", err)
	}
	if _, ok := h.m.SessionStats(); ok {
		t.Fatal("expected manual save to end the session")
	}
	_, ended, _ := h.events()
	if len(ended) != 1 || !ended[0].created {
		t.Fatalf("expected session end with version, got %+v", ended)
	}
}

func TestCreateTitleChangeVersion(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	id, err := h.m.CreateTitleChangeVersion(context.Background(), oneBlock, "Roadmap 2027", "Roadmap")
	if err != nil {
		t.Fatalf("CreateTitleChangeVersion() error = %v", err)
	}
	version, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if version.ChangeType != store.ChangeTitle || version.Title != "Roadmap 2027" {
		t.Fatalf("unexpected title version: %+v", version)
	}
	if version.Summary != `Renamed from "Roadmap" to "Roadmap 2027"` {
		t.Fatalf("unexpected summary %q", version.Summary)
	}
}

func TestManualSaveFailureWrapsPersistenceError(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.store.createFn = func(context.Context, store.NewVersion) (store.Version, error) {
		return store.Version{}, errors.New("connection reset")
	}

	id, err := h.m.ManualCreateVersion(context.Background(), oneBlock, "Plan", "")
	if !errors.Is(err, ErrPersistence) || id != "" {
		t.Fatalf("expected ErrPersistence, got id=%q err=%v", id, err)
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected cause in error, got %v", err)
	}
}

func TestAutomaticSaveFailureIsQuiet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSessionDuration = time.Millisecond
	h := newHarness(t, cfg)
	h.store.createFn = func(context.Context, store.NewVersion) (store.Version, error) {
		return store.Version{}, errors.New("timeout")
	}

	h.edit(paragraphs(1))
	h.edit(paragraphs(2))
	res := h.edit(paragraphs(3))
	if res.err != nil || res.created {
		t.Fatalf("expected failed automatic commit to report false without error, got %+v", res)
	}
	if _, ok := h.m.SessionStats(); !ok {
		t.Fatal("expected session to survive a failed automatic commit")
	}
}

func TestConcurrentCommitIsDropped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSessionDuration = time.Millisecond
	cfg.MinEditCount = 1
	h := newHarness(t, cfg)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.store.createFn = func(ctx context.Context, input store.NewVersion) (store.Version, error) {
		close(entered)
		<-release
		return h.store.MemoryStore.Create(ctx, input)
	}

	h.edit(oneBlock)

	manual := make(chan string, 1)
	go func() {
		id, _ := h.m.ManualCreateVersion(context.Background(), oneBlock, "Plan", "first")
		manual <- id
	}()
	<-entered

	id, err := h.m.ManualCreateVersion(context.Background(), oneBlock, "Plan", "second")
	if err != nil || id != "" {
		t.Fatalf("expected concurrent manual save to be dropped, got id=%q err=%v", id, err)
	}
	if res := h.edit(twoBlocks); res.created || res.err != nil {
		t.Fatalf("expected automatic commit during a commit to be dropped, got %+v", res)
	}

	close(release)
	select {
	case id := <-manual:
		if id == "" {
			t.Fatal("expected the first manual save to succeed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for manual save")
	}
	if len(h.versions()) != 1 {
		t.Fatalf("expected exactly one stored version, got %d", len(h.versions()))
	}
}

func TestEndCurrentSessionForcesSignificantSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxVersionsPerWindow = 1
	h := newHarness(t, cfg)

	if _, err := h.m.ManualCreateVersion(context.Background(), oneBlock, "Plan", ""); err != nil {
		t.Fatalf("ManualCreateVersion() error = %v", err)
	}
	h.edit(oneBlock)
	h.edit(twoBlocks)

	created, err := h.m.EndCurrentSession(context.Background(), twoBlocks, "Plan")
	if err != nil || !created {
		t.Fatalf("EndCurrentSession() = %v, %v", created, err)
	}
	if len(h.versions()) != 2 {
		t.Fatalf("expected the forced version despite a full window, got %d versions", len(h.versions()))
	}
	_, ended, _ := h.events()
	if len(ended) != 1 || !ended[0].created {
		t.Fatalf("expected session end with version, got %+v", ended)
	}
}

func TestEndCurrentSessionWithoutCommit(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	if created, err := h.m.EndCurrentSession(context.Background(), nil, ""); err != nil || created {
		t.Fatalf("EndCurrentSession() with no session = %v, %v", created, err)
	}

	h.edit(oneBlock)
	h.edit(oneBlock)
	created, err := h.m.EndCurrentSession(context.Background(), oneBlock, "Plan")
	if err != nil || created {
		t.Fatalf("expected insignificant session to end without a version, got %v, %v", created, err)
	}
	if len(h.versions()) != 0 {
		t.Fatal("insignificant session must not be saved")
	}

	h.edit(oneBlock)
	h.edit(twoBlocks)
	created, err = h.m.EndCurrentSession(context.Background(), nil, "")
	if err != nil || created {
		t.Fatalf("expected session without content to end without a version, got %v, %v", created, err)
	}
	_, ended, _ := h.events()
	if len(ended) != 2 || ended[0].created || ended[1].created {
		t.Fatalf("unexpected session ends: %+v", ended)
	}
}

func TestManagerClose(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.edit(oneBlock)
	pending := h.submit(twoBlocks)
	h.m.Close()

	if res := h.await(pending); res.created || res.err != nil {
		t.Fatalf("expected pending change to be released with false, got %+v", res)
	}
	if _, err := h.m.HandleContentChange(context.Background(), oneBlock, "Plan", SourceLocal); !errors.Is(err, ErrHandleClosed) {
		t.Fatalf("expected ErrHandleClosed, got %v", err)
	}
	if _, err := h.m.ManualCreateVersion(context.Background(), oneBlock, "Plan", ""); !errors.Is(err, ErrHandleClosed) {
		t.Fatalf("expected ErrHandleClosed, got %v", err)
	}
	_, ended, _ := h.events()
	if len(ended) != 1 || ended[0].created {
		t.Fatalf("expected close to end the session without a version, got %+v", ended)
	}
}

func TestNewManagerValidatesOptions(t *testing.T) {
	if _, err := NewManager(Options{Store: store.NewMemoryStore()}); err == nil {
		t.Fatal("expected error for missing document id")
	}
	if _, err := NewManager(Options{DocumentID: "doc"}); err == nil {
		t.Fatal("expected error for missing store")
	}
}

func TestSubmittedChangesFoldInSubmissionOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSessionDuration = time.Millisecond
	cfg.MinEditCount = 1
	h := newHarness(t, cfg)

	h.edit(oneBlock)

	first, err := h.m.SubmitContentChange(context.Background(), twoBlocks, "Plan", SourceLocal)
	if err != nil {
		t.Fatalf("SubmitContentChange() error = %v", err)
	}
	second, err := h.m.SubmitContentChange(context.Background(), threeBlocks, "Plan", SourceLocal)
	if err != nil {
		t.Fatalf("SubmitContentChange() error = %v", err)
	}
	select {
	case created := <-first:
		if created {
			t.Fatal("expected the earlier change to be superseded")
		}
	default:
		t.Fatal("expected the earlier change to be released when the later one was submitted")
	}

	h.sched.Advance(h.cfg.Debounce)
	select {
	case created := <-second:
		if !created {
			t.Fatal("expected the later change to create a version")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the later change")
	}

	versions := h.versions()
	if len(versions) != 1 || string(versions[0].Content) != string(threeBlocks) {
		t.Fatalf("expected the last submitted content to be committed, got %+v", versions)
	}
}

func TestCanceledWaitKeepsChangePending(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan editResult, 1)
	go func() {
		created, err := h.m.HandleContentChange(ctx, oneBlock, "Plan", SourceLocal)
		out <- editResult{created: created, err: err}
	}()
	h.sched.waitScheduled(t, h.cfg.Debounce, 1)
	cancel()

	if res := h.await(out); !errors.Is(res.err, context.Canceled) || res.created {
		t.Fatalf("expected context.Canceled, got %+v", res)
	}
	if _, ok := h.m.SessionStats(); ok {
		t.Fatal("expected no session before the debounce fires")
	}

	h.sched.Advance(h.cfg.Debounce)
	stats, ok := h.m.SessionStats()
	if !ok || stats.EditCount != 1 {
		t.Fatalf("expected the change to be folded after its caller left, got %+v ok=%v", stats, ok)
	}
}

func TestInactivityDuringCommitLeavesSessionToCommit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSessionDuration = time.Millisecond
	cfg.MinEditCount = 1
	h := newHarness(t, cfg)

	h.edit(oneBlock)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.store.createFn = func(ctx context.Context, input store.NewVersion) (store.Version, error) {
		close(entered)
		<-release
		return h.store.MemoryStore.Create(ctx, input)
	}

	out := h.submit(twoBlocks)
	go h.sched.Advance(h.cfg.Debounce)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the automatic commit")
	}

	h.sched.Advance(h.cfg.SessionTimeout)
	if _, ended, _ := h.events(); len(ended) != 0 {
		t.Fatalf("expected no session end while the commit is in flight, got %+v", ended)
	}

	close(release)
	if res := h.await(out); res.err != nil || !res.created {
		t.Fatalf("expected the automatic commit to succeed, got %+v", res)
	}
	started, ended, created := h.events()
	if len(ended) != 1 || ended[0].id != started[0] || !ended[0].created {
		t.Fatalf("expected one session end with a version, got %+v", ended)
	}
	if len(created) != 1 {
		t.Fatalf("expected one version-created event, got %d", len(created))
	}
	if _, ok := h.m.SessionStats(); ok {
		t.Fatal("expected the commit to end the session")
	}
}
