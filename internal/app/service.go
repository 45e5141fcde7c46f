package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"folio/api/internal/blocks"
	"folio/api/internal/cache"
	"folio/api/internal/diff"
	"folio/api/internal/export"
	"folio/api/internal/gitrepo"
	"folio/api/internal/history"
	"folio/api/internal/metrics"
	"folio/api/internal/search"
	"folio/api/internal/store"
	"folio/api/internal/util"

	"golang.org/x/sync/singleflight"
)

type versionMirror interface {
	Archive(version store.Version) (gitrepo.Commit, error)
	History(documentID string, limit int) ([]gitrepo.Commit, error)
}

type compareCache interface {
	Get(ctx context.Context, fromID, toID string) ([]byte, error)
	Put(ctx context.Context, fromID, toID string, payload []byte) error
	Ping(ctx context.Context) error
}

type versionSearch interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexVersion(version store.Version)
	Healthy() bool
}

type versionExporter interface {
	ExportVersion(ctx context.Context, versionID string, format export.Format) (*export.Result, error)
	ExportComparison(ctx context.Context, fromID, toID string, format export.Format) (*export.Result, error)
}

// Deps wires the service. Only Versions is required; every other
// collaborator may be nil and its feature is then disabled.
type Deps struct {
	Versions  store.VersionStore
	Mirror    versionMirror
	Cache     compareCache
	Search    versionSearch
	Export    versionExporter
	Ping      func(ctx context.Context) error
	Metrics   *metrics.Metrics
	History   history.Config
	Scheduler history.Scheduler
	Logger    *slog.Logger
}

type handle struct {
	id         string
	documentID string
	author     string
	openedAt   time.Time
	manager    *history.Manager
}

type Service struct {
	versions  store.VersionStore
	mirror    versionMirror
	cache     compareCache
	search    versionSearch
	export    versionExporter
	ping      func(ctx context.Context) error
	metrics   *metrics.Metrics
	history   history.Config
	scheduler history.Scheduler
	logger    *slog.Logger

	compares singleflight.Group

	mu      sync.Mutex
	handles map[string]*handle
}

func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		versions:  deps.Versions,
		mirror:    deps.Mirror,
		cache:     deps.Cache,
		search:    deps.Search,
		export:    deps.Export,
		ping:      deps.Ping,
		metrics:   deps.Metrics,
		history:   deps.History,
		scheduler: deps.Scheduler,
		logger:    logger,
		handles:   map[string]*handle{},
	}
}

type ChangeInput struct {
	Content json.RawMessage `json:"content"`
	Title   string          `json:"title"`
	Source  string          `json:"source"`
	Wait    bool            `json:"wait"`
}

type ManualVersionInput struct {
	Content json.RawMessage `json:"content"`
	Title   string          `json:"title"`
	Summary string          `json:"summary"`
}

type TitleChangeInput struct {
	Content  json.RawMessage `json:"content"`
	NewTitle string          `json:"newTitle"`
	OldTitle string          `json:"oldTitle"`
}

type CreateDocumentInput struct {
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content"`
	Author  string          `json:"author"`
}

// CompareResult is an encoded comparison; Cached reports a cache hit.
type CompareResult struct {
	Payload json.RawMessage
	Cached  bool
}

// OpenHandle starts an independent history pipeline for one editing context.
func (s *Service) OpenHandle(_ context.Context, documentID, author string) (map[string]any, error) {
	documentID = strings.TrimSpace(documentID)
	author = strings.TrimSpace(author)
	if documentID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "documentId is required", nil)
	}
	if author == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "author is required", nil)
	}

	id := util.NewID("hdl")
	logger := s.logger.With("handle_id", id)
	manager, err := history.NewManager(history.Options{
		DocumentID: documentID,
		Author:     author,
		Config:     s.history,
		Store:      s.versions,
		Scheduler:  s.scheduler,
		Logger:     logger,
		Events: history.EventHandlers{
			OnSessionStart: func(sessionID string) {
				logger.Debug("edit session started", "session_id", sessionID)
			},
			OnSessionEnd: func(sessionID string, versionCreated bool) {
				logger.Debug("edit session ended", "session_id", sessionID, "version_created", versionCreated)
			},
			OnVersionCreated: s.afterVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create history manager: %w", err)
	}

	h := &handle{id: id, documentID: documentID, author: author, openedAt: time.Now().UTC(), manager: manager}
	s.mu.Lock()
	s.handles[id] = h
	s.mu.Unlock()
	s.metrics.HandleOpened()

	logger.Info("document handle opened", "document_id", documentID)
	return handlePayload(h), nil
}

func (s *Service) CloseHandle(_ context.Context, handleID string) error {
	s.mu.Lock()
	h, ok := s.handles[handleID]
	delete(s.handles, handleID)
	s.mu.Unlock()
	if !ok {
		return errHandleNotFound
	}
	h.manager.Close()
	s.metrics.HandleClosed()
	return nil
}

// Close shuts every open handle down without committing.
func (s *Service) Close() {
	s.mu.Lock()
	open := make([]*handle, 0, len(s.handles))
	for id, h := range s.handles {
		open = append(open, h)
		delete(s.handles, id)
	}
	s.mu.Unlock()
	for _, h := range open {
		h.manager.Close()
		s.metrics.HandleClosed()
	}
}

func (s *Service) ListHandles() []map[string]any {
	s.mu.Lock()
	items := make([]map[string]any, 0, len(s.handles))
	for _, h := range s.handles {
		items = append(items, handlePayload(h))
	}
	s.mu.Unlock()
	sort.Slice(items, func(i, j int) bool {
		return items[i]["id"].(string) < items[j]["id"].(string)
	})
	return items
}

func (s *Service) lookup(handleID string) (*handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[handleID]
	if !ok {
		return nil, errHandleNotFound
	}
	return h, nil
}

// ContentChange feeds one edit into the handle. The edit takes its place in
// the debounce queue before the call returns. With Wait the call then blocks
// until the debounce settles and reports whether a version was created;
// otherwise the result is only visible through events.
func (s *Service) ContentChange(ctx context.Context, handleID string, input ChangeInput) (map[string]any, error) {
	h, err := s.lookup(handleID)
	if err != nil {
		return nil, err
	}
	source := history.Source(strings.ToLower(strings.TrimSpace(input.Source)))
	if source == "" {
		source = history.SourceLocal
	}
	if source != history.SourceLocal && source != history.SourceRemote {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "source must be local or remote", nil)
	}

	if !input.Wait {
		if _, err := h.manager.SubmitContentChange(context.WithoutCancel(ctx), input.Content, input.Title, source); err != nil {
			return nil, err
		}
		return map[string]any{"accepted": true}, nil
	}

	created, err := h.manager.HandleContentChange(ctx, input.Content, input.Title, source)
	if err != nil {
		return nil, err
	}
	return map[string]any{"accepted": true, "versionCreated": created}, nil
}

func (s *Service) ManualVersion(ctx context.Context, handleID string, input ManualVersionInput) (map[string]any, error) {
	h, err := s.lookup(handleID)
	if err != nil {
		return nil, err
	}
	versionID, err := h.manager.ManualCreateVersion(ctx, input.Content, input.Title, input.Summary)
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}
	return commitPayload(versionID), nil
}

func (s *Service) TitleChange(ctx context.Context, handleID string, input TitleChangeInput) (map[string]any, error) {
	h, err := s.lookup(handleID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.NewTitle) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "newTitle is required", nil)
	}
	versionID, err := h.manager.CreateTitleChangeVersion(ctx, input.Content, input.NewTitle, input.OldTitle)
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}
	return commitPayload(versionID), nil
}

func (s *Service) EndSession(ctx context.Context, handleID string, input ManualVersionInput) (map[string]any, error) {
	h, err := s.lookup(handleID)
	if err != nil {
		return nil, err
	}
	created, err := h.manager.EndCurrentSession(ctx, input.Content, input.Title)
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}
	return map[string]any{"versionCreated": created}, nil
}

func (s *Service) SessionStats(_ context.Context, handleID string) (map[string]any, error) {
	h, err := s.lookup(handleID)
	if err != nil {
		return nil, err
	}
	stats, ok := h.manager.SessionStats()
	if !ok {
		return map[string]any{"active": false, "session": nil}, nil
	}
	return map[string]any{
		"active": true,
		"session": map[string]any{
			"id":                  stats.SessionID,
			"durationMs":          stats.Duration.Milliseconds(),
			"editCount":           stats.EditCount,
			"significant":         stats.Significant,
			"timeSinceLastEditMs": stats.TimeSinceLastEdit.Milliseconds(),
		},
	}, nil
}

// CreateDocument records the first version of a document.
func (s *Service) CreateDocument(ctx context.Context, documentID string, input CreateDocumentInput) (map[string]any, error) {
	if _, err := s.versions.Latest(ctx, documentID); err == nil {
		return nil, domainError(http.StatusConflict, "DOCUMENT_EXISTS", "Document already has versions", nil)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load latest version: %w", err)
	}
	if _, err := blocks.Parse(input.Content); err != nil {
		return nil, err
	}

	version, err := s.versions.Create(ctx, store.NewVersion{
		DocumentID: documentID,
		Title:      input.Title,
		Content:    input.Content,
		ChangeType: store.ChangeCreate,
		Summary:    "Created",
		Author:     input.Author,
	})
	if err != nil {
		s.metrics.CommitFailed()
		return nil, err
	}
	s.afterVersion(version)
	return versionPayload(version, true), nil
}

func (s *Service) ListVersions(ctx context.Context, documentID string, limit int) (map[string]any, error) {
	versions, err := s.versions.List(ctx, documentID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(versions))
	for _, version := range versions {
		items = append(items, versionPayload(version, false))
	}
	return map[string]any{"documentId": documentID, "versions": items}, nil
}

func (s *Service) GetVersion(ctx context.Context, versionID string) (map[string]any, error) {
	version, err := s.versions.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return versionPayload(version, true), nil
}

func (s *Service) LatestVersion(ctx context.Context, documentID string) (map[string]any, error) {
	version, err := s.versions.Latest(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return versionPayload(version, true), nil
}

func (s *Service) RestoreVersion(ctx context.Context, versionID, author string) (map[string]any, error) {
	if strings.TrimSpace(author) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "author is required", nil)
	}
	version, err := s.versions.Restore(ctx, versionID, author)
	if err != nil {
		return nil, err
	}
	s.afterVersion(version)
	return versionPayload(version, true), nil
}

// Compare diffs two versions of one document, older first regardless of
// argument order, attributing additions to the newer version's author.
func (s *Service) Compare(ctx context.Context, fromID, toID string) (CompareResult, error) {
	from, err := s.versions.Get(ctx, fromID)
	if err != nil {
		return CompareResult{}, err
	}
	to, err := s.versions.Get(ctx, toID)
	if err != nil {
		return CompareResult{}, err
	}
	if from.DocumentID != to.DocumentID {
		return CompareResult{}, export.ErrDocumentMismatch
	}
	if from.SequenceNumber > to.SequenceNumber {
		from, to = to, from
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, from.ID, to.ID)
		switch {
		case err == nil:
			s.metrics.CompareServed(true)
			return CompareResult{Payload: cached, Cached: true}, nil
		case !errors.Is(err, cache.ErrMiss):
			s.logger.Warn("compare cache read failed", "error", err)
		}
	}

	// Concurrent misses for the same pair share one diff computation.
	value, err, _ := s.compares.Do(from.ID+":"+to.ID, func() (any, error) {
		result := diff.Compare(from.Content, to.Content, to.Author)
		payload, err := json.Marshal(map[string]any{
			"documentId": from.DocumentID,
			"from":       versionPayload(from, false),
			"to":         versionPayload(to, false),
			"diff":       result,
		})
		if err != nil {
			return nil, fmt.Errorf("encode comparison: %w", err)
		}
		if s.cache != nil {
			if err := s.cache.Put(ctx, from.ID, to.ID, payload); err != nil {
				s.logger.Warn("compare cache write failed", "error", err)
			}
		}
		return payload, nil
	})
	if err != nil {
		return CompareResult{}, err
	}
	s.metrics.CompareServed(false)
	return CompareResult{Payload: value.([]byte)}, nil
}

// MirrorHistory lists the git mirror log for a document.
func (s *Service) MirrorHistory(_ context.Context, documentID string, limit int) (map[string]any, error) {
	if s.mirror == nil {
		return nil, domainError(http.StatusNotFound, "MIRROR_DISABLED", "Git mirror is not configured", nil)
	}
	commits, err := s.mirror.History(documentID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, map[string]any{
			"hash":      commit.Hash,
			"tag":       nilIfEmpty(commit.Tag),
			"message":   commit.Message,
			"author":    commit.Author,
			"createdAt": commit.CreatedAt,
		})
	}
	return map[string]any{"documentId": documentID, "commits": items}, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) ExportVersion(ctx context.Context, versionID string, format export.Format) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	return s.export.ExportVersion(ctx, versionID, format)
}

func (s *Service) ExportComparison(ctx context.Context, fromID, toID string, format export.Format) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	return s.export.ExportComparison(ctx, fromID, toID, format)
}

// Readiness runs every dependency probe and reports per-check status.
func (s *Service) Readiness(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := map[string]any{}

	check := func(name string, probe func(context.Context) error) {
		if err := probe(ctx); err != nil {
			ready = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			return
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	if s.ping != nil {
		check("database", s.ping)
	}
	if s.cache != nil {
		check("cache", s.cache.Ping)
	}
	if s.search != nil {
		// Search degrades to the store, so it never blocks readiness.
		status := "ok"
		if !s.search.Healthy() {
			status = "degraded"
		}
		checks["search"] = map[string]any{"status": status}
	}
	return ready, checks
}

// afterVersion propagates a committed version to the mirror and the index.
// Both are best effort: the store is the source of truth.
func (s *Service) afterVersion(version store.Version) {
	s.logger.Debug("propagating version", "document_id", version.DocumentID, "version_id", version.ID)
	s.metrics.VersionCreated(string(version.ChangeType))
	if s.mirror != nil {
		if _, err := s.mirror.Archive(version); err != nil {
			s.logger.Warn("mirror archive failed", "version_id", version.ID, "error", err)
		}
	}
	if s.search != nil {
		s.search.IndexVersion(version)
	}
}

func (s *Service) recordFailure(err error) {
	if errors.Is(err, history.ErrPersistence) {
		s.metrics.CommitFailed()
	}
}

func handlePayload(h *handle) map[string]any {
	return map[string]any{
		"id":         h.id,
		"documentId": h.documentID,
		"author":     h.author,
		"openedAt":   h.openedAt,
	}
}

func commitPayload(versionID string) map[string]any {
	return map[string]any{
		"versionId": nilIfEmpty(versionID),
		"created":   versionID != "",
	}
}

func versionPayload(version store.Version, withContent bool) map[string]any {
	payload := map[string]any{
		"id":             version.ID,
		"documentId":     version.DocumentID,
		"sequenceNumber": version.SequenceNumber,
		"title":          version.Title,
		"contentHash":    version.ContentHash,
		"changeType":     version.ChangeType,
		"summary":        nilIfEmpty(version.Summary),
		"author":         version.Author,
		"restoredFrom":   nilIfEmpty(version.RestoredFrom),
		"createdAt":      version.CreatedAt,
	}
	if withContent {
		if json.Valid(version.Content) {
			payload["content"] = json.RawMessage(version.Content)
		} else {
			payload["content"] = string(version.Content)
		}
	}
	return payload
}

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
