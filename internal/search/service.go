package search

import (
	"context"
	"log/slog"

	"folio/api/internal/store"
)

const reindexBatchSize = 500

// Service is the facade that tries the search engine first and falls back to
// the version store.
type Service struct {
	engine   Engine
	fallback Searcher
	logger   *slog.Logger
}

// NewService creates a search service. engine may be nil when Meilisearch is
// not configured; fallback may be nil when nothing can answer queries locally.
func NewService(engine Engine, fallback Searcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, fallback: fallback, logger: logger}
}

// Search tries the engine if healthy, otherwise falls back to the store.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.engineReady() {
		results, total, err := s.engine.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("search engine error, falling back", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexVersion indexes one version (fire-and-forget).
func (s *Service) IndexVersion(version store.Version) {
	if !s.engineReady() {
		return
	}
	record := RecordFromVersion(version)
	go func() {
		if err := s.engine.IndexVersions([]VersionRecord{record}); err != nil {
			s.logger.Warn("index version", "version_id", record.ID, "error", err)
		}
	}()
}

// ReindexAll streams every stored version into the engine in batches.
// Called at startup; a no-op when the engine is missing or unhealthy.
func (s *Service) ReindexAll(ctx context.Context, source VersionSource) {
	if !s.engineReady() || source == nil {
		return
	}

	batch := make([]VersionRecord, 0, reindexBatchSize)
	indexed := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.engine.IndexVersions(batch); err != nil {
			return err
		}
		indexed += len(batch)
		batch = batch[:0]
		return nil
	}

	err := source.EachVersion(ctx, func(version store.Version) error {
		batch = append(batch, RecordFromVersion(version))
		if len(batch) == reindexBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		s.logger.Error("reindex failed", "indexed", indexed, "error", err)
		return
	}
	s.logger.Info("reindex complete", "indexed", indexed)
}

// Healthy reports whether any backend can answer queries.
func (s *Service) Healthy() bool {
	return s.engineReady() || (s.fallback != nil && s.fallback.Healthy())
}

func (s *Service) engineReady() bool {
	return s.engine != nil && s.engine.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
