package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"folio/api/internal/blocks"
	"folio/api/internal/util"
)

// MemoryStore keeps versions in process. It backs local development when no
// database is configured and the history tests.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]Version
	byDocument map[string][]string
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       map[string]Version{},
		byDocument: map[string][]string{},
		now:        time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, input NewVersion) (Version, error) {
	return s.insert(ctx, input, "")
}

func (s *MemoryStore) insert(ctx context.Context, input NewVersion, restoredFrom string) (Version, error) {
	if err := ctx.Err(); err != nil {
		return Version{}, err
	}
	input, err := input.validate()
	if err != nil {
		return Version{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byDocument[input.DocumentID]
	version := Version{
		ID:             util.NewID("ver"),
		DocumentID:     input.DocumentID,
		SequenceNumber: int64(len(ids)) + 1,
		Title:          input.Title,
		Content:        append([]byte(nil), input.Content...),
		ContentHash:    blocks.Hash(input.Content),
		ChangeType:     input.ChangeType,
		Summary:        input.Summary,
		Author:         input.Author,
		RestoredFrom:   restoredFrom,
		CreatedAt:      s.now().UTC(),
	}
	s.byID[version.ID] = version
	s.byDocument[input.DocumentID] = append(ids, version.ID)
	return copyVersion(version), nil
}

func (s *MemoryStore) Get(ctx context.Context, versionID string) (Version, error) {
	if err := ctx.Err(); err != nil {
		return Version{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	version, ok := s.byID[strings.TrimSpace(versionID)]
	if !ok {
		return Version{}, ErrNotFound
	}
	return copyVersion(version), nil
}

func (s *MemoryStore) Latest(ctx context.Context, documentID string) (Version, error) {
	if err := ctx.Err(); err != nil {
		return Version{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byDocument[documentID]
	if len(ids) == 0 {
		return Version{}, ErrNotFound
	}
	return copyVersion(s.byID[ids[len(ids)-1]]), nil
}

func (s *MemoryStore) List(ctx context.Context, documentID string, limit int) ([]Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byDocument[documentID]
	items := make([]Version, 0, min(limit, len(ids)))
	for i := len(ids) - 1; i >= 0 && len(items) < limit; i-- {
		items = append(items, copyVersion(s.byID[ids[i]]))
	}
	return items, nil
}

func (s *MemoryStore) Restore(ctx context.Context, versionID, author string) (Version, error) {
	source, err := s.Get(ctx, versionID)
	if err != nil {
		return Version{}, err
	}
	return s.insert(ctx, restoreInput(source, author), source.ID)
}

// SearchVersions matches every whitespace separated term, case-insensitively,
// against title, summary and block text. Newest first.
func (s *MemoryStore) SearchVersions(ctx context.Context, documentID, query string, limit int) ([]Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return []Version{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]Version, 0)
	for _, version := range s.byID {
		if documentID != "" && version.DocumentID != documentID {
			continue
		}
		haystack := strings.ToLower(version.Title + "\n" + version.Summary + "\n" + SearchText(version.Content))
		if containsAll(haystack, terms) {
			matches = append(matches, copyVersion(version))
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].SequenceNumber > matches[j].SequenceNumber
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *MemoryStore) EachVersion(ctx context.Context, fn func(Version) error) error {
	s.mu.RLock()
	documents := make([]string, 0, len(s.byDocument))
	for documentID := range s.byDocument {
		documents = append(documents, documentID)
	}
	sort.Strings(documents)
	items := make([]Version, 0, len(s.byID))
	for _, documentID := range documents {
		for _, id := range s.byDocument[documentID] {
			items = append(items, copyVersion(s.byID[id]))
		}
	}
	s.mu.RUnlock()

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

func containsAll(haystack string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

func copyVersion(v Version) Version {
	v.Content = append([]byte(nil), v.Content...)
	return v
}
