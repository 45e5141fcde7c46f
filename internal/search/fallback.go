package search

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"folio/api/internal/store"
)

// VersionSource is the store surface the fallback searcher and the reindexer
// need. Both store implementations satisfy it.
type VersionSource interface {
	SearchVersions(ctx context.Context, documentID, query string, limit int) ([]store.Version, error)
	EachVersion(ctx context.Context, fn func(store.Version) error) error
}

const snippetWords = 30

// Fallback implements Searcher on top of the version store: PostgreSQL
// full-text search in production, substring matching in memory.
type Fallback struct {
	versions VersionSource
}

func NewFallback(versions VersionSource) *Fallback {
	return &Fallback{versions: versions}
}

// Healthy always returns true; if the store is down the whole app is down.
func (f *Fallback) Healthy() bool {
	return true
}

func (f *Fallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	versions, err := f.versions.SearchVersions(ctx, q.DocumentID, q.Text, limit+offset)
	if err != nil {
		return nil, 0, fmt.Errorf("fallback search: %w", err)
	}

	results := make([]Result, 0, len(versions))
	for _, version := range versions {
		if q.ChangeType != "" && version.ChangeType != q.ChangeType {
			continue
		}
		results = append(results, Result{
			VersionID:      version.ID,
			DocumentID:     version.DocumentID,
			SequenceNumber: version.SequenceNumber,
			Title:          version.Title,
			Snippet:        highlight(firstNonBlank(store.SearchText(version.Content), version.Summary), q.Text),
			ChangeType:     version.ChangeType,
			Author:         version.Author,
			CreatedAt:      version.CreatedAt,
		})
	}
	total := len(results)
	if offset >= len(results) {
		return []Result{}, total, nil
	}
	return results[offset:], total, nil
}

// highlight picks the window of text around the first query term and wraps
// matching words in <mark>, mirroring ts_headline output.
func highlight(text, query string) string {
	terms := strings.Fields(strings.ToLower(query))
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	start := 0
	for i, word := range words {
		if matchesTerm(word, terms) {
			start = max(i-snippetWords/3, 0)
			break
		}
	}
	end := min(start+snippetWords, len(words))

	out := make([]string, 0, end-start)
	for _, word := range words[start:end] {
		if matchesTerm(word, terms) {
			word = "<mark>" + word + "</mark>"
		}
		out = append(out, word)
	}
	return strings.Join(out, " ")
}

func matchesTerm(word string, terms []string) bool {
	lower := strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return r == utf8.RuneError || strings.ContainsRune(".,;:!?\"'()[]", r)
	}))
	for _, term := range terms {
		if lower != "" && strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
