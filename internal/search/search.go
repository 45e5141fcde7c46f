package search

import (
	"context"
	"time"

	"folio/api/internal/store"
)

// Result is a single version hit returned to the caller.
type Result struct {
	VersionID      string           `json:"versionId"`
	DocumentID     string           `json:"documentId"`
	SequenceNumber int64            `json:"sequenceNumber"`
	Title          string           `json:"title"`
	Snippet        string           `json:"snippet"`
	ChangeType     store.ChangeType `json:"changeType"`
	Author         string           `json:"author"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// Query describes a search request.
type Query struct {
	Text       string
	DocumentID string           // empty = all documents
	ChangeType store.ChangeType // empty = all change types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over versions.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push versions into a search index. Versions are immutable, so
// there is no delete.
type Indexer interface {
	IndexVersions(records []VersionRecord) error
}

// Engine is a search backend that is both queried and fed.
type Engine interface {
	Searcher
	Indexer
}

// VersionRecord is the data we index for a version.
type VersionRecord struct {
	ID             string `json:"id"`
	DocumentID     string `json:"documentId"`
	SequenceNumber int64  `json:"sequenceNumber"`
	Title          string `json:"title"`
	Summary        string `json:"summary"`
	Text           string `json:"text"`
	ChangeType     string `json:"changeType"`
	Author         string `json:"author"`
	CreatedAt      int64  `json:"createdAt"`
}

// RecordFromVersion flattens a stored version into its index record.
func RecordFromVersion(version store.Version) VersionRecord {
	return VersionRecord{
		ID:             version.ID,
		DocumentID:     version.DocumentID,
		SequenceNumber: version.SequenceNumber,
		Title:          version.Title,
		Summary:        version.Summary,
		Text:           store.SearchText(version.Content),
		ChangeType:     string(version.ChangeType),
		Author:         version.Author,
		CreatedAt:      version.CreatedAt.UnixMilli(),
	}
}
