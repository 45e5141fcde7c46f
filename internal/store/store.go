package store

import (
	"context"
	"fmt"
	"strings"

	"folio/api/internal/blocks"
)

// VersionStore persists versions. Implementations never mutate a stored
// version; Restore appends a new RESTORE entry.
type VersionStore interface {
	Create(ctx context.Context, input NewVersion) (Version, error)
	Get(ctx context.Context, versionID string) (Version, error)
	Latest(ctx context.Context, documentID string) (Version, error)
	List(ctx context.Context, documentID string, limit int) ([]Version, error)
	Restore(ctx context.Context, versionID, author string) (Version, error)
}

const defaultListLimit = 50

func restoreInput(source Version, author string) NewVersion {
	return NewVersion{
		DocumentID: source.DocumentID,
		Title:      source.Title,
		Content:    append([]byte(nil), source.Content...),
		ChangeType: ChangeRestore,
		Summary:    fmt.Sprintf("Restored version %d", source.SequenceNumber),
		Author:     author,
	}
}

// SearchText flattens block content into newline separated plain text for
// full-text indexing. Malformed content yields no text.
func SearchText(content []byte) string {
	parsed, err := blocks.Parse(content)
	if err != nil {
		return ""
	}
	return strings.Join(blocks.Texts(parsed), "\n")
}
