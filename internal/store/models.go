package store

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("version not found")
	ErrInvalidVersion = errors.New("invalid version")
)

type ChangeType string

const (
	ChangeCreate  ChangeType = "CREATE"
	ChangeEdit    ChangeType = "EDIT"
	ChangeTitle   ChangeType = "TITLE"
	ChangeRestore ChangeType = "RESTORE"
	ChangeMerge   ChangeType = "MERGE"
)

func (c ChangeType) Valid() bool {
	switch c {
	case ChangeCreate, ChangeEdit, ChangeTitle, ChangeRestore, ChangeMerge:
		return true
	default:
		return false
	}
}

// Version is an immutable snapshot of a document. SequenceNumber starts at 1
// and increases strictly per document.
type Version struct {
	ID             string
	DocumentID     string
	SequenceNumber int64
	Title          string
	Content        []byte
	ContentHash    string
	ChangeType     ChangeType
	Summary        string
	Author         string
	RestoredFrom   string
	CreatedAt      time.Time
}

type NewVersion struct {
	DocumentID string
	Title      string
	Content    []byte
	ChangeType ChangeType
	Summary    string
	Author     string
}

func (n NewVersion) validate() (NewVersion, error) {
	n.DocumentID = strings.TrimSpace(n.DocumentID)
	n.Title = strings.TrimSpace(n.Title)
	n.Summary = strings.TrimSpace(n.Summary)
	n.Author = strings.TrimSpace(n.Author)
	if n.DocumentID == "" {
		return NewVersion{}, errors.Join(ErrInvalidVersion, errors.New("document id is required"))
	}
	if !n.ChangeType.Valid() {
		return NewVersion{}, errors.Join(ErrInvalidVersion, errors.New("unknown change type "+string(n.ChangeType)))
	}
	if n.Content == nil {
		n.Content = []byte{}
	}
	return n, nil
}
