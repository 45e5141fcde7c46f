package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"folio/api/internal/blocks"
	"folio/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const versionColumns = `id, document_id, sequence_number, title, content, content_hash, change_type, summary, author_name, COALESCE(restored_from, ''), created_at`

func (s *PostgresStore) Create(ctx context.Context, input NewVersion) (Version, error) {
	return s.insert(ctx, input, "")
}

// insert allocates the next sequence number under a per-document advisory lock
// so concurrent writers for one document never collide.
func (s *PostgresStore) insert(ctx context.Context, input NewVersion, restoredFrom string) (Version, error) {
	input, err := input.validate()
	if err != nil {
		return Version{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Version{}, fmt.Errorf("begin version tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, input.DocumentID); err != nil {
		return Version{}, fmt.Errorf("lock document versions: %w", err)
	}

	var next int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0) + 1
		FROM document_versions
		WHERE document_id=$1
	`, input.DocumentID).Scan(&next); err != nil {
		return Version{}, fmt.Errorf("next sequence number: %w", err)
	}

	version := Version{
		ID:             util.NewID("ver"),
		DocumentID:     input.DocumentID,
		SequenceNumber: next,
		Title:          input.Title,
		Content:        input.Content,
		ContentHash:    blocks.Hash(input.Content),
		ChangeType:     input.ChangeType,
		Summary:        input.Summary,
		Author:         input.Author,
		RestoredFrom:   restoredFrom,
	}

	var restored any
	if restoredFrom != "" {
		restored = restoredFrom
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO document_versions (id, document_id, sequence_number, title, content, content_hash, change_type, summary, author_name, restored_from, search_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`,
		version.ID,
		version.DocumentID,
		version.SequenceNumber,
		version.Title,
		string(version.Content),
		version.ContentHash,
		string(version.ChangeType),
		version.Summary,
		version.Author,
		restored,
		SearchText(version.Content),
	).Scan(&version.CreatedAt)
	if err != nil {
		return Version{}, fmt.Errorf("insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Version{}, fmt.Errorf("commit version: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) Get(ctx context.Context, versionID string) (Version, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM document_versions WHERE id=$1`, versionID)
	version, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) Latest(ctx context.Context, documentID string) (Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		WHERE document_id=$1
		ORDER BY sequence_number DESC
		LIMIT 1
	`, documentID)
	version, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("latest version: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) List(ctx context.Context, documentID string, limit int) ([]Version, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		WHERE document_id=$1
		ORDER BY sequence_number DESC
		LIMIT $2
	`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Restore(ctx context.Context, versionID, author string) (Version, error) {
	source, err := s.Get(ctx, versionID)
	if err != nil {
		return Version{}, err
	}
	return s.insert(ctx, restoreInput(source, author), source.ID)
}

// SearchVersions runs a full-text query over version titles, summaries and
// block text, newest first.
func (s *PostgresStore) SearchVersions(ctx context.Context, documentID, query string, limit int) ([]Version, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		WHERE ($1='' OR document_id=$1)
		  AND to_tsvector('english', title || ' ' || summary || ' ' || search_text) @@ plainto_tsquery('english', $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, documentID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan searched version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate searched versions: %w", err)
	}
	return items, nil
}

// EachVersion streams every stored version in insertion order. Used to
// rebuild the search index.
func (s *PostgresStore) EachVersion(ctx context.Context, fn func(Version) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		ORDER BY created_at, document_id, sequence_number
	`)
	if err != nil {
		return fmt.Errorf("load versions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return fmt.Errorf("scan version: %w", err)
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate versions: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (Version, error) {
	var item Version
	var content, changeType string
	if err := row.Scan(
		&item.ID,
		&item.DocumentID,
		&item.SequenceNumber,
		&item.Title,
		&content,
		&item.ContentHash,
		&changeType,
		&item.Summary,
		&item.Author,
		&item.RestoredFrom,
		&item.CreatedAt,
	); err != nil {
		return Version{}, err
	}
	item.Content = []byte(content)
	item.ChangeType = ChangeType(changeType)
	return item, nil
}
