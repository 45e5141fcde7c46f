package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func openIntegrationStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("FOLIO_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("FOLIO_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn, PoolConfig{MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE document_versions`); err != nil {
		t.Fatalf("truncate document_versions: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func TestPostgresStoreCreateAndRestore(t *testing.T) {
	s, ctx := openIntegrationStore(t)

	first, err := s.Create(ctx, NewVersion{DocumentID: "doc-it", Title: "Plan", Content: []byte(`[{"type":"paragraph","content":"alpha"}]`), ChangeType: ChangeCreate, Author: "Avery"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second, err := s.Create(ctx, NewVersion{DocumentID: "doc-it", Title: "Plan", Content: []byte(`[{"type":"paragraph","content":"beta"}]`), ChangeType: ChangeEdit, Author: "Avery"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if first.SequenceNumber != 1 || second.SequenceNumber != 2 {
		t.Fatalf("unexpected sequence numbers %d, %d", first.SequenceNumber, second.SequenceNumber)
	}

	restored, err := s.Restore(ctx, first.ID, "Blake")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.SequenceNumber != 3 || restored.ChangeType != ChangeRestore || restored.RestoredFrom != first.ID {
		t.Fatalf("unexpected restored version: %+v", restored)
	}

	loaded, err := s.Get(ctx, restored.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(loaded.Content) != string(first.Content) {
		t.Fatalf("expected restored content %s, got %s", first.Content, loaded.Content)
	}

	found, err := s.SearchVersions(ctx, "doc-it", "beta", 10)
	if err != nil {
		t.Fatalf("SearchVersions() error = %v", err)
	}
	if len(found) != 1 || found[0].ID != second.ID {
		t.Fatalf("expected search to find version 2, got %+v", found)
	}
}

func TestPostgresStoreRejectsUpdates(t *testing.T) {
	s, ctx := openIntegrationStore(t)

	version, err := s.Create(ctx, NewVersion{DocumentID: "doc-it", ChangeType: ChangeEdit})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err = s.DB().ExecContext(ctx, `UPDATE document_versions SET summary='edited' WHERE id=$1`, version.ID)
	if err == nil {
		t.Fatal("expected UPDATE to be blocked, but it succeeded")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000, got: %s", pgErr.SQLState())
	}
	if pgErr.Message != "document_versions is immutable; UPDATE is not allowed" {
		t.Fatalf("unexpected error message: %s", pgErr.Message)
	}
}
