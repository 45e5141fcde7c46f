package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}

	for i := 1; i <= len(byVersion); i++ {
		if _, ok := byVersion[fmt.Sprintf("%04d", i)]; !ok {
			t.Fatalf("migration versions must be contiguous; missing %04d", i)
		}
	}
}

func TestVersionImmutabilityMigrationUsesBlockingTriggers(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "0002_document_versions_immutability.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	for _, snippet := range []string{
		"document_versions_immutable_guard",
		"RAISE EXCEPTION",
		"CREATE TRIGGER trg_document_versions_block_update",
		"CREATE TRIGGER trg_document_versions_block_delete",
	} {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}

func TestUpMigrationsListsForwardFilesInOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("SELECT 2;")},
		"0001_a.up.sql":   {Data: []byte("SELECT 1;")},
		"0001_a.down.sql": {Data: []byte("SELECT 0;")},
		"README.md":       {Data: []byte("notes")},
		"nested/x.up.sql": {Data: []byte("SELECT 3;")},
	}
	names, err := upMigrations(fsys)
	if err != nil {
		t.Fatalf("upMigrations() error = %v", err)
	}
	if strings.Join(names, ",") != "0001_a.up.sql,0002_b.up.sql" {
		t.Fatalf("unexpected migrations %v", names)
	}
}

func TestPoolConfigDefaults(t *testing.T) {
	pool := PoolConfig{MaxOpenConns: 4}.withDefaults()
	if pool.MaxOpenConns != 4 || pool.MaxIdleConns != 10 {
		t.Fatalf("unexpected pool %+v", pool)
	}
	if pool.ConnMaxLifetime != 30*time.Minute || pool.ConnMaxIdleTime != 5*time.Minute {
		t.Fatalf("unexpected pool lifetimes %+v", pool)
	}
}
