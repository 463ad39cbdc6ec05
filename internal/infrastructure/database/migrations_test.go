package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
)

// useMigrations points the package at fsys for the duration of the test.
func useMigrations(t *testing.T, fsys fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS, MigrationsDir = fsys, "sql"
}

func sqlFile(stmt string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(stmt)}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&n)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return n == 1
}

// =============================================================================
// Migrate
// =============================================================================

func TestMigrate_AppliesInVersionOrder(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		// The index depends on the table, so order matters.
		"sql/20261020_090000_readings_index.up.sql": sqlFile("CREATE INDEX idx_readings ON readings (sensor);"),
		"sql/20261019_120000_readings.up.sql":       sqlFile("CREATE TABLE readings (sensor TEXT NOT NULL);"),
		"sql/20261019_120000_readings.down.sql":     sqlFile("DROP TABLE readings;"),
		"sql/notes.md":                              sqlFile("ignored"),
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "readings") {
		t.Error("table readings not created")
	}

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != "20261020_090000" {
		t.Errorf("SchemaVersion() = %q, want 20261020_090000", version)
	}

	if err := db.Migrate(ctx); err != nil {
		t.Errorf("second Migrate() error = %v", err)
	}
}

func TestMigrate_ResumesAfterFailure(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/20261019_120000_readings.up.sql": sqlFile("CREATE TABLE readings (sensor TEXT);"),
		"sql/20261019_130000_broken.up.sql": sqlFile("CREATE TABLE;"),
	}
	useMigrations(t, fsys)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() with a broken migration error = nil")
	}
	if version, _ := db.SchemaVersion(ctx); version != "20261019_120000" {
		t.Errorf("SchemaVersion() = %q, want the last good migration", version)
	}

	fsys["sql/20261019_130000_broken.up.sql"] = sqlFile("CREATE TABLE fixed (id INTEGER);")
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() after fix error = %v", err)
	}
	if !tableExists(t, db, "fixed") {
		t.Error("fixed migration not applied")
	}
}

func TestMigrate_DuplicateVersion(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"sql/20261019_120000_a.up.sql": sqlFile("CREATE TABLE a (id INTEGER);"),
		"sql/20261019_120000_b.up.sql": sqlFile("CREATE TABLE b (id INTEGER);"),
	})
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); !errors.Is(err, errDuplicateVersion) {
		t.Errorf("Migrate() error = %v, want errDuplicateVersion", err)
	}
}

func TestMigrate_NoFiles(t *testing.T) {
	origFS := MigrationsFS
	t.Cleanup(func() { MigrationsFS = origFS })
	MigrationsFS = nil

	db := openTestDB(t)
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if version, err := db.SchemaVersion(ctx); err != nil || version != "" {
		t.Errorf("SchemaVersion() = %q, %v; want empty", version, err)
	}
}

// =============================================================================
// Filenames
// =============================================================================

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{"20261019_120000_latency_samples.up.sql", "20261019_120000", "latency_samples", true},
		{"20261019_120000_latency_samples.down.sql", "", "", false},
		{"20261019_120000_latency_samples.sql", "", "", false},
		{"20261019_120000.up.sql", "", "", false},
		{"2026_120000_short_date.up.sql", "", "", false},
		{"README.md", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK || version != tt.wantVersion || name != tt.wantName {
				t.Errorf("parseMigrationFilename(%q) = %q, %q, %v; want %q, %q, %v",
					tt.filename, version, name, ok, tt.wantVersion, tt.wantName, tt.wantOK)
			}
		})
	}
}
