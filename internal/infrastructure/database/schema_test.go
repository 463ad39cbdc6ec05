package database_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/config"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/database"
	_ "github.com/nerrad567/esn-edge-sensor/migrations"
)

// TestEmbeddedSchema applies the shipped migrations to a fresh database.
func TestEmbeddedSchema(t *testing.T) {
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "latency.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	var name string
	err = db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='latency_samples'",
	).Scan(&name)
	if err != nil {
		t.Fatalf("latency_samples not created: %v", err)
	}

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != "20261019_120000" {
		t.Errorf("SchemaVersion() = %q, want 20261019_120000", version)
	}
}
