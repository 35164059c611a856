package database

import (
	"context"
	"testing"
)

func TestMigratorRun(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// idempotent
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("Failed to query schema_migrations: %v", err)
	}
	if count < 1 {
		t.Errorf("Expected at least 1 applied migration, got %d", count)
	}

	if _, err := db.Exec(`INSERT INTO cameras (id, name, created_at, updated_at) VALUES ('cam-01', 'Lobby', 0, 0)`); err != nil {
		t.Errorf("Expected cameras table to exist: %v", err)
	}
}

func TestMigratorStatus(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db)
	ctx := context.Background()

	before, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(before) == 0 {
		t.Fatal("Expected embedded migrations")
	}
	if before[0].Version != 1 || before[0].Name != "cameras" {
		t.Errorf("Expected 001_cameras first, got %d_%s", before[0].Version, before[0].Name)
	}
	for _, mig := range before {
		if mig.Applied() {
			t.Errorf("Migration %d should not be applied yet", mig.Version)
		}
	}

	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	after, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	for _, mig := range after {
		if !mig.Applied() {
			t.Errorf("Migration %d should be applied", mig.Version)
		}
	}
}

func TestEmbeddedMigrationsSorted(t *testing.T) {
	migrations, err := embedded()
	if err != nil {
		t.Fatalf("Failed to read migrations: %v", err)
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i-1].Version >= migrations[i].Version {
			t.Errorf("Migrations out of order: %d before %d", migrations[i-1].Version, migrations[i].Version)
		}
	}
}
