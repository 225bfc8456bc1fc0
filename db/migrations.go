package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
)

// Migration represents a single schema change.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// MigrationStatus describes whether a known migration has been applied.
type MigrationStatus struct {
	Version int
	Name    string
	Applied bool
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_folders_table",
		Up: `
			CREATE TABLE IF NOT EXISTS folders (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				created_at TIMESTAMPTZ DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_folders_name ON folders(name);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_folders_name;
			DROP TABLE IF EXISTS folders;
		`,
	},
	{
		Version: 2,
		Name:    "create_places_table",
		Up: `
			CREATE TABLE IF NOT EXISTS places (
				id TEXT PRIMARY KEY,
				name_ca TEXT NOT NULL,
				name_ja TEXT,
				description_ca TEXT,
				description_ja TEXT,
				folder_id TEXT REFERENCES folders(id),
				latitude DOUBLE PRECISION NOT NULL,
				longitude DOUBLE PRECISION NOT NULL,
				image_url TEXT,
				local_image_path TEXT,
				source TEXT,
				created_at TIMESTAMPTZ DEFAULT NOW(),
				updated_at TIMESTAMPTZ DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_places_folder ON places(folder_id);
			CREATE INDEX IF NOT EXISTS idx_places_name_ca ON places(name_ca);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_places_name_ca;
			DROP INDEX IF EXISTS idx_places_folder;
			DROP TABLE IF EXISTS places;
		`,
	},
	{
		Version: 3,
		Name:    "create_tags_tables",
		Up: `
			CREATE TABLE IF NOT EXISTS tags (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				color TEXT NOT NULL
			);
			CREATE TABLE IF NOT EXISTS place_tags (
				place_id TEXT NOT NULL REFERENCES places(id) ON DELETE CASCADE,
				tag_id TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
				PRIMARY KEY (place_id, tag_id)
			);
			CREATE INDEX IF NOT EXISTS idx_place_tags_tag ON place_tags(tag_id);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_place_tags_tag;
			DROP TABLE IF EXISTS place_tags;
			DROP TABLE IF EXISTS tags;
		`,
	},
	{
		Version: 4,
		Name:    "create_votes_table",
		Up: `
			CREATE TABLE IF NOT EXISTS votes (
				place_id TEXT NOT NULL REFERENCES places(id) ON DELETE CASCADE,
				device_id TEXT NOT NULL,
				created_at TIMESTAMPTZ DEFAULT NOW(),
				PRIMARY KEY (place_id, device_id)
			);
		`,
		Down: `
			DROP TABLE IF EXISTS votes;
		`,
	},
	{
		Version: 5,
		Name:    "add_image_metadata_to_places",
		Up: `
			ALTER TABLE places ADD COLUMN IF NOT EXISTS image_width INTEGER;
			ALTER TABLE places ADD COLUMN IF NOT EXISTS image_height INTEGER;
			ALTER TABLE places ADD COLUMN IF NOT EXISTS image_type TEXT;
			ALTER TABLE places ADD COLUMN IF NOT EXISTS image_exif TEXT;
		`,
		Down: `
			ALTER TABLE places DROP COLUMN IF EXISTS image_exif;
			ALTER TABLE places DROP COLUMN IF EXISTS image_type;
			ALTER TABLE places DROP COLUMN IF EXISTS image_height;
			ALTER TABLE places DROP COLUMN IF EXISTS image_width;
		`,
	},
	{
		Version: 6,
		Name:    "add_local_image_index",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_places_local_image ON places(local_image_path)
				WHERE local_image_path IS NULL OR local_image_path = '';
		`,
		Down: `
			DROP INDEX IF EXISTS idx_places_local_image;
		`,
	},
}

// Migrate runs all pending migrations.
func Migrate(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	slog.Default().Info("current schema version", "version", currentVersion)

	sortedMigrations := make([]Migration, len(migrations))
	copy(sortedMigrations, migrations)
	sort.Slice(sortedMigrations, func(i, j int) bool {
		return sortedMigrations[i].Version < sortedMigrations[j].Version
	})

	for _, m := range sortedMigrations {
		if m.Version <= currentVersion {
			slog.Default().Debug("skipping migration (already applied)", "version", m.Version)
			continue
		}

		if err := runMigration(db, m); err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", m.Version, m.Name, err)
		}
	}

	slog.Default().Info("all migrations complete")
	return nil
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

func getCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func runMigration(db *sql.DB, m Migration) error {
	slog.Default().Info("applying migration", "version", m.Version, "name", m.Name)

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.Up); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_version (version, name) VALUES ($1, $2)",
		m.Version, m.Name,
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// Rollback rolls back the last applied migration.
func Rollback(db *sql.DB) error {
	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	if currentVersion == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	var targetMigration *Migration
	for i := range migrations {
		if migrations[i].Version == currentVersion {
			targetMigration = &migrations[i]
			break
		}
	}

	if targetMigration == nil {
		return fmt.Errorf("migration %d not found", currentVersion)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(targetMigration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM schema_version WHERE version = $1", currentVersion); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}

	return tx.Commit()
}

// GetMigrationStatus returns the applied state of every known migration.
func GetMigrationStatus(db *sql.DB) ([]MigrationStatus, error) {
	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return nil, err
	}

	var status []MigrationStatus
	for _, m := range migrations {
		status = append(status, MigrationStatus{
			Version: m.Version,
			Name:    m.Name,
			Applied: m.Version <= currentVersion,
		})
	}

	sort.Slice(status, func(i, j int) bool {
		return status[i].Version < status[j].Version
	})

	return status, nil
}
