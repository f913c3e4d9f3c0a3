package sqlitedb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

const (
	driverName   = "sqlite"
	inMemoryPath = ":memory:"
)

//go:embed migration/*.sql
var migrations embed.FS

// OpenDb opens the database at dbPath, an empty path opens an in-memory one.
func OpenDb(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		dbPath = inMemoryPath
	} else {
		dir := filepath.Dir(dbPath)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			err = os.MkdirAll(dir, 0755)
			if err != nil {
				return nil, fmt.Errorf("failed to create directory: %v", err)
			}
		}
	}

	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	db.SetMaxOpenConns(1) // prevent concurrent writes
	db.SetConnMaxLifetime(0)

	return db, nil
}

// Migrate applies the embedded migrations, or the ones found at
// migrationPath if not empty.
func Migrate(db *sql.DB, migrationPath string) error {
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	var m *migrate.Migrate
	if migrationPath != "" {
		m, err = migrate.NewWithDatabaseInstance(
			fmt.Sprintf("file://%s", migrationPath), driverName, driver,
		)
	} else {
		source, srcErr := iofs.New(migrations, "migration")
		if srcErr != nil {
			return fmt.Errorf("failed to load migrations: %w", srcErr)
		}
		m, err = migrate.NewWithInstance("iofs", source, driverName, driver)
	}
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate up: %w", err)
	}

	return nil
}
