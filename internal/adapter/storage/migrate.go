package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq" // postgres driver for migrations
)

//go:embed migrations/mysql/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// MigrateMySQL applies the embedded MySQL schema to db.
func MigrateMySQL(db *sql.DB, log *slog.Logger) error {
	driver, err := migratemysql.WithInstance(db, &migratemysql.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}
	return runMigrations("migrations/mysql", "mysql", driver, log)
}

// MigratePostgres opens a separate database/sql connection for dsn and applies
// the embedded Postgres schema.
func MigratePostgres(dsn string, log *slog.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open db for migrations: %w", err)
	}
	defer db.Close()

	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}
	return runMigrations("migrations/postgres", "postgres", driver, log)
}

func runMigrations(dir, dbName string, driver database.Driver, log *slog.Logger) error {
	source, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dbName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}
	version, dirty, _ := m.Version()
	log.Info("migrations applied", slog.String("db", dbName), slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	return nil
}
