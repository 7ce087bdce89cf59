// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and Postgres, plus schema migrations.
package repo

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-news-backend/internal/domain"
)

// Options tunes database bootstrapping.
type Options struct {
	// Tracing installs the GORM OpenTelemetry plugin (spans per query).
	Tracing bool
}

// Open connects to the database named by dsn. A postgres:// (or
// postgresql://) DSN selects Postgres; anything else is treated as a SQLite
// file path. Unique-constraint violations are translated to
// gorm.ErrDuplicatedKey on both drivers, which the slug-retry insert relies on.
func Open(dsn string, opts Options) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	gcfg := &gorm.Config{TranslateError: true}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), gcfg)
		if err != nil {
			return nil, err
		}
	} else {
		db, err = openSQLite(dsn, gcfg)
		if err != nil {
			return nil, err
		}
	}

	// Pool
	if sqlDB, perr := db.DB(); perr == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if opts.Tracing {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, err
		}
	}

	return db, nil
}

// openSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func openSQLite(path string, gcfg *gorm.Config) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), gcfg)
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	return db, nil
}

// AutoMigrate creates or updates the queue and article tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.SourceQueueItem{},
		&domain.Article{},
	)
}

// supportsRowLocking reports whether the dialect understands
// FOR UPDATE SKIP LOCKED. SQLite serializes writers with its own database
// lock, so the clause is both unsupported and unnecessary there.
func supportsRowLocking(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}
