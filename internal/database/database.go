// Package database opens the application database: sqlite for local use,
// postgresql for shared deployments.
package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialect names the backing database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DB wraps a GORM instance and, for postgres, a pgx pool.
type DB struct {
	GORM      *gorm.DB
	Pool      *pgxpool.Pool // nil for sqlite
	Dialect   Dialect
	Dialector gorm.Dialector
}

// ParseURL returns the dialect and driver DSN of a database URL.
// "postgres://" and "postgresql://" select postgres, "sqlite://path" or a
// bare path select sqlite.
func ParseURL(databaseURL string) (Dialect, string) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DialectPostgres, databaseURL
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return DialectSQLite, strings.TrimPrefix(databaseURL, "sqlite://")
	case databaseURL == "":
		return DialectSQLite, "archiver.db"
	default:
		return DialectSQLite, databaseURL
	}
}

// New opens the database behind databaseURL.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	dialect, dsn := ParseURL(databaseURL)
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if dialect == DialectSQLite {
		dialector := sqlite.Open(dsn)
		gormDB, err := gorm.Open(dialector, cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
		}
		return &DB{GORM: gormDB, Dialect: dialect, Dialector: dialector}, nil
	}

	// 1. pgx pool for raw sql
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// 2. GORM on the same url
	dialector := postgres.Open(dsn)
	gormDB, err := gorm.Open(dialector, cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	return &DB{
		GORM:      gormDB,
		Pool:      pool,
		Dialect:   dialect,
		Dialector: dialector,
	}, nil
}

// Close releases all connections.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if sqlDB, err := db.GORM.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Ping checks if the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if db.Pool != nil {
		return db.Pool.Ping(ctx)
	}
	sqlDB, err := db.GORM.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
