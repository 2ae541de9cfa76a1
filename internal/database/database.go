// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

// Package database is the canonical store for coupon-bearing courses,
// backed by an embedded DuckDB file. It is the single source of truth;
// every read-path cache entry is a disposable projection of its rows.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/huythanh0x/udemycoupons/internal/config"
	"github.com/huythanh0x/udemycoupons/internal/logging"
)

// DB wraps the DuckDB connection and provides data access methods.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New opens (or creates) the database and initializes the schema.
// An empty cfg.Path opens an in-memory database, used by tests.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	if dbDir := filepath.Dir(cfg.Path); cfg.Path != "" && dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// DuckDB is an embedded single-writer engine; a small pool is enough
	// and avoids writer contention between the crawl and query paths.
	conn.SetMaxOpenConns(numThreads)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}

	if err := db.createTables(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", numThreads).
		Msg("Database initialized")

	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// createTables creates the core tables and indexes.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS coupon_courses (
			course_id BIGINT PRIMARY KEY,

			-- Descriptive fields, change rarely
			title TEXT NOT NULL,
			headline TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			sub_category TEXT NOT NULL DEFAULT '',
			level TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			content_length INTEGER NOT NULL DEFAULT 0,
			preview_image TEXT NOT NULL DEFAULT '',
			preview_video TEXT NOT NULL DEFAULT '',

			-- Popularity fields, refreshed every cycle
			rating DOUBLE NOT NULL DEFAULT 0,
			reviews INTEGER NOT NULL DEFAULT 0,
			students INTEGER NOT NULL DEFAULT 0,

			-- Coupon fields, the volatile core
			coupon_code TEXT NOT NULL,
			coupon_url TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			uses_remaining INTEGER NOT NULL DEFAULT -1,

			-- Status fields
			is_active BOOLEAN NOT NULL DEFAULT true,
			last_validated_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS coupon_history (
			course_id BIGINT NOT NULL,
			title TEXT NOT NULL,
			coupon_url TEXT NOT NULL,
			status TEXT NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_courses_active
			ON coupon_courses (is_active, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_courses_category
			ON coupon_courses (category)`,
		`CREATE INDEX IF NOT EXISTS idx_courses_expires
			ON coupon_courses (expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_history_course
			ON coupon_history (course_id, recorded_at)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}
