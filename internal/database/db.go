package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DB wraps the sqlite connection and owns schema migration.
type DB struct {
	conn   *sql.DB
	logger *zap.Logger
}

// Open opens (creating if necessary) the sqlite database at path and
// applies the schema.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite handles one writer at a time
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, logger: logger}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("Database opened", zap.String("path", path))
	return db, nil
}

// Conn exposes the raw connection for the repositories.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS streams (
			id              TEXT PRIMARY KEY,
			source_url      TEXT NOT NULL,
			width           INTEGER NOT NULL DEFAULT 0,
			height          INTEGER NOT NULL DEFAULT 0,
			bitrate         TEXT NOT NULL DEFAULT '',
			frame_rate      INTEGER NOT NULL DEFAULT 0,
			broadcast_port  INTEGER NOT NULL DEFAULT 0,
			output_dir      TEXT NOT NULL DEFAULT '',
			segment_seconds INTEGER NOT NULL DEFAULT 0,
			window_size     INTEGER NOT NULL DEFAULT 0,
			created_at      TIMESTAMP NOT NULL,
			updated_at      TIMESTAMP NOT NULL
		)
	`

	if _, err := d.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
