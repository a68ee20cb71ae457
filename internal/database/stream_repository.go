package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/rtsp2web/internal/stream"
)

// ErrStreamNotFound is returned when the requested stream id does not exist.
var ErrStreamNotFound = errors.New("stream not found")

// StreamRepository persists stream definitions so registrations survive
// restarts of the server process.
type StreamRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewStreamRepository creates a repository backed by db.
func NewStreamRepository(db *DB, logger *zap.Logger) *StreamRepository {
	return &StreamRepository{db: db, logger: logger}
}

// Save inserts the definition, replacing any previous row with the same id.
func (r *StreamRepository) Save(def stream.Definition) error {
	now := time.Now()
	query := `
		INSERT INTO streams (
			id, source_url, width, height, bitrate, frame_rate,
			broadcast_port, output_dir, segment_seconds, window_size,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_url = excluded.source_url,
			width = excluded.width,
			height = excluded.height,
			bitrate = excluded.bitrate,
			frame_rate = excluded.frame_rate,
			broadcast_port = excluded.broadcast_port,
			output_dir = excluded.output_dir,
			segment_seconds = excluded.segment_seconds,
			window_size = excluded.window_size,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Conn().Exec(query,
		def.ID, def.SourceURL, def.Width, def.Height, def.Bitrate, def.FrameRate,
		def.BroadcastPort, def.OutputDir, def.SegmentSeconds, def.WindowSize,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save stream: %w", err)
	}

	r.logger.Debug("Stream saved", zap.String("stream_id", def.ID))
	return nil
}

// Get returns the definition for id, or ErrStreamNotFound.
func (r *StreamRepository) Get(id string) (stream.Definition, error) {
	query := `
		SELECT id, source_url, width, height, bitrate, frame_rate,
		       broadcast_port, output_dir, segment_seconds, window_size
		FROM streams WHERE id = ?
	`

	var def stream.Definition
	err := r.db.Conn().QueryRow(query, id).Scan(
		&def.ID, &def.SourceURL, &def.Width, &def.Height, &def.Bitrate, &def.FrameRate,
		&def.BroadcastPort, &def.OutputDir, &def.SegmentSeconds, &def.WindowSize,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return stream.Definition{}, ErrStreamNotFound
	}
	if err != nil {
		return stream.Definition{}, fmt.Errorf("failed to get stream: %w", err)
	}
	return def, nil
}

// List returns all stored definitions ordered by id.
func (r *StreamRepository) List() ([]stream.Definition, error) {
	query := `
		SELECT id, source_url, width, height, bitrate, frame_rate,
		       broadcast_port, output_dir, segment_seconds, window_size
		FROM streams ORDER BY id
	`

	rows, err := r.db.Conn().Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	defer rows.Close()

	var defs []stream.Definition
	for rows.Next() {
		var def stream.Definition
		if err := rows.Scan(
			&def.ID, &def.SourceURL, &def.Width, &def.Height, &def.Bitrate, &def.FrameRate,
			&def.BroadcastPort, &def.OutputDir, &def.SegmentSeconds, &def.WindowSize,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate streams: %w", err)
	}
	return defs, nil
}

// Delete removes the definition for id. Deleting an unknown id returns
// ErrStreamNotFound.
func (r *StreamRepository) Delete(id string) error {
	result, err := r.db.Conn().Exec(`DELETE FROM streams WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete stream: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if affected == 0 {
		return ErrStreamNotFound
	}

	r.logger.Debug("Stream deleted", zap.String("stream_id", id))
	return nil
}

// Exists reports whether a definition with id is stored.
func (r *StreamRepository) Exists(id string) (bool, error) {
	var count int
	err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM streams WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check stream existence: %w", err)
	}
	return count > 0, nil
}

// Count returns the number of stored definitions.
func (r *StreamRepository) Count() (int, error) {
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM streams`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count streams: %w", err)
	}
	return count, nil
}
