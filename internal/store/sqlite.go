package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	apperrors "kyoto-terminal/internal/errors"
	"kyoto-terminal/internal/models"
)

// SQLiteStore implements Journal using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the journal database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- One row per published frame
	CREATE TABLE IF NOT EXISTS frames (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle INTEGER NOT NULL,
		workspace TEXT NOT NULL,
		at DATETIME NOT NULL,
		errors TEXT
	);

	-- One row per tile valuation within a frame
	CREATE TABLE IF NOT EXISTS valuations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		frame_id INTEGER NOT NULL REFERENCES frames(id),
		tile_id INTEGER NOT NULL,
		underlying TEXT NOT NULL,
		expiry TEXT NOT NULL,
		strategy TEXT NOT NULL,
		status TEXT NOT NULL,
		magnitude REAL NOT NULL,
		legs TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_valuations_tile ON valuations(tile_id, frame_id);
	CREATE INDEX IF NOT EXISTS idx_frames_at ON frames(at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveFrame records a frame and all of its valuations in one transaction.
func (s *SQLiteStore) SaveFrame(ctx context.Context, frame models.Frame) error {
	errs, err := json.Marshal(frame.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode frame errors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", apperrors.ErrDatabaseError, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO frames (cycle, workspace, at, errors) VALUES (?, ?, ?, ?)
	`, frame.Cycle, frame.Workspace, frame.At.UTC(), string(errs))
	if err != nil {
		return fmt.Errorf("failed to insert frame: %w", err)
	}
	frameID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read frame id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO valuations (frame_id, tile_id, underlying, expiry, strategy, status, magnitude, legs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range frame.Results {
		legs, err := json.Marshal(r.Legs)
		if err != nil {
			return fmt.Errorf("failed to encode legs: %w", err)
		}
		_, err = stmt.ExecContext(ctx, frameID, r.TileID, r.Underlying, r.Expiry,
			string(r.Strategy), string(r.Status), r.Magnitude, string(legs))
		if err != nil {
			return fmt.Errorf("failed to insert valuation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// TileHistory returns the latest valuations of a tile, newest first.
// A non-positive limit defaults to 50.
func (s *SQLiteStore) TileHistory(ctx context.Context, tileID int, limit int) ([]HistoryRow, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.cycle, f.workspace, f.at, v.tile_id, v.underlying, v.expiry,
		       v.strategy, v.status, v.magnitude, v.legs
		FROM valuations v
		JOIN frames f ON f.id = v.frame_id
		WHERE v.tile_id = ?
		ORDER BY v.frame_id DESC
		LIMIT ?
	`, tileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var (
			r                  HistoryRow
			underlying, expiry string
			strategy, status   string
			legs               sql.NullString
		)
		if err := rows.Scan(&r.Cycle, &r.Workspace, &r.At, &r.TileID, &underlying, &expiry,
			&strategy, &status, &r.Magnitude, &legs); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		r.Group = models.FetchGroup{Underlying: underlying, Expiry: expiry}
		r.Strategy = models.StrategyKind(strategy)
		r.Status = models.ValuationStatus(status)
		if legs.Valid && legs.String != "" {
			if err := json.Unmarshal([]byte(legs.String), &r.Legs); err != nil {
				return nil, fmt.Errorf("failed to decode legs: %w", err)
			}
		}
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return out, nil
}

// Record saves every frame received from frames until the channel closes or ctx
// is done. Save failures are logged and do not stop recording.
func Record(ctx context.Context, j Journal, frames <-chan models.Frame, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := j.SaveFrame(ctx, frame); err != nil {
				logger.Warn().Err(err).Uint64("cycle", frame.Cycle).Msg("Failed to record frame")
			}
		}
	}
}

var _ Journal = (*SQLiteStore)(nil)
