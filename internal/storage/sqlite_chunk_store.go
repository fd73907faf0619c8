package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/vec"
)

// SQLiteChunkStore keeps chunk records in a single SQLite file. It suits
// single-player saves where running BadgerDB is overkill.
type SQLiteChunkStore struct {
	db     *sql.DB
	logger *logging.Logger
}

// OpenSQLiteChunkStore opens (or creates) the database at path.
func OpenSQLiteChunkStore(path string) (*SQLiteChunkStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS chunks (
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			data BLOB NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (x, y, z)
		);`,
		`CREATE TABLE IF NOT EXISTS quarantine (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			at INTEGER NOT NULL,
			reason TEXT NOT NULL,
			data BLOB NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return &SQLiteChunkStore{db: db, logger: logging.GetStorageLogger()}, nil
}

// SaveChunk stores blob for coord.
func (s *SQLiteChunkStore) SaveChunk(ctx context.Context, coord vec.ChunkCoord, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (x, y, z, data, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(x, y, z) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		coord.X, coord.Y, coord.Z, seal(blob), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("save chunk %s: %w", coord, err)
	}
	return nil
}

// LoadChunk returns the blob stored for coord.
func (s *SQLiteChunkStore) LoadChunk(ctx context.Context, coord vec.ChunkCoord) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM chunks WHERE x = ? AND y = ? AND z = ?`,
		coord.X, coord.Y, coord.Z).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load chunk %s: %w", coord, err)
	}
	return openOrQuarantine(ctx, s, coord, raw)
}

// Quarantine moves data aside and deletes the live record.
func (s *SQLiteChunkStore) Quarantine(ctx context.Context, coord vec.ChunkCoord, data []byte, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quarantine (x, y, z, at, reason, data) VALUES (?, ?, ?, ?, ?, ?)`,
		coord.X, coord.Y, coord.Z, time.Now().UnixNano(), reason, data); err != nil {
		return fmt.Errorf("quarantine chunk %s: %w", coord, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE x = ? AND y = ? AND z = ?`, coord.X, coord.Y, coord.Z); err != nil {
		return fmt.Errorf("quarantine chunk %s: %w", coord, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Warn("⚠️ chunk %s quarantined: %s", coord, reason)
	return nil
}

// Quarantined lists quarantined records, oldest first.
func (s *SQLiteChunkStore) Quarantined(ctx context.Context) ([]QuarantineEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT x, y, z, at, reason, data FROM quarantine ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list quarantine: %w", err)
	}
	defer rows.Close()

	var out []QuarantineEntry
	for rows.Next() {
		var (
			e  QuarantineEntry
			at int64
		)
		if err := rows.Scan(&e.Coord.X, &e.Coord.Y, &e.Coord.Z, &at, &e.Reason, &e.Data); err != nil {
			return nil, err
		}
		e.At = time.Unix(0, at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Corrupt overwrites the live record with raw bytes. Tooling helper.
func (s *SQLiteChunkStore) Corrupt(ctx context.Context, coord vec.ChunkCoord, raw []byte) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET data = ? WHERE x = ? AND y = ? AND z = ?`, raw, coord.X, coord.Y, coord.Z)
	return err
}

// Close closes the database.
func (s *SQLiteChunkStore) Close() error {
	return s.db.Close()
}
