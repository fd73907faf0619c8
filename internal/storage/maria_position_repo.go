package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/voxel-world/internal/vec"
)

// MariaPositionRepo implements PositionRepo on MariaDB/MySQL using the
// participant_positions table.
type MariaPositionRepo struct {
	db *sql.DB
}

// NewMariaPositionRepo connects using dsn (user:pass@tcp(host:port)/dbname)
// and creates the table if needed.
func NewMariaPositionRepo(dsn string) (*MariaPositionRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to MariaDB: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping MariaDB: %w", err)
	}

	repo := &MariaPositionRepo{db: db}
	if err := repo.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *MariaPositionRepo) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS participant_positions (
			participant VARCHAR(64) PRIMARY KEY,
			x           INT         NOT NULL,
			y           INT         NOT NULL,
			z           INT         NOT NULL,
			updated_at  TIMESTAMP   DEFAULT CURRENT_TIMESTAMP
			            ON UPDATE   CURRENT_TIMESTAMP,
			INDEX idx_updated_at (updated_at)
		) ENGINE=InnoDB
	`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("create participant_positions: %w", err)
	}
	return nil
}

const upsertPosition = `
	INSERT INTO participant_positions (participant, x, y, z)
	VALUES (?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		x = VALUES(x),
		y = VALUES(y),
		z = VALUES(z),
		updated_at = CURRENT_TIMESTAMP
`

// Save records a participant position.
func (r *MariaPositionRepo) Save(ctx context.Context, participant string, pos vec.Vec3) error {
	if err := validateParticipant(participant); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, upsertPosition, participant, pos.X, pos.Y, pos.Z); err != nil {
		return fmt.Errorf("save position for %s: %w", participant, err)
	}
	return nil
}

// Load returns a participant position.
func (r *MariaPositionRepo) Load(ctx context.Context, participant string) (vec.Vec3, bool, error) {
	if err := validateParticipant(participant); err != nil {
		return vec.Vec3{}, false, err
	}

	var pos vec.Vec3
	err := r.db.QueryRowContext(ctx,
		`SELECT x, y, z FROM participant_positions WHERE participant = ?`, participant).
		Scan(&pos.X, &pos.Y, &pos.Z)
	if errors.Is(err, sql.ErrNoRows) {
		return vec.Vec3{}, false, nil
	}
	if err != nil {
		return vec.Vec3{}, false, fmt.Errorf("load position for %s: %w", participant, err)
	}
	return pos, true, nil
}

// Delete removes a participant position.
func (r *MariaPositionRepo) Delete(ctx context.Context, participant string) error {
	if err := validateParticipant(participant); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM participant_positions WHERE participant = ?`, participant)
	if err != nil {
		return fmt.Errorf("delete position for %s: %w", participant, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("position for %s: %w", participant, ErrNotFound)
	}
	return nil
}

// BatchSave records several positions in one transaction.
func (r *MariaPositionRepo) BatchSave(ctx context.Context, positions map[string]vec.Vec3) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertPosition)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for participant, pos := range positions {
		if err := validateParticipant(participant); err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, participant, pos.X, pos.Y, pos.Z); err != nil {
			return fmt.Errorf("save position for %s in batch: %w", participant, err)
		}
	}
	return tx.Commit()
}

// Close closes the database connection.
func (r *MariaPositionRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
