package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
)

// CheckpointRepoImpl keeps checkpoints in a single SQLite file, the default
// recovery store of the CLI.
type CheckpointRepoImpl struct {
	db *sql.DB
}

var _ repository.CheckpointRepository = (*CheckpointRepoImpl)(nil)

// NewCheckpointRepo opens (or creates) the database at path.
func NewCheckpointRepo(path string) (*CheckpointRepoImpl, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time avoids "database is locked" under concurrent saves
	db.SetMaxOpenConns(1)

	repo := &CheckpointRepoImpl{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// initSchema creates the checkpoints table if it doesn't exist.
func (r *CheckpointRepoImpl) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		run_id     TEXT NOT NULL,
		stage      TEXT NOT NULL,
		payload    TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (run_id, stage)
	);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (r *CheckpointRepoImpl) Close() error {
	return r.db.Close()
}

func (r *CheckpointRepoImpl) Save(ctx context.Context, cp *entity.Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	createdAt := cp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	query := "INSERT OR REPLACE INTO checkpoints (run_id, stage, payload, created_at) VALUES (?, ?, ?, ?)"
	if _, err := r.db.ExecContext(ctx, query, cp.RunID, string(cp.Stage), string(payload), createdAt); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (r *CheckpointRepoImpl) Load(ctx context.Context, runID string, stage entity.Stage) (*entity.Checkpoint, error) {
	var payload string
	err := r.db.QueryRowContext(ctx,
		"SELECT payload FROM checkpoints WHERE run_id = ? AND stage = ?",
		runID, string(stage),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoint: %w", err)
	}

	var cp entity.Checkpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s/%s: %w", runID, stage, err)
	}
	return &cp, nil
}

// Runs lists the ids of runs with at least one checkpoint, newest first.
func (r *CheckpointRepoImpl) Runs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT run_id FROM checkpoints GROUP BY run_id ORDER BY MAX(created_at) DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
