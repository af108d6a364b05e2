package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_checkpoints (
	run_id     TEXT        NOT NULL,
	stage      TEXT        NOT NULL,
	payload    JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (run_id, stage)
);

CREATE TABLE IF NOT EXISTS business_records (
	name       TEXT PRIMARY KEY,
	source_url TEXT        NOT NULL DEFAULT '',
	location   TEXT        NOT NULL DEFAULT '',
	website    TEXT        NOT NULL DEFAULT '',
	emails     TEXT[]      NOT NULL DEFAULT '{}',
	phones     TEXT[]      NOT NULL DEFAULT '{}',
	social     JSONB       NOT NULL DEFAULT '{}',
	status     TEXT        NOT NULL,
	error      TEXT        NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Connect opens a pool and makes sure the tables exist.
func Connect(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	if _, err := db.Exec(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// CheckpointRepoImpl provides a concrete implementation for the CheckpointRepository interface using PostgreSQL.
type CheckpointRepoImpl struct {
	db *pgxpool.Pool
}

var _ repository.CheckpointRepository = (*CheckpointRepoImpl)(nil)

// NewCheckpointRepo creates a new instance of CheckpointRepoImpl.
func NewCheckpointRepo(db *pgxpool.Pool) *CheckpointRepoImpl {
	return &CheckpointRepoImpl{db: db}
}

// Save creates or replaces the checkpoint of a run stage.
func (r *CheckpointRepoImpl) Save(ctx context.Context, cp *entity.Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	query := `
		INSERT INTO pipeline_checkpoints (run_id, stage, payload, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, stage) DO UPDATE SET
			payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at;
	`
	_, err = r.db.Exec(ctx, query, cp.RunID, string(cp.Stage), payload, cp.CreatedAt)
	return err
}

// Load retrieves the checkpoint of a run stage.
func (r *CheckpointRepoImpl) Load(ctx context.Context, runID string, stage entity.Stage) (*entity.Checkpoint, error) {
	var payload []byte
	err := r.db.QueryRow(ctx,
		`SELECT payload FROM pipeline_checkpoints WHERE run_id = $1 AND stage = $2;`,
		runID, string(stage),
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, err
	}

	var cp entity.Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s/%s: %w", runID, stage, err)
	}
	return &cp, nil
}
