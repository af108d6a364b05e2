package repository

import (
	"context"

	"github.com/user/bizscraper/internal/entity"
)

// CheckpointRepository is the recovery store. Checkpoints are keyed by run id and stage.
type CheckpointRepository interface {
	// Save stores the checkpoint, replacing any previous one for the same run and stage.
	Save(ctx context.Context, cp *entity.Checkpoint) error
	// Load returns entity.ErrCheckpointNotFound when nothing is stored.
	Load(ctx context.Context, runID string, stage entity.Stage) (*entity.Checkpoint, error)
}
