package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
)

const checkpointPrefix = "checkpoint:"

// CheckpointRepoImpl provides a concrete implementation for the CheckpointRepository interface using Redis.
type CheckpointRepoImpl struct {
	client *redis.Client
	ttl    time.Duration
}

var _ repository.CheckpointRepository = (*CheckpointRepoImpl)(nil)

// NewCheckpointRepo creates a new instance of CheckpointRepoImpl. Checkpoints
// expire after ttl; zero keeps them forever.
func NewCheckpointRepo(client *redis.Client, ttl time.Duration) *CheckpointRepoImpl {
	return &CheckpointRepoImpl{client: client, ttl: ttl}
}

// generateKey creates a consistent Redis key for a run stage.
func (r *CheckpointRepoImpl) generateKey(runID string, stage entity.Stage) string {
	return fmt.Sprintf("%s%s:%s", checkpointPrefix, runID, stage)
}

// Save stores the checkpoint as JSON, replacing the previous one.
func (r *CheckpointRepoImpl) Save(ctx context.Context, cp *entity.Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	// SET with an expiry is atomic; a zero ttl means no expiry.
	return r.client.Set(ctx, r.generateKey(cp.RunID, cp.Stage), payload, r.ttl).Err()
}

// Load retrieves the checkpoint of a run stage.
func (r *CheckpointRepoImpl) Load(ctx context.Context, runID string, stage entity.Stage) (*entity.Checkpoint, error) {
	payload, err := r.client.Get(ctx, r.generateKey(runID, stage)).Bytes()
	if errors.Is(err, redis.Nil) {
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

// Delete removes every checkpoint of a run.
func (r *CheckpointRepoImpl) Delete(ctx context.Context, runID string) error {
	keys := make([]string, 0, len(entity.Stages))
	for _, stage := range entity.Stages {
		keys = append(keys, r.generateKey(runID, stage))
	}
	return r.client.Del(ctx, keys...).Err()
}
