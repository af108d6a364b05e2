package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/bizscraper/internal/entity"
)

// TestCheckpointRepo verifies checkpoints are stored per run and stage and copied on load
func TestCheckpointRepo(t *testing.T) {
	repo := NewCheckpointRepo()

	_, err := repo.Load(t.Context(), "run-1", entity.StageNames)
	assert.ErrorIs(t, err, entity.ErrCheckpointNotFound)

	rec := entity.NewBusinessRecord("Acme Corp", "https://dir.example", "")
	require.NoError(t, repo.Save(t.Context(), &entity.Checkpoint{RunID: "run-1", Stage: entity.StageNames, Records: []entity.BusinessRecord{*rec}}))
	require.NoError(t, repo.Save(t.Context(), &entity.Checkpoint{RunID: "run-2", Stage: entity.StageNames}))

	got, err := repo.Load(t.Context(), "run-1", entity.StageNames)
	require.NoError(t, err)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "Acme Corp", got.Records[0].Name)

	got.Records[0].Name = "changed"
	again, err := repo.Load(t.Context(), "run-1", entity.StageNames)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", again.Records[0].Name)

	_, err = repo.Load(t.Context(), "run-1", entity.StageURLs)
	assert.ErrorIs(t, err, entity.ErrCheckpointNotFound)
	assert.Equal(t, 2, repo.Saves())
}
