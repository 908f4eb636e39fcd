package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/fedeploy/internal/models"
)

func TestRunRepository_CreateFinishGet(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRunRepository(db)
	ctx := context.Background()
	started := time.Date(2024, 3, 5, 14, 7, 22, 0, time.UTC)

	run := &models.Run{
		Command:     "prod",
		ProjectName: "shop",
		TargetName:  "production",
		Host:        "web1:22",
		Mode:        "incremental",
		StartedAt:   started,
	}
	require.NoError(t, repo.Create(ctx, run))
	require.NotEmpty(t, run.ID)
	require.Equal(t, models.RunStatusRunning, run.Status)

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, "shop", got.ProjectName)
	require.True(t, started.Equal(got.StartedAt))
	require.Nil(t, got.FinishedAt)

	finished := started.Add(42 * time.Second)
	run.Status = models.RunStatusFailed
	run.FailedStep = 5
	run.Error = "upload failed"
	run.BackupPath = "/srv/backup/www_20240305_140722.tar.gz"
	run.ArchiveSize = 2048
	run.FinishedAt = &finished
	require.NoError(t, repo.Finish(ctx, run))

	got, err = repo.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusFailed, got.Status)
	require.Equal(t, 5, got.FailedStep)
	require.Equal(t, "upload failed", got.Error)
	require.Equal(t, int64(2048), got.ArchiveSize)
	require.NotNil(t, got.FinishedAt)
	require.Equal(t, 42*time.Second, got.Duration())
}

func TestRunRepository_Errors(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRunRepository(db)
	ctx := context.Background()

	require.ErrorIs(t, repo.Create(ctx, &models.Run{}), ErrInvalidRun)
	require.ErrorIs(t, repo.Finish(ctx, &models.Run{}), ErrInvalidRun)
	require.ErrorIs(t, repo.Finish(ctx, &models.Run{ID: "missing"}), ErrRunNotFound)

	_, err := repo.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunRepository_ListNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRunRepository(db)
	ctx := context.Background()
	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	for i, command := range []string{"dev", "prod", "dev", "dev"} {
		require.NoError(t, repo.Create(ctx, &models.Run{
			ID:        command + "-" + string(rune('a'+i)),
			Command:   command,
			Mode:      "full",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := repo.List(ctx, RunQuery{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, "dev-d", all[0].ID)
	require.Equal(t, "dev-a", all[3].ID)

	dev, err := repo.List(ctx, RunQuery{Command: "dev", Limit: 2})
	require.NoError(t, err)
	require.Len(t, dev, 2)
	require.Equal(t, "dev-d", dev[0].ID)
	require.Equal(t, "dev-c", dev[1].ID)
}
