package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/covparse/pkg/model"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, Migrate(db))
	return db
}

func sampleReport() *model.CoverageReport {
	return &model.CoverageReport{
		Files: []model.FileCoverage{
			{
				Path: "src/main.c",
				Lines: []model.LineCoverage{
					{Line: 1, Hits: 5},
					{Line: 2, Hits: 0},
					{Line: 3, Hits: 2},
				},
				Branches: []model.BranchCoverage{
					{Line: 2, Column: 7, Taken: 3, NotTaken: 0},
				},
				Functions: []model.FunctionCoverage{
					{Name: "main", Line: 1, Hits: 5, Regions: 3},
				},
			},
			{
				Path: "src/util.c",
				Lines: []model.LineCoverage{
					{Line: 10, Hits: 0},
				},
				Functions: []model.FunctionCoverage{
					{Name: "helper", Line: 10, Hits: 0, Regions: 1},
				},
			},
		},
	}
}

func TestGormRunRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRunRepository(db)
	ctx := context.Background()

	t.Run("GetRun_NotFound", func(t *testing.T) {
		run, err := repo.GetRun(ctx, "nonexistent")
		assert.Error(t, err)
		assert.Nil(t, run)
		assert.Contains(t, err.Error(), "run not found")
	})

	t.Run("CreateRun_Success", func(t *testing.T) {
		run := &CoverageRun{
			RunUUID: "run-uuid-1",
			Label:   "nightly",
			Format:  "raw",
		}
		files := []FileSummary{
			{Path: "src/main.c", LinesTotal: 3, LinesCovered: 2},
		}
		require.NoError(t, repo.CreateRun(ctx, run, files))

		got, err := repo.GetRun(ctx, "run-uuid-1")
		require.NoError(t, err)
		assert.Equal(t, "nightly", got.Label)
		assert.Equal(t, RunStatusPending, got.Status)

		rows, err := repo.GetFileSummaries(ctx, "run-uuid-1")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "run-uuid-1", rows[0].RunUUID)
	})
}

func TestGormRunRepository_SaveReport(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRunRepository(db)
	ctx := context.Background()

	t.Run("SaveReport_NotFound", func(t *testing.T) {
		err := repo.SaveReport(ctx, "nonexistent", sampleReport())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "run not found")
	})

	t.Run("SaveReport_Success", func(t *testing.T) {
		run := &CoverageRun{RunUUID: "run-uuid-2", Format: "indexed"}
		require.NoError(t, repo.CreateRun(ctx, run, nil))

		require.NoError(t, repo.SaveReport(ctx, "run-uuid-2", sampleReport()))

		got, err := repo.GetRun(ctx, "run-uuid-2")
		require.NoError(t, err)
		assert.Equal(t, RunStatusComplete, got.Status)
		assert.Equal(t, int64(2), got.Functions)
		assert.Equal(t, int64(4), got.LinesTotal)
		assert.Equal(t, int64(2), got.LinesCovered)
		assert.Equal(t, int64(2), got.BranchesTotal)
		assert.Equal(t, int64(1), got.BranchesCovered)
		assert.InDelta(t, 0.5, got.LineRate(), 1e-9)

		rows, err := repo.GetFileSummaries(ctx, "run-uuid-2")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "src/main.c", rows[0].Path)
		assert.Equal(t, int64(2), rows[0].LinesCovered)
		assert.Equal(t, "src/util.c", rows[1].Path)
		assert.Equal(t, int64(0), rows[1].LinesCovered)
	})

	t.Run("SaveReport_ReplacesOldSummaries", func(t *testing.T) {
		require.NoError(t, repo.SaveReport(ctx, "run-uuid-2", sampleReport()))

		rows, err := repo.GetFileSummaries(ctx, "run-uuid-2")
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})
}

func TestGormRunRepository_ListRuns(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRunRepository(db)
	ctx := context.Background()

	for _, uuid := range []string{"list-1", "list-2", "list-3"} {
		require.NoError(t, repo.CreateRun(ctx, &CoverageRun{RunUUID: uuid}, nil))
	}

	runs, err := repo.ListRuns(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "list-3", runs[0].RunUUID)
	assert.Equal(t, "list-2", runs[1].RunUUID)

	runs, err = repo.ListRuns(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "list-1", runs[0].RunUUID)
}

func TestGormRunRepository_UpdateStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRunRepository(db)
	ctx := context.Background()

	t.Run("UpdateStatus_NotFound", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, "nonexistent", RunStatusFailed, "boom")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "run not found")
	})

	t.Run("UpdateStatus_Success", func(t *testing.T) {
		require.NoError(t, repo.CreateRun(ctx, &CoverageRun{RunUUID: "status-1"}, nil))

		err := repo.UpdateStatus(ctx, "status-1", RunStatusFailed, "decode error")
		require.NoError(t, err)

		got, err := repo.GetRun(ctx, "status-1")
		require.NoError(t, err)
		assert.Equal(t, RunStatusFailed, got.Status)
		assert.Equal(t, "decode error", got.StatusInfo)
	})
}

func TestGormRunRepository_LockRunForDecode(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRunRepository(db)
	ctx := context.Background()

	t.Run("Lock_NotFound", func(t *testing.T) {
		locked, err := repo.LockRunForDecode(ctx, "nonexistent")
		require.NoError(t, err)
		assert.False(t, locked)
	})

	t.Run("Lock_Success", func(t *testing.T) {
		require.NoError(t, repo.CreateRun(ctx, &CoverageRun{RunUUID: "lock-1"}, nil))

		locked, err := repo.LockRunForDecode(ctx, "lock-1")
		require.NoError(t, err)
		assert.True(t, locked)

		got, err := repo.GetRun(ctx, "lock-1")
		require.NoError(t, err)
		assert.Equal(t, RunStatusRunning, got.Status)
	})

	t.Run("Lock_AlreadyClaimed", func(t *testing.T) {
		locked, err := repo.LockRunForDecode(ctx, "lock-1")
		require.NoError(t, err)
		assert.False(t, locked)
	})
}

func TestGormRunRepository_DeleteRun(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRunRepository(db)
	ctx := context.Background()

	t.Run("DeleteRun_NotFound", func(t *testing.T) {
		err := repo.DeleteRun(ctx, "nonexistent")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "run not found")
	})

	t.Run("DeleteRun_Success", func(t *testing.T) {
		run := &CoverageRun{RunUUID: "del-1"}
		files := []FileSummary{{Path: "a.c"}, {Path: "b.c"}}
		require.NoError(t, repo.CreateRun(ctx, run, files))

		require.NoError(t, repo.DeleteRun(ctx, "del-1"))

		_, err := repo.GetRun(ctx, "del-1")
		assert.Error(t, err)

		rows, err := repo.GetFileSummaries(ctx, "del-1")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestCoverageRunSummaryRoundTrip(t *testing.T) {
	run := &CoverageRun{RunUUID: "sum-1"}

	got, err := run.GetSummary()
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, run.SetSummary(&model.ProfileSummary{
		TotalFunctions:   12,
		MaxFunctionCount: 900,
	}))

	got, err = run.GetSummary()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(12), got.TotalFunctions)
	assert.Equal(t, uint64(900), got.MaxFunctionCount)
}
