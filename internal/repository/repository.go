package repository

import (
	"context"

	"github.com/covparse/pkg/model"
)

// RunRepository defines the interface for coverage run persistence.
type RunRepository interface {
	// CreateRun inserts a run and its file summaries atomically.
	CreateRun(ctx context.Context, run *CoverageRun, files []FileSummary) error

	// SaveReport stores a built report under a run: aggregates on the
	// run row, one FileSummary per source file, and the run marked
	// complete.
	SaveReport(ctx context.Context, runUUID string, report *model.CoverageReport) error

	// GetRun retrieves a run by its UUID.
	GetRun(ctx context.Context, runUUID string) (*CoverageRun, error)

	// ListRuns retrieves runs newest-first.
	ListRuns(ctx context.Context, limit, offset int) ([]*CoverageRun, error)

	// UpdateStatus updates a run's status and status info.
	UpdateStatus(ctx context.Context, runUUID string, status RunStatus, info string) error

	// LockRunForDecode claims a pending run for decoding. Returns false
	// when the run is missing or already claimed.
	LockRunForDecode(ctx context.Context, runUUID string) (bool, error)

	// GetFileSummaries retrieves a run's per-file rows ordered by path.
	GetFileSummaries(ctx context.Context, runUUID string) ([]FileSummary, error)

	// DeleteRun removes a run and its file summaries.
	DeleteRun(ctx context.Context, runUUID string) error
}
