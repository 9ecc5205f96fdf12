package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/covparse/pkg/model"
)

// GormRunRepository implements RunRepository using GORM.
type GormRunRepository struct {
	db *gorm.DB
}

// NewGormRunRepository creates a new GormRunRepository.
func NewGormRunRepository(db *gorm.DB) *GormRunRepository {
	return &GormRunRepository{db: db}
}

// CreateRun inserts a run and its file summaries in one transaction.
func (r *GormRunRepository) CreateRun(ctx context.Context, run *CoverageRun, files []FileSummary) error {
	if run.Status == "" {
		run.Status = RunStatusPending
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		for i := range files {
			files[i].RunUUID = run.RunUUID
			if err := tx.Create(&files[i]).Error; err != nil {
				return fmt.Errorf("failed to insert file summary: %w", err)
			}
		}
		return nil
	})
}

// SaveReport stores a built report under an existing run. Previous
// file summaries for the run are replaced.
func (r *GormRunRepository) SaveReport(ctx context.Context, runUUID string, report *model.CoverageReport) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run CoverageRun
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("run_uuid = ?", runUUID).
			First(&run).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("run not found: %s", runUUID)
			}
			return fmt.Errorf("failed to lock run: %w", err)
		}

		run.ApplyReport(report)
		run.Status = RunStatusComplete
		run.StatusInfo = ""
		if err := tx.Save(&run).Error; err != nil {
			return fmt.Errorf("failed to update run aggregates: %w", err)
		}

		if err := tx.Where("run_uuid = ?", runUUID).Delete(&FileSummary{}).Error; err != nil {
			return fmt.Errorf("failed to clear old file summaries: %w", err)
		}
		for _, row := range NewFileSummaries(runUUID, report) {
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to insert file summary: %w", err)
			}
		}
		return nil
	})
}

// GetRun retrieves a run by its UUID.
func (r *GormRunRepository) GetRun(ctx context.Context, runUUID string) (*CoverageRun, error) {
	var run CoverageRun

	err := r.db.WithContext(ctx).Where("run_uuid = ?", runUUID).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run not found: %s", runUUID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// ListRuns retrieves runs newest-first.
func (r *GormRunRepository) ListRuns(ctx context.Context, limit, offset int) ([]*CoverageRun, error) {
	var runs []*CoverageRun

	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// UpdateStatus updates a run's status and status info.
func (r *GormRunRepository) UpdateStatus(ctx context.Context, runUUID string, status RunStatus, info string) error {
	result := r.db.WithContext(ctx).
		Model(&CoverageRun{}).
		Where("run_uuid = ?", runUUID).
		Updates(map[string]interface{}{
			"status":      status,
			"status_info": info,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update run status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("run not found: %s", runUUID)
	}

	return nil
}

// LockRunForDecode claims a pending run using FOR UPDATE so two
// decoders never process the same run.
func (r *GormRunRepository) LockRunForDecode(ctx context.Context, runUUID string) (bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run CoverageRun

		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("run_uuid = ? AND status = ?", runUUID, RunStatusPending).
			First(&run).Error
		if err != nil {
			return err
		}

		return tx.Model(&CoverageRun{}).
			Where("run_uuid = ?", runUUID).
			Update("status", RunStatusRunning).Error
	})

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to lock run: %w", err)
	}

	return true, nil
}

// GetFileSummaries retrieves a run's per-file rows ordered by path.
func (r *GormRunRepository) GetFileSummaries(ctx context.Context, runUUID string) ([]FileSummary, error) {
	var rows []FileSummary

	err := r.db.WithContext(ctx).
		Where("run_uuid = ?", runUUID).
		Order("path ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query file summaries: %w", err)
	}

	return rows, nil
}

// DeleteRun removes a run and its file summaries in one transaction.
func (r *GormRunRepository) DeleteRun(ctx context.Context, runUUID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("run_uuid = ?", runUUID).Delete(&CoverageRun{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete run: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("run not found: %s", runUUID)
		}
		if err := tx.Where("run_uuid = ?", runUUID).Delete(&FileSummary{}).Error; err != nil {
			return fmt.Errorf("failed to delete file summaries: %w", err)
		}
		return nil
	})
}
