// Package repository persists decoded coverage runs and their per-file
// summaries so dashboards can query results without re-reading profiles.
package repository

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/covparse/pkg/model"
)

// RunStatus tracks a coverage run through decode and report building.
type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// CoverageRun represents the coverage_runs table. One row per decoded
// profile set; aggregate rates are denormalized so list views never
// touch the file summary table.
type CoverageRun struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunUUID         string    `gorm:"column:run_uuid;type:varchar(64);uniqueIndex"`
	Label           string    `gorm:"column:label;type:varchar(256)"`
	Format          string    `gorm:"column:format;type:varchar(16)"`
	Status          RunStatus `gorm:"column:status;type:varchar(16)"`
	StatusInfo      string    `gorm:"column:status_info;type:text"`
	Functions       int64     `gorm:"column:functions"`
	LinesTotal      int64     `gorm:"column:lines_total"`
	LinesCovered    int64     `gorm:"column:lines_covered"`
	BranchesTotal   int64     `gorm:"column:branches_total"`
	BranchesCovered int64     `gorm:"column:branches_covered"`
	ArtifactPath    string    `gorm:"column:artifact_path;type:varchar(512)"`
	Summary         JSONField `gorm:"column:summary;type:json"`
	CreateTime      time.Time `gorm:"column:create_time;autoCreateTime"`
	UpdateTime      time.Time `gorm:"column:update_time;autoUpdateTime"`
}

// TableName returns the table name for CoverageRun.
func (CoverageRun) TableName() string {
	return "coverage_runs"
}

// ApplyReport fills the run's aggregate columns from a built report.
func (r *CoverageRun) ApplyReport(report *model.CoverageReport) {
	r.Functions = 0
	r.LinesTotal = 0
	r.LinesCovered = 0
	r.BranchesTotal = 0
	r.BranchesCovered = 0

	for i := range report.Files {
		file := &report.Files[i]
		r.Functions += int64(len(file.Functions))
		r.LinesTotal += int64(len(file.Lines))
		r.LinesCovered += int64(file.LinesCovered())
		r.BranchesTotal += 2 * int64(len(file.Branches))
		for _, br := range file.Branches {
			if br.Taken > 0 {
				r.BranchesCovered++
			}
			if br.NotTaken > 0 {
				r.BranchesCovered++
			}
		}
	}
}

// LineRate returns covered/total lines, or zero for an empty run.
func (r *CoverageRun) LineRate() float64 {
	if r.LinesTotal == 0 {
		return 0
	}
	return float64(r.LinesCovered) / float64(r.LinesTotal)
}

// BranchRate returns covered/total branch outcomes, or zero when the
// run recorded no branches.
func (r *CoverageRun) BranchRate() float64 {
	if r.BranchesTotal == 0 {
		return 0
	}
	return float64(r.BranchesCovered) / float64(r.BranchesTotal)
}

// SetSummary stores the profile summary snapshot as JSON.
func (r *CoverageRun) SetSummary(summary *model.ProfileSummary) error {
	if summary == nil {
		r.Summary = nil
		return nil
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	r.Summary = JSONField(data)
	return nil
}

// GetSummary decodes the stored profile summary. A run without one
// returns nil.
func (r *CoverageRun) GetSummary() (*model.ProfileSummary, error) {
	if r.Summary == nil {
		return nil, nil
	}
	var summary model.ProfileSummary
	if err := json.Unmarshal(r.Summary, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// FileSummary represents the coverage_file_summaries table. One row
// per source file per run.
type FileSummary struct {
	ID              int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunUUID         string `gorm:"column:run_uuid;type:varchar(64);index"`
	Path            string `gorm:"column:path;type:varchar(512)"`
	LinesTotal      int64  `gorm:"column:lines_total"`
	LinesCovered    int64  `gorm:"column:lines_covered"`
	BranchesTotal   int64  `gorm:"column:branches_total"`
	BranchesCovered int64  `gorm:"column:branches_covered"`
	Functions       int64  `gorm:"column:functions"`
}

// TableName returns the table name for FileSummary.
func (FileSummary) TableName() string {
	return "coverage_file_summaries"
}

// NewFileSummaries flattens a report into per-file rows for a run.
func NewFileSummaries(runUUID string, report *model.CoverageReport) []FileSummary {
	out := make([]FileSummary, 0, len(report.Files))
	for i := range report.Files {
		file := &report.Files[i]
		row := FileSummary{
			RunUUID:       runUUID,
			Path:          file.Path,
			LinesTotal:    int64(len(file.Lines)),
			LinesCovered:  int64(file.LinesCovered()),
			BranchesTotal: 2 * int64(len(file.Branches)),
			Functions:     int64(len(file.Functions)),
		}
		for _, br := range file.Branches {
			if br.Taken > 0 {
				row.BranchesCovered++
			}
			if br.NotTaken > 0 {
				row.BranchesCovered++
			}
		}
		out = append(out, row)
	}
	return out
}

// JSONField is a custom type for handling JSON columns in GORM.
type JSONField []byte

// Value implements driver.Valuer interface.
func (j JSONField) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner interface.
func (j *JSONField) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
		return nil
	case string:
		*j = []byte(v)
		return nil
	default:
		return errors.New("unsupported type for JSONField")
	}
}

// MarshalJSON implements json.Marshaler interface.
func (j JSONField) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON implements json.Unmarshaler interface.
func (j *JSONField) UnmarshalJSON(data []byte) error {
	if data == nil || string(data) == "null" {
		*j = nil
		return nil
	}
	*j = append((*j)[0:0], data...)
	return nil
}
