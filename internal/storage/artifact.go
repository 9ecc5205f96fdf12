package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/covparse/pkg/model"
	"github.com/covparse/pkg/writer"
)

// ArtifactStore layers coverage run artifact handling over a storage
// backend. Keys follow the runs/<uuid>/ layout from this package.
type ArtifactStore struct {
	backend Storage
}

// NewArtifactStore wraps a storage backend.
func NewArtifactStore(backend Storage) *ArtifactStore {
	return &ArtifactStore{backend: backend}
}

// Backend returns the wrapped storage.
func (s *ArtifactStore) Backend() Storage {
	return s.backend
}

// UploadReport stores a run's report as pretty-printed JSON and
// returns the object key.
func (s *ArtifactStore) UploadReport(ctx context.Context, runUUID string, report *model.CoverageReport) (string, error) {
	var buf bytes.Buffer
	if err := writer.NewPrettyJSONWriter[*model.CoverageReport]().Write(report, &buf); err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	key := ReportKey(runUUID)
	if err := s.backend.Upload(ctx, key, &buf); err != nil {
		return "", err
	}
	return key, nil
}

// UploadLCOV stores a run's report as an LCOV trace file and returns
// the object key.
func (s *ArtifactStore) UploadLCOV(ctx context.Context, runUUID string, report *model.CoverageReport) (string, error) {
	var buf bytes.Buffer
	if err := writer.NewLCOVWriter().Write(report, &buf); err != nil {
		return "", fmt.Errorf("failed to encode LCOV: %w", err)
	}

	key := LCOVKey(runUUID)
	if err := s.backend.Upload(ctx, key, &buf); err != nil {
		return "", err
	}
	return key, nil
}

// UploadProfile stores one of a run's input profile files and returns
// the object key.
func (s *ArtifactStore) UploadProfile(ctx context.Context, runUUID, name string, data io.Reader) (string, error) {
	key := ProfileKey(runUUID, name)
	if err := s.backend.Upload(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// DownloadReport fetches and decodes a run's JSON report.
func (s *ArtifactStore) DownloadReport(ctx context.Context, runUUID string) (*model.CoverageReport, error) {
	rc, err := s.backend.Download(ctx, ReportKey(runUUID))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var report model.CoverageReport
	if err := json.NewDecoder(rc).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &report, nil
}

// DeleteRun removes every stored artifact of a run. Missing objects
// are not errors.
func (s *ArtifactStore) DeleteRun(ctx context.Context, runUUID string) error {
	for _, key := range []string{ReportKey(runUUID), LCOVKey(runUUID)} {
		if err := s.backend.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
