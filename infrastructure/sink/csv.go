// Package sink persists completed grading runs.
package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ahrav/go-cadmark/internal/application"
	"github.com/ahrav/go-cadmark/internal/domain"
	"github.com/ahrav/go-cadmark/internal/ports"
)

var _ ports.ResultSink = (*CSVFileSink)(nil)

// CSVFileSink writes the run's report to a CSV file. The file is written
// to a temporary name and renamed into place, so readers never see a
// half-written report and an earlier report survives a failed write.
type CSVFileSink struct {
	path   string
	logger *zap.Logger
}

// NewCSVFileSink creates a sink writing to path.
func NewCSVFileSink(path string, logger *zap.Logger) *CSVFileSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVFileSink{path: path, logger: logger}
}

// Name implements ports.ResultSink.
func (s *CSVFileSink) Name() string { return "csv" }

// Path returns the report location.
func (s *CSVFileSink) Path() string { return s.path }

// Write implements ports.ResultSink.
func (s *CSVFileSink) Write(_ context.Context, run domain.BatchRun) (err error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := application.WriteCSV(tmp, run.Results); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod report: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("publish report: %w", err)
	}

	s.logger.Info("report written", zap.String("path", s.path), zap.Int("rows", len(run.Results)))
	return nil
}
