package ports

import (
	"context"

	"github.com/ahrav/go-cadmark/internal/domain"
)

// ProgressObserver receives a signal after every graded submission.
// Observers are monitoring hooks: they must not block for long and cannot
// influence the batch.
type ProgressObserver interface {
	// OnProgress reports that done of total submissions have been graded;
	// result is the submission that just finished.
	OnProgress(done, total int, result domain.SubmissionResult)
}

// ProgressFunc adapts an ordinary function to the ProgressObserver interface.
type ProgressFunc func(done, total int, result domain.SubmissionResult)

// OnProgress calls f(done, total, result).
func (f ProgressFunc) OnProgress(done, total int, result domain.SubmissionResult) {
	f(done, total, result)
}

// ResultSink persists a completed grading run.
// Implementations could write files, databases or remote gradebooks.
type ResultSink interface {
	// Name identifies the sink in logs.
	Name() string

	// Write persists run. It is called once per run after all submissions
	// are graded.
	Write(ctx context.Context, run domain.BatchRun) error
}

// Housekeeper removes transient artifacts that CAD automation leaves behind
// in a scratch directory.
type Housekeeper interface {
	// Clean deletes transient files in dir and returns how many were
	// removed. Individual deletion failures are reported but never stop the
	// sweep.
	Clean(dir string) (int, error)
}
