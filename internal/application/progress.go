package application

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ahrav/go-cadmark/internal/domain"
	"github.com/ahrav/go-cadmark/internal/ports"
)

// ProgressSnapshot is a point-in-time view of a running batch.
type ProgressSnapshot struct {
	RunID     string         `json:"run_id,omitempty"`
	Done      int            `json:"done"`
	Total     int            `json:"total"`
	Last      string         `json:"last_student_id,omitempty"`
	ByStatus  map[string]int `json:"by_status"`
	UpdatedAt time.Time      `json:"updated_at,omitzero"`
}

var _ ports.ProgressObserver = (*ProgressTracker)(nil)

// ProgressTracker accumulates progress signals so they can be served to
// another goroutine, such as an HTTP handler. It is safe for concurrent use.
type ProgressTracker struct {
	mu   sync.RWMutex
	snap ProgressSnapshot
	now  func() time.Time
}

// NewProgressTracker returns an empty tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		snap: ProgressSnapshot{ByStatus: make(map[string]int)},
		now:  time.Now,
	}
}

// Start resets the tracker for a new run.
func (p *ProgressTracker) Start(runID string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = ProgressSnapshot{
		RunID:     runID,
		Total:     total,
		ByStatus:  make(map[string]int),
		UpdatedAt: p.now(),
	}
}

// OnProgress implements ports.ProgressObserver.
func (p *ProgressTracker) OnProgress(done, total int, result domain.SubmissionResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Done = done
	p.snap.Total = total
	p.snap.Last = result.StudentID
	p.snap.ByStatus[result.Status.String()]++
	p.snap.UpdatedAt = p.now()
}

// Snapshot returns a copy of the current progress.
func (p *ProgressTracker) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.snap
	s.ByStatus = make(map[string]int, len(p.snap.ByStatus))
	for k, v := range p.snap.ByStatus {
		s.ByStatus[k] = v
	}
	return s
}

// LogProgress returns an observer that logs one info line per submission.
func LogProgress(logger *zap.Logger) ports.ProgressObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return ports.ProgressFunc(func(done, total int, r domain.SubmissionResult) {
		logger.Info("progress",
			zap.Int("done", done),
			zap.Int("total", total),
			zap.String("student_id", r.StudentID),
			zap.String("status", r.Status.String()),
		)
	})
}
