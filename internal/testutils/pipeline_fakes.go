package testutils

import (
	"context"
	"sync"

	"github.com/ahrav/go-cadmark/internal/domain"
	"github.com/ahrav/go-cadmark/internal/ports"
)

var _ ports.ResultSink = (*MemorySink)(nil)

// MemorySink records every run it is given.
type MemorySink struct {
	// SinkName is returned by Name; defaults to "memory".
	SinkName string
	// Err is returned from every Write when set.
	Err error

	mu   sync.Mutex
	runs []domain.BatchRun
}

// Name implements ports.ResultSink.
func (s *MemorySink) Name() string {
	if s.SinkName == "" {
		return "memory"
	}
	return s.SinkName
}

// Write implements ports.ResultSink. Runs are recorded even when Err is set.
func (s *MemorySink) Write(_ context.Context, run domain.BatchRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return s.Err
}

// Runs returns the recorded runs.
func (s *MemorySink) Runs() []domain.BatchRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.BatchRun(nil), s.runs...)
}

var _ ports.Housekeeper = (*FakeHousekeeper)(nil)

// FakeHousekeeper counts Clean calls without touching the filesystem.
type FakeHousekeeper struct {
	// Err is returned from every Clean when set.
	Err error

	mu   sync.Mutex
	dirs []string
}

// Clean implements ports.Housekeeper.
func (h *FakeHousekeeper) Clean(dir string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dirs = append(h.dirs, dir)
	return 0, h.Err
}

// Calls returns the directories Clean was called with.
func (h *FakeHousekeeper) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.dirs...)
}
