// Package testutils provides deterministic fakes of the CAD ports for tests
// across the module.
package testutils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ahrav/go-cadmark/internal/domain"
	"github.com/ahrav/go-cadmark/internal/ports"
)

// ErrScriptedFailure is returned by the fakes whenever a script says a call
// should fail.
var ErrScriptedFailure = errors.New("scripted failure")

// InterchangeExt is the extension FakeExporter gives interchange files.
const InterchangeExt = ".step"

// Stem returns the base name of path without its extension. Fakes key their
// scripts by stem so an exporter script and a kernel script can refer to the
// same submission.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var _ ports.Exporter = (*FakeExporter)(nil)

// FakeExporter is a scripted ports.Exporter. Every script is keyed by the
// stem of the source path.
type FakeExporter struct {
	// FailuresBeforeSuccess makes the first N exports of a stem fail.
	FailuresBeforeSuccess map[string]int

	// AlwaysFail lists stems whose export never succeeds.
	AlwaysFail map[string]bool

	// Panic lists stems whose export panics.
	Panic map[string]bool

	// WriteFiles creates the interchange file on disk when true.
	WriteFiles bool

	mu    sync.Mutex
	calls map[string]int
	order []string
}

// NewFakeExporter returns an exporter that always succeeds and writes
// interchange files to disk.
func NewFakeExporter() *FakeExporter {
	return &FakeExporter{
		FailuresBeforeSuccess: make(map[string]int),
		AlwaysFail:            make(map[string]bool),
		Panic:                 make(map[string]bool),
		WriteFiles:            true,
	}
}

// Export implements ports.Exporter.
func (f *FakeExporter) Export(ctx context.Context, sourcePath, outputDir string) (string, error) {
	stem := Stem(sourcePath)

	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[stem]++
	n := f.calls[stem]
	f.order = append(f.order, stem)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.Panic[stem] {
		panic("solid modeller crashed")
	}
	if f.AlwaysFail[stem] || n <= f.FailuresBeforeSuccess[stem] {
		return "", fmt.Errorf("export %s (call %d): %w", stem, n, ErrScriptedFailure)
	}

	out := filepath.Join(outputDir, stem+InterchangeExt)
	if f.WriteFiles {
		if err := os.WriteFile(out, []byte("ISO-10303-21;\n"), 0o600); err != nil {
			return "", err
		}
	}
	return out, nil
}

// Calls returns how many times stem was exported.
func (f *FakeExporter) Calls(stem string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stem]
}

// TotalCalls returns the number of Export calls across all stems.
func (f *FakeExporter) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

// Order returns the stems in the order they were exported.
func (f *FakeExporter) Order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

var _ ports.GeometryKernel = (*FakeKernel)(nil)

// FakeKernel is a scripted ports.GeometryKernel keyed by the stem of the
// interchange file.
type FakeKernel struct {
	// Properties holds the values returned per stem.
	Properties map[string]domain.GeometricProperties

	// Default is returned for stems missing from Properties.
	Default domain.GeometricProperties

	// AlwaysFail lists stems that can never be read.
	AlwaysFail map[string]bool

	// FailuresBeforeSuccess makes the first N reads of a stem fail.
	FailuresBeforeSuccess map[string]int

	mu    sync.Mutex
	calls map[string]int
}

// NewFakeKernel returns a kernel that reads every file as def.
func NewFakeKernel(def domain.GeometricProperties) *FakeKernel {
	return &FakeKernel{
		Properties:            make(map[string]domain.GeometricProperties),
		Default:               def,
		AlwaysFail:            make(map[string]bool),
		FailuresBeforeSuccess: make(map[string]int),
	}
}

// ReadProperties implements ports.GeometryKernel.
func (k *FakeKernel) ReadProperties(ctx context.Context, path string) (domain.GeometricProperties, error) {
	stem := Stem(path)

	k.mu.Lock()
	if k.calls == nil {
		k.calls = make(map[string]int)
	}
	k.calls[stem]++
	n := k.calls[stem]
	k.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.GeometricProperties{}, err
	}
	if k.AlwaysFail[stem] || n <= k.FailuresBeforeSuccess[stem] {
		return domain.GeometricProperties{}, fmt.Errorf("read %s (call %d): %w", stem, n, ErrScriptedFailure)
	}
	if props, ok := k.Properties[stem]; ok {
		return props, nil
	}
	return k.Default, nil
}

// Calls returns how many times the interchange file for stem was read.
func (k *FakeKernel) Calls(stem string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls[stem]
}

// ReferenceProperties is a plausible bracket used as the reference solution
// throughout the tests.
func ReferenceProperties() domain.GeometricProperties {
	return domain.GeometricProperties{
		Volume:          12500,
		SurfaceArea:     4200,
		CenterOfGravity: domain.Vector3{X: 25, Y: 10, Z: 5},
	}
}

// WriteSubmissions creates an empty CAD document per name in dir and returns
// their paths in the given order.
func WriteSubmissions(dir string, names ...string) ([]string, error) {
	paths := make([]string, 0, len(names))
	for _, name := range names {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(name), 0o600); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
