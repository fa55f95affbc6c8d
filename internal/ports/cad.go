// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"

	"github.com/ahrav/go-cadmark/internal/domain"
)

// Exporter converts a native CAD document into a neutral interchange file
// (typically STEP) that a geometry kernel can read.
// Implementations wrap whatever CAD automation is available on the host and
// own that application's lifecycle; callers never see it.
type Exporter interface {
	// Export writes an interchange file for sourcePath into outputDir and
	// returns its path. A file already present at the target path is
	// overwritten; that is not an error.
	//
	// The returned path must be derived deterministically from sourcePath
	// so that concurrent callers never collide within outputDir.
	Export(ctx context.Context, sourcePath, outputDir string) (string, error)
}

// GeometryKernel computes mass properties from an interchange file.
type GeometryKernel interface {
	// ReadProperties reads the file at interchangePath and returns its
	// volume, surface area and center of gravity.
	// Any read or computation failure is returned as an error.
	ReadProperties(ctx context.Context, interchangePath string) (domain.GeometricProperties, error)
}

// Extractor turns a native CAD document into geometric properties.
// Failures are reported as *domain.ExtractionError so callers can tell a
// failed export from a failed property calculation.
type Extractor interface {
	// Extract measures the document at sourcePath, using outputDir as a
	// scratch area for transient interchange files.
	Extract(ctx context.Context, sourcePath, outputDir string) (domain.Extraction, error)
}

// ExporterFunc adapts an ordinary function to the Exporter interface.
type ExporterFunc func(ctx context.Context, sourcePath, outputDir string) (string, error)

// Export calls f(ctx, sourcePath, outputDir).
func (f ExporterFunc) Export(ctx context.Context, sourcePath, outputDir string) (string, error) {
	return f(ctx, sourcePath, outputDir)
}

// GeometryKernelFunc adapts an ordinary function to the GeometryKernel
// interface.
type GeometryKernelFunc func(ctx context.Context, interchangePath string) (domain.GeometricProperties, error)

// ReadProperties calls f(ctx, interchangePath).
func (f GeometryKernelFunc) ReadProperties(ctx context.Context, interchangePath string) (domain.GeometricProperties, error) {
	return f(ctx, interchangePath)
}
