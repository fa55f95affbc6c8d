// Package housekeeping removes the transient files that CAD automation
// leaves behind in the scratch directory.
package housekeeping

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ahrav/go-cadmark/internal/ports"
)

// DefaultExtensions are the journal and log files most CAD exporters
// write next to their output.
var DefaultExtensions = []string{".txt", ".log"}

var _ ports.Housekeeper = (*Cleaner)(nil)

// Cleaner deletes regular files with selected extensions from the top
// level of a directory. It never descends into subdirectories and never
// stops at the first failure.
type Cleaner struct {
	extensions map[string]struct{}
	logger     *zap.Logger
	remove     func(string) error
}

// NewCleaner creates a cleaner for extensions, matched case-insensitively.
// No extensions selects DefaultExtensions.
func NewCleaner(extensions []string, logger *zap.Logger) *Cleaner {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Cleaner{extensions: exts, logger: logger, remove: os.Remove}
}

// Clean implements ports.Housekeeper. A missing directory is not an error.
func (c *Cleaner) Clean(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", dir, err)
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, ok := c.extensions[strings.ToLower(filepath.Ext(e.Name()))]; !ok {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := c.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("failed to delete transient file", zap.String("path", path), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		removed++
		c.logger.Debug("deleted transient file", zap.String("path", path))
	}
	return removed, errors.Join(errs...)
}
