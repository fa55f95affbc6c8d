package cad

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ahrav/go-cadmark/internal/ports"
)

// DefaultInterchangeExt is the extension of exported files.
const DefaultInterchangeExt = ".step"

var _ ports.Exporter = (*CommandExporter)(nil)

// CommandExporter exports native CAD documents by running an external
// program. The argv template may reference {source}, {output_dir} and
// {output}; the output path is always <output_dir>/<stem><ext> so two
// submissions never share an interchange file.
type CommandExporter struct {
	argv   []string
	ext    string
	logger *zap.Logger
}

// NewCommandExporter creates an exporter from an argv template. The slice
// is copied, and an empty program yields ErrEmptyCommand. An empty ext
// selects DefaultInterchangeExt and a missing leading dot is added.
func NewCommandExporter(argv []string, ext string, logger *zap.Logger) (*CommandExporter, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, ErrEmptyCommand
	}
	if ext == "" {
		ext = DefaultInterchangeExt
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandExporter{argv: append([]string(nil), argv...), ext: ext, logger: logger}, nil
}

// OutputPath returns where Export writes the interchange file for
// sourcePath. Callers use it to find or remove an export without running
// the command.
func (e *CommandExporter) OutputPath(sourcePath, outputDir string) string {
	base := filepath.Base(sourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outputDir, stem+e.ext)
}

// Export implements ports.Exporter.
func (e *CommandExporter) Export(ctx context.Context, sourcePath, outputDir string) (string, error) {
	out := e.OutputPath(sourcePath, outputDir)

	// A stale file from an earlier attempt would mask a failed export.
	if err := os.Remove(out); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("remove stale interchange file: %w", err)
	}

	argv := expand(e.argv, map[string]string{
		PlaceholderSource:    sourcePath,
		PlaceholderOutputDir: outputDir,
		PlaceholderOutput:    out,
	})
	e.logger.Debug("exporting", zap.Strings("argv", argv))

	if _, err := run(ctx, "export", argv); err != nil {
		return "", err
	}

	info, err := os.Stat(out)
	if err != nil {
		return "", NewCommandError("export", argv[0], 0, "", fmt.Errorf("%w: %s", ErrNoOutput, out))
	}
	if !info.Mode().IsRegular() {
		return "", NewCommandError("export", argv[0], 0, "", fmt.Errorf("%w: %s is not a regular file", ErrNoOutput, out))
	}
	return out, nil
}
