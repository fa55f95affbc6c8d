package application

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ahrav/go-cadmark/internal/domain"
)

// DefaultSubmissionExtensions lists the native part formats accepted when
// no extensions are configured.
var DefaultSubmissionExtensions = []string{".par"}

// DiscoverSubmissions lists the CAD documents directly inside dir whose
// extension matches one of extensions, ignoring case. Results are sorted by
// file name and the student ID is the file name without its extension.
// Subdirectories are not descended into.
func DiscoverSubmissions(dir string, extensions []string) ([]domain.Submission, error) {
	if len(extensions) == 0 {
		extensions = DefaultSubmissionExtensions
	}
	want := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		want[ext] = struct{}{}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list submissions in %s: %w", dir, err)
	}

	var subs []domain.Submission
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if _, ok := want[strings.ToLower(ext)]; !ok {
			continue
		}
		subs = append(subs, domain.Submission{
			StudentID:  strings.TrimSuffix(name, ext),
			SourcePath: filepath.Join(dir, name),
		})
	}

	// os.ReadDir already sorts, but callers rely on the order so keep it
	// explicit.
	sort.SliceStable(subs, func(i, j int) bool {
		return filepath.Base(subs[i].SourcePath) < filepath.Base(subs[j].SourcePath)
	})
	return subs, nil
}
