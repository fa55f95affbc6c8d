package application

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-cadmark/internal/domain"
)

// rosterFolder folds student IDs for case-insensitive comparison.
var rosterFolder = cases.Fold()

// RosterFile is the on-disk roster format.
type RosterFile struct {
	Students []string `yaml:"students" validate:"required,min=1,dive,required"`
}

// Roster maps the IDs derived from submission file names onto the
// canonical student IDs of a class list. Students rarely name files
// exactly as instructed, so exact matches are tried case-insensitively
// first and then the closest roster ID within MaxDistance edits wins.
type Roster struct {
	ids         []string
	folded      map[string]string
	maxDistance int
	logger      *zap.Logger
}

// NewRoster builds a roster from canonical IDs. maxDistance of zero
// disables fuzzy matching.
func NewRoster(ids []string, maxDistance int, logger *zap.Logger) (*Roster, error) {
	if maxDistance < 0 {
		return nil, fmt.Errorf("roster max distance %d is negative: %w", maxDistance, domain.ErrInvalidConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Roster{
		folded:      make(map[string]string, len(ids)),
		maxDistance: maxDistance,
		logger:      logger,
	}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		key := rosterFolder.String(id)
		if prev, dup := r.folded[key]; dup {
			return nil, fmt.Errorf("roster lists %q and %q which differ only by case: %w", prev, id, domain.ErrInvalidConfiguration)
		}
		r.folded[key] = id
		r.ids = append(r.ids, id)
	}
	return r, nil
}

// LoadRoster reads a YAML roster file.
func LoadRoster(path string, maxDistance int, logger *zap.Logger) (*Roster, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var f RosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("roster %s: %w", path, err)
	}
	return NewRoster(f.Students, maxDistance, logger)
}

// Len returns the number of canonical IDs.
func (r *Roster) Len() int { return len(r.ids) }

// Resolve returns the canonical ID for id. ok is false when no roster
// entry is close enough or when two entries are equally close.
func (r *Roster) Resolve(id string) (string, bool) {
	key := rosterFolder.String(strings.TrimSpace(id))
	if canonical, ok := r.folded[key]; ok {
		return canonical, true
	}
	if r.maxDistance == 0 {
		return "", false
	}

	best, bestDist, tied := "", r.maxDistance+1, false
	for _, candidate := range r.ids {
		d := levenshtein.ComputeDistance(key, rosterFolder.String(candidate))
		switch {
		case d < bestDist:
			best, bestDist, tied = candidate, d, false
		case d == bestDist:
			tied = true
		}
	}
	if best == "" || tied {
		return "", false
	}
	return best, true
}

// Reconcile rewrites the StudentID of each submission to its canonical
// roster ID. Unmatched submissions keep the ID derived from the file name
// and are logged; they are still graded.
func (r *Roster) Reconcile(subs []domain.Submission) []domain.Submission {
	out := make([]domain.Submission, len(subs))
	claimed := make(map[string]string, len(subs))
	for i, sub := range subs {
		out[i] = sub
		canonical, ok := r.Resolve(sub.StudentID)
		if !ok {
			r.logger.Warn("submission does not match roster",
				zap.String("student_id", sub.StudentID),
				zap.String("source", sub.SourcePath),
			)
			continue
		}
		if prev, dup := claimed[canonical]; dup {
			r.logger.Warn("several submissions resolve to the same student",
				zap.String("student_id", canonical),
				zap.String("source", sub.SourcePath),
				zap.String("previous_source", prev),
			)
		}
		claimed[canonical] = sub.SourcePath
		if canonical != sub.StudentID {
			r.logger.Info("submission matched to roster",
				zap.String("from", sub.StudentID),
				zap.String("to", canonical),
			)
		}
		out[i].StudentID = canonical
	}
	return out
}

// Missing returns roster IDs with no submission among subs, in roster
// order. subs must already be reconciled.
func (r *Roster) Missing(subs []domain.Submission) []string {
	seen := make(map[string]struct{}, len(subs))
	for _, s := range subs {
		seen[s.StudentID] = struct{}{}
	}
	var missing []string
	for _, id := range r.ids {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
