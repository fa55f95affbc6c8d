package application

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ahrav/go-cadmark/internal/domain"
)

func TestRoster_Resolve(t *testing.T) {
	r, err := NewRoster([]string{"B0012345", "B0012399", "C0077000", "Søren01"}, 2, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		id     string
		want   string
		wantOK bool
	}{
		{name: "exact", id: "B0012345", want: "B0012345", wantOK: true},
		{name: "case differs", id: "c0077000", want: "C0077000", wantOK: true},
		{name: "unicode fold", id: "SØREN01", want: "Søren01", wantOK: true},
		{name: "one typo", id: "C0077001", want: "C0077000", wantOK: true},
		{name: "suffix added", id: "C0077000v2", want: "C0077000", wantOK: true},
		{name: "too far", id: "Z9", wantOK: false},
		{name: "ambiguous", id: "B00123", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(tt.id)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoster_Resolve_ExactOnly(t *testing.T) {
	r, err := NewRoster([]string{"A1"}, 0, nil)
	require.NoError(t, err)

	_, ok := r.Resolve("A2")
	assert.False(t, ok)
	got, ok := r.Resolve("a1")
	assert.True(t, ok)
	assert.Equal(t, "A1", got)
}

func TestNewRoster_Errors(t *testing.T) {
	_, err := NewRoster([]string{"A1"}, -1, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = NewRoster([]string{"abc", "ABC"}, 1, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	r, err := NewRoster([]string{" A1 ", "", "B2"}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
}

func TestRoster_Reconcile(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r, err := NewRoster([]string{"S1", "S2", "S3", "S9"}, 1, zap.New(core))
	require.NoError(t, err)

	subs := []domain.Submission{
		{StudentID: "s2", SourcePath: "/in/s2.par"},
		{StudentID: "unknown-student", SourcePath: "/in/unknown-student.par"},
		{StudentID: "S1", SourcePath: "/in/S1.par"},
		{StudentID: "S1_", SourcePath: "/in/S1_.par"},
	}

	got := r.Reconcile(subs)

	ids := make([]string, 0, len(got))
	for _, s := range got {
		ids = append(ids, s.StudentID)
	}
	assert.Equal(t, []string{"S2", "unknown-student", "S1", "S1"}, ids)
	assert.Equal(t, "/in/s2.par", got[0].SourcePath)
	assert.Equal(t, "s2", subs[0].StudentID, "input must not be mutated")

	assert.Equal(t, 1, logs.FilterMessage("submission does not match roster").Len())
	assert.Equal(t, 1, logs.FilterMessage("several submissions resolve to the same student").Len())
	assert.Equal(t, []string{"S3", "S9"}, r.Missing(got))
}

func TestLoadRoster(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "roster.yaml")
	require.NoError(t, os.WriteFile(good, []byte("students:\n  - B001\n  - B002\n"), 0o600))
	r, err := LoadRoster(good, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("students: []\n"), 0o600))
	_, err = LoadRoster(empty, 1, nil)
	assert.Error(t, err)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("students: [B001"), 0o600))
	_, err = LoadRoster(broken, 1, nil)
	assert.Error(t, err)

	_, err = LoadRoster(filepath.Join(dir, "absent.yaml"), 1, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
