package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-cadmark/internal/domain"
)

func TestEnvFileArg(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "absent", args: []string{"-reference", "r.par"}, want: ""},
		{name: "separate value", args: []string{"-env-file", "a.env"}, want: "a.env"},
		{name: "equals", args: []string{"--env-file=b.env"}, want: "b.env"},
		{name: "after terminator", args: []string{"--", "-env-file", "c.env"}, want: ""},
		{name: "dangling", args: []string{"-env-file"}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, envFileArg(tt.args))
		})
	}
}

func TestParseFlags_OverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cadmark.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
reference: from-file.par
submissions_dir: /subs
output_dir: /out
retry:
  max_attempts: 5
export:
  command: [cadexport, "{source}", "{output}"]
kernel:
  command: [massprops, "{input}"]
`), 0o600))

	cfg, _, err := parseFlags([]string{
		"-config", cfgPath,
		"-reference", "from-flag.par",
		"-kernel-cmd", "other-kernel --json {input}",
	}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "from-flag.par", cfg.Reference)
	assert.Equal(t, "/subs", cfg.SubmissionsDir)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts, "unset flag must not override the file")
	assert.Equal(t, []string{"cadexport", "{source}", "{output}"}, cfg.Export.Command)
	assert.Equal(t, []string{"other-kernel", "--json", "{input}"}, cfg.Kernel.Command)
	assert.NoError(t, cfg.Validate())
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{name: "plain words", in: "massprops  --json {input}", want: []string{"massprops", "--json", "{input}"}},
		{
			name: "double-quoted windows path",
			in:   `"C:\Program Files\Cad\export.exe" {source} {output}`,
			want: []string{`C:\Program Files\Cad\export.exe`, "{source}", "{output}"},
		},
		{name: "single quotes", in: `'/opt/cad tools/export' {source}`, want: []string{"/opt/cad tools/export", "{source}"}},
		{name: "quote inside word", in: `--out="a b"`, want: []string{"--out=a b"}},
		{name: "empty quoted argument", in: `tool ""`, want: []string{"tool", ""}},
		{name: "blank", in: "   ", want: nil},
		{name: "unterminated", in: `"C:\Program Files\x.exe {source}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitCommand(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFlags_QuotedCommand(t *testing.T) {
	cfg, _, err := parseFlags([]string{
		"-export-cmd", `"/opt/cad suite/export" {source} {output}`,
	}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/cad suite/export", "{source}", "{output}"}, cfg.Export.Command)

	_, _, err = parseFlags([]string{"-kernel-cmd", `"massprops {input}`}, &bytes.Buffer{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestParseFlags_Environment(t *testing.T) {
	t.Setenv("CADMARK_OUTPUT_DIR", "/env-out")
	t.Setenv("CADMARK_MAX_ATTEMPTS", "7")

	cfg, _, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "/env-out", cfg.OutputDir)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
}

func TestParseFlags_EnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "grading.env")
	require.NoError(t, os.WriteFile(envPath, []byte("CADMARK_SUBMISSIONS=/from-dotenv\n"), 0o600))
	t.Setenv("CADMARK_SUBMISSIONS", "")
	require.NoError(t, os.Unsetenv("CADMARK_SUBMISSIONS"))

	cfg, _, err := parseFlags([]string{"-env-file", envPath}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "/from-dotenv", cfg.SubmissionsDir)
}

func TestParseFlags_MissingEnvFile(t *testing.T) {
	_, _, err := parseFlags([]string{"-env-file", filepath.Join(t.TempDir(), "missing.env")}, &bytes.Buffer{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestExitCode(t *testing.T) {
	deadline := domain.NewConfigurationError("reference",
		fmt.Errorf("%w: %w", domain.ErrReferenceUnavailable, context.DeadlineExceeded))

	tests := []struct {
		name      string
		cancelled bool
		err       error
		want      int
	}{
		{name: "success", err: nil, want: exitOK},
		{name: "success after signal", cancelled: true, err: nil, want: exitOK},
		{name: "cancelled", cancelled: true, err: context.Canceled, want: exitCancelled},
		{name: "cancelled and sink failure", cancelled: true, err: errors.Join(context.Canceled, errors.New("disk full")), want: exitCancelled},
		{name: "configuration", err: domain.NewConfigurationError("reference", domain.ErrReferenceUnavailable), want: exitFailure},
		{name: "reference export deadline with live context", err: deadline, want: exitFailure},
		{name: "sink driver deadline with live context", err: fmt.Errorf("postgres: %w", context.DeadlineExceeded), want: exitFailure},
		{name: "other", err: errors.New("boom"), want: exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancelled {
				cancel()
			}
			assert.Equal(t, tt.want, exitCode(ctx, tt.err))
		})
	}
}

func TestRun_InvalidConfiguration(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"-reference", "x.par"}, &stderr)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr.String(), "configuration error")
}

func TestRun_Help(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, exitOK, run(context.Background(), []string{"-h"}, &stderr))
	assert.Contains(t, stderr.String(), "-export-cmd")
}

// writeScript writes an executable shell script into dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o700))
	return p
}

func TestRun_EndToEnd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell fixtures require a POSIX shell")
	}
	root := t.TempDir()
	subs := filepath.Join(root, "subs")
	out := filepath.Join(root, "out")
	require.NoError(t, os.MkdirAll(subs, 0o750))

	ref := filepath.Join(root, "reference.par")
	require.NoError(t, os.WriteFile(ref, []byte("ref"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(subs, "S1.par"), []byte("ok"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(subs, "S2.par"), []byte("broken"), 0o600))

	// The exporter fails for S2; the kernel reports the reference values.
	exporter := writeScript(t, root, "export.sh", `case "$1" in *S2.par) exit 3;; esac
cp "$1" "$2"
`)
	kernel := writeScript(t, root, "kernel.sh",
		`echo '{"volume": 12500, "surface_area": 4200, "center_of_gravity": [25, 10, 5]}'
`)

	var stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-reference", ref,
		"-submissions", subs,
		"-output-dir", out,
		"-export-cmd", fmt.Sprintf("%s {source} {output}", exporter),
		"-kernel-cmd", fmt.Sprintf("%s {input}", kernel),
		"-max-attempts", "2",
	}, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	data, err := os.ReadFile(filepath.Join(out, "submission_results.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `S1,12500.000,4200.000,"(25.000, 10.000, 5.000)",5.00,5.00,5.00`, lines[1])
	assert.Equal(t, "S2,ExtractionFailed,ExtractionFailed,ExtractionFailed,ExtractionFailed,ExtractionFailed,ExtractionFailed", lines[2])

	_, err = os.Stat(filepath.Join(out, "S1.step"))
	assert.ErrorIs(t, err, os.ErrNotExist, "interchange file is deleted after a successful read")
}

func TestRun_ReferenceExportTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell fixtures require a POSIX shell")
	}
	root := t.TempDir()
	subs := filepath.Join(root, "subs")
	require.NoError(t, os.MkdirAll(subs, 0o750))
	ref := filepath.Join(root, "reference.par")
	require.NoError(t, os.WriteFile(ref, []byte("ref"), 0o600))

	exporter := writeScript(t, root, "export.sh", "exec sleep 5\n")
	kernel := writeScript(t, root, "kernel.sh", "exit 1\n")

	cfgPath := filepath.Join(root, "cadmark.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("export:\n  timeout_seconds: 1\n"), 0o600))

	var stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-config", cfgPath,
		"-reference", ref,
		"-submissions", subs,
		"-output-dir", filepath.Join(root, "out"),
		"-export-cmd", exporter + " {source} {output}",
		"-kernel-cmd", kernel + " {input}",
		"-max-attempts", "1",
	}, &stderr)
	assert.Equal(t, exitFailure, code, "a timed-out reference export is a configuration failure, not a cancellation")
}
