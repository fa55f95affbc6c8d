package cad

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript creates an executable shell script in a temporary directory
// and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "tool.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o700))
	return path
}

func TestExpand(t *testing.T) {
	got := expand(
		[]string{"tool", "--in={source}", "{output}", "{output_dir}/log", "{unknown}"},
		map[string]string{
			PlaceholderSource:    "/subs/S1.par",
			PlaceholderOutput:    "/out/S1.step",
			PlaceholderOutputDir: "/out",
		},
	)
	assert.Equal(t, []string{"tool", "--in=/subs/S1.par", "/out/S1.step", "/out/log", "{unknown}"}, got)
}

func TestTailWriter(t *testing.T) {
	w := &tailWriter{max: 5}
	n, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, _ = w.Write([]byte("defgh"))
	assert.Equal(t, "defgh", w.String())
}

func TestRun(t *testing.T) {
	t.Run("stdout", func(t *testing.T) {
		script := writeScript(t, `echo "hello $1"`)
		out, err := run(context.Background(), OpRead, []string{script, "world"})
		require.NoError(t, err)
		assert.Equal(t, "hello world\n", string(out))
	})

	t.Run("non-zero exit", func(t *testing.T) {
		script := writeScript(t, `echo "licence unavailable" >&2; exit 3`)
		_, err := run(context.Background(), OpExport, []string{script})

		var cerr *CommandError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, OpExport, cerr.Op)
		assert.Equal(t, 3, cerr.ExitCode)
		assert.Contains(t, cerr.Stderr, "licence unavailable")
		assert.Contains(t, err.Error(), "(exit 3)")
	})

	t.Run("missing program", func(t *testing.T) {
		_, err := run(context.Background(), OpExport, []string{filepath.Join(t.TempDir(), "absent")})
		var cerr *CommandError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, -1, cerr.ExitCode)
	})

	t.Run("empty argv", func(t *testing.T) {
		_, err := run(context.Background(), OpExport, nil)
		assert.ErrorIs(t, err, ErrEmptyCommand)
	})

	t.Run("deadline", func(t *testing.T) {
		script := writeScript(t, `exec sleep 5`)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := run(ctx, OpExport, []string{script})

		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 4*time.Second)
	})
}

func TestCommandExporter(t *testing.T) {
	t.Run("writes interchange file", func(t *testing.T) {
		script := writeScript(t, `cp "$1" "$2"`)
		src := filepath.Join(t.TempDir(), "S1.par")
		require.NoError(t, os.WriteFile(src, []byte("solid"), 0o600))
		outDir := t.TempDir()

		e, err := NewCommandExporter([]string{script, PlaceholderSource, PlaceholderOutput}, "", nil)
		require.NoError(t, err)

		out, err := e.Export(context.Background(), src, outDir)

		require.NoError(t, err)
		assert.Equal(t, filepath.Join(outDir, "S1.step"), out)
		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "solid", string(data))
	})

	t.Run("stale output is not mistaken for success", func(t *testing.T) {
		script := writeScript(t, `exit 0`)
		outDir := t.TempDir()
		stale := filepath.Join(outDir, "S1.stp")
		require.NoError(t, os.WriteFile(stale, []byte("old"), 0o600))

		e, err := NewCommandExporter([]string{script}, "stp", nil)
		require.NoError(t, err)

		_, err = e.Export(context.Background(), filepath.Join("/subs", "S1.par"), outDir)

		require.ErrorIs(t, err, ErrNoOutput)
		_, statErr := os.Stat(stale)
		assert.True(t, errors.Is(statErr, os.ErrNotExist))
	})

	t.Run("command failure", func(t *testing.T) {
		script := writeScript(t, `exit 1`)
		e, err := NewCommandExporter([]string{script}, ".step", nil)
		require.NoError(t, err)

		_, err = e.Export(context.Background(), "S1.par", t.TempDir())

		var cerr *CommandError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, 1, cerr.ExitCode)
	})

	t.Run("empty command", func(t *testing.T) {
		_, err := NewCommandExporter([]string{" "}, "", nil)
		assert.ErrorIs(t, err, ErrEmptyCommand)
	})
}

func TestCommandExporter_OutputPath(t *testing.T) {
	e, err := NewCommandExporter([]string{"x"}, ".step", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/out", "B001.v2.step"), e.OutputPath("/subs/B001.v2.par", "/out"))
}

func TestNewCommandExporter_Extension(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		want string
	}{
		{name: "default", ext: "", want: "S1.step"},
		{name: "missing dot", ext: "stp", want: "S1.stp"},
		{name: "with dot", ext: ".igs", want: "S1.igs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewCommandExporter([]string{"x"}, tt.ext, nil)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join("/out", tt.want), e.OutputPath("/subs/S1.par", "/out"))
		})
	}
}

func TestNewCommand_CopiesArgv(t *testing.T) {
	argv := []string{"tool", PlaceholderInput}

	e, err := NewCommandExporter(argv, "", nil)
	require.NoError(t, err)
	k, err := NewCommandKernel(argv, nil)
	require.NoError(t, err)
	argv[0] = "changed"

	assert.Equal(t, "tool", e.argv[0])
	assert.Equal(t, "tool", k.argv[0])
}

func TestCommandKernel(t *testing.T) {
	t.Run("reads properties", func(t *testing.T) {
		script := writeScript(t, `echo "{\"volume\": 12500.5, \"surface_area\": 4200, \"center_of_gravity\": [25, -10, 5], \"file\": \"$1\"}"`)
		k, err := NewCommandKernel([]string{script, PlaceholderInput}, nil)
		require.NoError(t, err)

		props, err := k.ReadProperties(context.Background(), "/out/S1.step")

		require.NoError(t, err)
		assert.Equal(t, 12500.5, props.Volume)
		assert.Equal(t, 4200.0, props.SurfaceArea)
		assert.Equal(t, -10.0, props.CenterOfGravity.Y)
	})

	t.Run("garbage output", func(t *testing.T) {
		script := writeScript(t, `echo "Mass properties unavailable"`)
		k, err := NewCommandKernel([]string{script}, nil)
		require.NoError(t, err)

		_, err = k.ReadProperties(context.Background(), "S1.step")

		var cerr *CommandError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, OpRead, cerr.Op)
		assert.True(t, strings.Contains(err.Error(), "not JSON"))
	})
}

func TestParseProperties(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantCG  [3]float64
		wantErr string
	}{
		{name: "array", input: `{"volume":1,"surface_area":2,"center_of_gravity":[3,4,5]}`, wantCG: [3]float64{3, 4, 5}},
		{name: "object", input: `{"volume":1,"surface_area":2,"center_of_gravity":{"x":-3,"y":4.5,"z":0}}`, wantCG: [3]float64{-3, 4.5, 0}},
		{name: "missing volume", input: `{"surface_area":2,"center_of_gravity":[3,4,5]}`, wantErr: "missing volume"},
		{name: "string area", input: `{"volume":1,"surface_area":"2","center_of_gravity":[3,4,5]}`, wantErr: "surface_area is not a number"},
		{name: "short vector", input: `{"volume":1,"surface_area":2,"center_of_gravity":[3,4]}`, wantErr: "2 components"},
		{name: "null component", input: `{"volume":1,"surface_area":2,"center_of_gravity":[3,null,5]}`, wantErr: "center_of_gravity[1]"},
		{name: "object missing z", input: `{"volume":1,"surface_area":2,"center_of_gravity":{"x":1,"y":2}}`, wantErr: "missing z"},
		{name: "scalar cg", input: `{"volume":1,"surface_area":2,"center_of_gravity":7}`, wantErr: "array or object"},
		{name: "missing cg", input: `{"volume":1,"surface_area":2}`, wantErr: "missing center_of_gravity"},
		{name: "invalid json", input: `{"volume":`, wantErr: "not JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props, err := ParseProperties([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1.0, props.Volume)
			assert.Equal(t, 2.0, props.SurfaceArea)
			assert.Equal(t, tt.wantCG, props.CenterOfGravity.Components())
		})
	}
}
