package cad

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

const (
	// maxStderr bounds how much of a command's standard error is kept.
	maxStderr = 4 << 10
	// waitDelay bounds how long a killed command's children may hold its
	// output pipes open.
	waitDelay = 2 * time.Second
)

// Placeholders substituted into argv templates.
const (
	PlaceholderSource    = "{source}"
	PlaceholderOutputDir = "{output_dir}"
	PlaceholderOutput    = "{output}"
	PlaceholderInput     = "{input}"
)

// expand substitutes vars into every element of argv. Placeholders may
// appear anywhere inside an argument, as in "--out={output}".
func expand(argv []string, vars map[string]string) []string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, k, v)
	}
	r := strings.NewReplacer(pairs...)

	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	buf bytes.Buffer
	max int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	n := len(p)
	w.buf.Write(p)
	if over := w.buf.Len() - w.max; over > 0 {
		w.buf.Next(over)
	}
	return n, nil
}

func (w *tailWriter) String() string { return w.buf.String() }

// run executes argv and returns its standard output. Failures are
// reported as *CommandError.
func run(ctx context.Context, op string, argv []string) ([]byte, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, NewCommandError(op, "", -1, "", ErrEmptyCommand)
	}

	//nolint:gosec // G204: the command line comes from operator configuration.
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout bytes.Buffer
	stderr := &tailWriter{max: maxStderr}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		return nil, NewCommandError(op, argv[0], code, stderr.String(), err)
	}
	return stdout.Bytes(), nil
}
