// Command cadmark grades a directory of student CAD submissions against an
// instructor's reference solution and writes a CSV report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-cadmark/infrastructure/httpserver"
	"github.com/ahrav/go-cadmark/infrastructure/logging"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitCancelled = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one grading run and returns the process exit code. Failed
// submissions do not make the run fail; they are reported in the CSV.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	cfg, opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "cadmark: %v\n", err)
		return exitFailure
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "cadmark: %v\n", err)
		return exitFailure
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(stderr, "cadmark: %v\n", err)
		return exitFailure
	}
	defer func() { _ = logger.Sync() }()

	a, err := build(ctx, cfg, opts, logger)
	if err != nil {
		logger.Error("failed to initialise grader", zap.Error(err))
		return exitFailure
	}
	defer a.close(logger)

	var ln net.Listener
	if cfg.Metrics.Addr != "" {
		ln, err = net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			logger.Error("failed to start metrics server", zap.String("addr", cfg.Metrics.Addr), zap.Error(err))
			return exitFailure
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	if ln != nil {
		srv := httpserver.NewServer(cfg.Metrics.Addr, a.registry, a.tracker, logger.Named("http"))
		g.Go(func() error { return srv.Serve(serveCtx, ln) })
	}

	var runErr error
	g.Go(func() error {
		defer stopServing()
		_, runErr = a.grader.Run(ctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Warn("metrics server stopped with error", zap.Error(err))
	}

	code := exitCode(ctx, runErr)
	switch code {
	case exitCancelled:
		logger.Warn("grading interrupted", zap.Error(runErr))
	case exitFailure:
		logger.Error("grading failed", zap.Error(runErr))
	}
	return code
}

// exitCode maps a run error to the process exit code. A run counts as
// cancelled only when ctx itself is done; a per-call deadline buried in
// err is an ordinary failure. Configuration errors, including an
// unmeasurable reference, and sink failures exit 1.
func exitCode(ctx context.Context, err error) int {
	switch {
	case err == nil:
		return exitOK
	case ctx.Err() != nil:
		return exitCancelled
	default:
		return exitFailure
	}
}
