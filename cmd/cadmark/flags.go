package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"

	"github.com/ahrav/go-cadmark/internal/application"
	"github.com/ahrav/go-cadmark/internal/domain"
)

// envPrefix is prepended to flag names to form environment variables:
// -output-dir is also read from CADMARK_OUTPUT_DIR.
const envPrefix = "CADMARK"

// options holds the raw command line. Flags override the YAML config file
// only when they were set explicitly or through the environment.
type options struct {
	configPath  string
	envFile     string
	reference   string
	submissions string
	outputDir   string
	report      string
	maxAttempts int
	exportCmd   string
	kernelCmd   string
	metricsAddr string
	logLevel    string
	dev         bool
	clearCache  bool
}

func newFlagSet(opts *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("cadmark", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before reading CADMARK_* variables")
	fs.StringVar(&opts.reference, "reference", "", "instructor's reference CAD document")
	fs.StringVar(&opts.submissions, "submissions", "", "directory of student submissions")
	fs.StringVar(&opts.outputDir, "output-dir", "", "scratch directory for interchange files and the report")
	fs.StringVar(&opts.report, "report", "", "CSV report path (default <output-dir>/"+application.DefaultReportName+")")
	fs.IntVar(&opts.maxAttempts, "max-attempts", application.DefaultMaxAttempts, "export-then-read attempts per document")
	fs.StringVar(&opts.exportCmd, "export-cmd", "", "export command template, e.g. 'cadexport {source} {output}'; quote words containing spaces")
	fs.StringVar(&opts.kernelCmd, "kernel-cmd", "", "geometry kernel command template, e.g. 'massprops {input}'; quote words containing spaces")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics, /healthz and /progress on this address")
	fs.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.BoolVar(&opts.dev, "dev", false, "human-readable console logs")
	fs.BoolVar(&opts.clearCache, "clear-cache", false, "drop cached measurements before grading")
	return fs
}

// parseFlags parses args and the environment, then loads the config file
// and applies overrides. The result is not validated.
func parseFlags(args []string, stderr io.Writer) (application.Config, options, error) {
	var opts options
	fs := newFlagSet(&opts, stderr)

	if err := loadEnvFile(args); err != nil {
		return application.Config{}, opts, err
	}
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix(envPrefix)); err != nil {
		return application.Config{}, opts, err
	}

	cfg := application.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := application.LoadConfig(opts.configPath)
		if err != nil {
			return application.Config{}, opts, err
		}
		cfg = loaded
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if err := applyOverrides(&cfg, opts, set); err != nil {
		return application.Config{}, opts, err
	}
	return cfg, opts, nil
}

func applyOverrides(cfg *application.Config, opts options, set map[string]bool) error {
	if set["reference"] {
		cfg.Reference = opts.reference
	}
	if set["submissions"] {
		cfg.SubmissionsDir = opts.submissions
	}
	if set["output-dir"] {
		cfg.OutputDir = opts.outputDir
	}
	if set["report"] {
		cfg.Report.Path = opts.report
	}
	if set["max-attempts"] {
		cfg.Retry.MaxAttempts = opts.maxAttempts
	}
	if set["export-cmd"] {
		argv, err := splitCommand(opts.exportCmd)
		if err != nil {
			return domain.NewConfigurationError("export.command", err)
		}
		cfg.Export.Command = argv
	}
	if set["kernel-cmd"] {
		argv, err := splitCommand(opts.kernelCmd)
		if err != nil {
			return domain.NewConfigurationError("kernel.command", err)
		}
		cfg.Kernel.Command = argv
	}
	if set["metrics-addr"] {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if set["log-level"] {
		cfg.Log.Level = opts.logLevel
	}
	if set["dev"] {
		cfg.Log.Development = opts.dev
	}
	return nil
}

// splitCommand splits a command line into argv. Whitespace separates
// words except inside single or double quotes, so a program under
// "C:\Program Files" can be named on the command line. Backslashes are
// literal to keep Windows paths intact.
func splitCommand(s string) ([]string, error) {
	var (
		argv  []string
		word  strings.Builder
		quote rune
		inArg bool
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			word.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inArg = true
		case unicode.IsSpace(r):
			if inArg {
				argv = append(argv, word.String())
				word.Reset()
				inArg = false
			}
		default:
			word.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote in %q", quote, s)
	}
	if inArg {
		argv = append(argv, word.String())
	}
	return argv, nil
}

// loadEnvFile loads the dotenv file named by -env-file or CADMARK_ENV_FILE,
// falling back to ./.env when it exists. It runs before ff so the file can
// supply CADMARK_* variables. Variables already set are not overwritten.
func loadEnvFile(args []string) error {
	path := envFileArg(args)
	if path == "" {
		path = os.Getenv(envPrefix + "_ENV_FILE")
	}
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return domain.NewConfigurationError("env_file", fmt.Errorf("load %s: %w", path, err))
	}
	return nil
}

// envFileArg finds -env-file in args without parsing the rest.
func envFileArg(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "env-file" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
