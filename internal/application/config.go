// Package application holds the grading pipeline: extraction with retry,
// batch processing, reporting and the orchestration that ties them
// together.
package application

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-cadmark/internal/domain"
)

// DefaultReportName is the report file written into the output directory
// when no explicit report path is configured.
const DefaultReportName = "submission_results.csv"

// Config is the complete grading configuration, normally read from YAML
// and then overridden by command-line flags.
type Config struct {
	// Reference is the instructor's reference solution.
	Reference string `yaml:"reference" validate:"required"`
	// SubmissionsDir holds one CAD document per student.
	SubmissionsDir string `yaml:"submissions_dir" validate:"required"`
	// OutputDir is the scratch area for interchange files and the default
	// location of the report.
	OutputDir string `yaml:"output_dir" validate:"required"`
	// SubmissionExtensions selects which files in SubmissionsDir are
	// graded. Matching ignores case.
	SubmissionExtensions []string `yaml:"submission_extensions" validate:"required,min=1,dive,fileext"`

	Retry        ExtractionRetryConfig `yaml:"retry"`
	Scale        domain.Scale          `yaml:"scale" validate:"omitempty,scale"`
	Export       ExportConfig          `yaml:"export"`
	Kernel       KernelConfig          `yaml:"kernel"`
	Report       ReportConfig          `yaml:"report"`
	Housekeeping HousekeepingConfig    `yaml:"housekeeping"`
	Roster       RosterConfig          `yaml:"roster"`
	Cache        CacheConfig           `yaml:"cache"`
	Metrics      MetricsConfig         `yaml:"metrics"`
	Log          LogConfig             `yaml:"log"`
}

// ExtractionRetryConfig controls how often a document is re-exported
// before it is given up on.
type ExtractionRetryConfig struct {
	// MaxAttempts is the total number of export-then-read attempts.
	MaxAttempts int `yaml:"max_attempts" validate:"min=1,max=10"`
	// BackoffType determines the delay growth between attempts.
	BackoffType string `yaml:"backoff_type" validate:"omitempty,oneof=constant exponential linear"`
	// InitialWait is the base delay in milliseconds; zero retries
	// immediately.
	InitialWait int `yaml:"initial_wait_ms" validate:"min=0,max=60000"`
	// MaxWait caps the delay in milliseconds.
	MaxWait int `yaml:"max_wait_ms" validate:"min=0,max=300000"`
	// JitterPercent spreads retries of several graders apart.
	JitterPercent float64 `yaml:"jitter_percent" validate:"min=0,max=1"`
}

// ExportConfig describes the external command that converts a native CAD
// document into an interchange file.
type ExportConfig struct {
	// Command is the argv template. {source}, {output_dir} and {output}
	// are substituted per call.
	Command []string `yaml:"command" validate:"required,min=1,placeholder=source"`
	// Extension of the interchange file the command writes.
	Extension string `yaml:"extension" validate:"required,fileext"`
	// TimeoutSeconds bounds a single export. Zero disables the deadline.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"min=0,max=3600"`
	// LaunchesPerMinute paces how often the CAD application is started.
	// Zero means unlimited.
	LaunchesPerMinute float64 `yaml:"launches_per_minute" validate:"min=0"`
	// BreakerThreshold is the number of consecutive failures after which
	// exports fail fast. Zero disables the breaker.
	BreakerThreshold int `yaml:"breaker_threshold" validate:"min=0,max=100"`
	// BreakerCooldownSeconds is how long the breaker stays open.
	BreakerCooldownSeconds int `yaml:"breaker_cooldown_seconds" validate:"min=0,max=3600"`
}

// KernelConfig describes the external geometry kernel command.
type KernelConfig struct {
	// Command is the argv template; {input} is the interchange file.
	Command []string `yaml:"command" validate:"required,min=1,placeholder=input"`
	// TimeoutSeconds bounds a single read. Zero disables the deadline.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"min=0,max=3600"`
}

// ReportConfig selects where results are persisted.
type ReportConfig struct {
	// Path of the CSV report. Empty means OutputDir/DefaultReportName.
	Path string `yaml:"path"`
	// PostgresDSN enables the database sink when set.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// HousekeepingConfig lists the transient files removed from OutputDir.
type HousekeepingConfig struct {
	Extensions []string `yaml:"extensions" validate:"dive,fileext"`
}

// RosterConfig enables reconciling file-derived IDs with a class list.
type RosterConfig struct {
	// Path to a YAML roster. Empty disables reconciliation.
	Path string `yaml:"path"`
	// MaxDistance is the largest edit distance accepted for a fuzzy match.
	MaxDistance int `yaml:"max_distance" validate:"min=0,max=5"`
}

// CacheConfig enables caching measured properties across runs.
type CacheConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=none memory redis"`
	RedisURL   string `yaml:"redis_url" validate:"required_if=Backend redis"`
	TTLSeconds int    `yaml:"ttl_seconds" validate:"min=0"`
}

// MetricsConfig controls the optional HTTP endpoint.
type MetricsConfig struct {
	// Addr is the listen address, for example ":9090". Empty disables it.
	Addr string `yaml:"addr" validate:"omitempty,listenaddr"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns a configuration with every optional field set.
// The reference, directories and commands still have to be supplied.
func DefaultConfig() Config {
	return Config{
		SubmissionExtensions: append([]string(nil), DefaultSubmissionExtensions...),
		Retry: ExtractionRetryConfig{
			MaxAttempts:   DefaultMaxAttempts,
			BackoffType:   string(BackoffConstant),
			JitterPercent: DefaultJitterPercent,
		},
		Export: ExportConfig{
			Extension:              ".step",
			TimeoutSeconds:         300,
			BreakerCooldownSeconds: 60,
		},
		Kernel: KernelConfig{
			TimeoutSeconds: 120,
		},
		Housekeeping: HousekeepingConfig{Extensions: []string{".txt", ".log"}},
		Roster:       RosterConfig{MaxDistance: 2},
		Cache:        CacheConfig{Backend: "none"},
		Log:          LogConfig{Level: "info"},
	}
}

// LoadConfig reads the YAML file at path over DefaultConfig. It does not
// validate, so callers can apply flag overrides first and then call
// Validate.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return Config{}, domain.NewConfigurationError("config", err)
	}
	defer f.Close()
	return ParseConfig(f)
}

// ParseConfig decodes YAML from r over DefaultConfig. Unknown fields are
// rejected so typos are not silently ignored.
func ParseConfig(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, domain.NewConfigurationError("config", err)
	}

	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, domain.NewConfigurationError("config", fmt.Errorf("YAML decode failed: %w", err))
	}
	return cfg, nil
}

// Validate checks every field. The returned error is a
// *domain.ConfigurationError naming the first offending field.
func (c Config) Validate() error {
	v, err := newConfigValidator()
	if err != nil {
		return domain.NewConfigurationError("validator", err)
	}
	if err := v.Struct(c); err != nil {
		return domain.NewConfigurationError(firstFieldError(err), fmt.Errorf("struct validation failed: %w", err))
	}
	return nil
}

// RetryConfig converts the retry section for the extractor.
func (c Config) RetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   c.Retry.MaxAttempts,
		Backoff:       BackoffType(c.Retry.BackoffType),
		BaseDelay:     time.Duration(c.Retry.InitialWait) * time.Millisecond,
		MaxDelay:      time.Duration(c.Retry.MaxWait) * time.Millisecond,
		JitterPercent: c.Retry.JitterPercent,
	}
}

// MarkScale returns the configured tolerance table, or the default one.
func (c Config) MarkScale() domain.Scale {
	if len(c.Scale) == 0 {
		return domain.DefaultScale()
	}
	return c.Scale
}

// ReportPath returns where the CSV report is written.
func (c Config) ReportPath() string {
	if c.Report.Path != "" {
		return c.Report.Path
	}
	return filepath.Join(c.OutputDir, DefaultReportName)
}

// CacheTTL returns the cache entry lifetime; zero keeps entries forever.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
