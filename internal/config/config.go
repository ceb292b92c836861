package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/me/rrsched/pkg/model"
)

// Shutdown policies applied to jobs that are still live when the session ends.
const (
	OnExitTerminate = "terminate"
	OnExitDetach    = "detach"
)

// Report formats.
const (
	ReportText = "text"
	ReportYAML = "yaml"
	ReportJSON = "json"
)

// Usage is printed when the positional arguments are missing or extra.
const Usage = "Usage: scheduler <NCPU> <TSLICE(ms)>"

// Config holds configuration for a scheduling session.
type Config struct {
	NCPU   int           // Jobs resumed per slice
	TSlice time.Duration // Slice length

	LogLevel     string        // Log level: debug, info, warn, error
	LogFormat    string        // Log format: text, json
	DBPath       string        // SQLite DSN for the job store (":memory:" by default, "" for the plain in-memory store)
	ReportFormat string        // Session-end report: text, yaml, json
	OnExit       string        // Live jobs at session end: terminate, detach
	SignalGroup  bool          // Deliver suspend/resume to the job's whole process group
	ReadyTimeout time.Duration // How long the launcher waits for a new job to check in
}

// DefaultConfig returns sensible defaults. NCPU and TSlice have no default;
// they always come from the command line.
func DefaultConfig() Config {
	return Config{
		LogLevel:     "warn",
		LogFormat:    "text",
		DBPath:       ":memory:",
		ReportFormat: ReportText,
		OnExit:       OnExitTerminate,
		SignalGroup:  true,
		ReadyTimeout: 5 * time.Second,
	}
}

// ParseArgs fills NCPU and TSlice from the two positional arguments.
func (c *Config) ParseArgs(args []string) error {
	if len(args) != 2 {
		return &model.ConfigError{Message: Usage}
	}
	ncpu, err := parsePositive("NCPU", args[0])
	if err != nil {
		return err
	}
	tslice, err := parsePositive("TSLICE", args[1])
	if err != nil {
		return err
	}
	c.NCPU = ncpu
	c.TSlice = time.Duration(tslice) * time.Millisecond
	return nil
}

// Validate checks every field. All failures are ConfigErrors.
func (c Config) Validate() error {
	if c.NCPU <= 0 {
		return &model.ConfigError{Field: "NCPU", Value: strconv.Itoa(c.NCPU), Message: "must be a positive integer"}
	}
	if c.TSlice < time.Millisecond {
		return &model.ConfigError{Field: "TSLICE", Value: c.TSlice.String(), Message: "must be at least 1ms"}
	}
	switch c.ReportFormat {
	case ReportText, ReportYAML, ReportJSON:
	default:
		return &model.ConfigError{Field: "report format", Value: c.ReportFormat, Message: "want text, yaml or json"}
	}
	switch c.OnExit {
	case OnExitTerminate, OnExitDetach:
	default:
		return &model.ConfigError{Field: "on-exit policy", Value: c.OnExit, Message: "want terminate or detach"}
	}
	if c.ReadyTimeout <= 0 {
		return &model.ConfigError{Field: "ready timeout", Value: c.ReadyTimeout.String(), Message: "must be positive"}
	}
	return nil
}

func parsePositive(field, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &model.ConfigError{Field: field, Value: raw, Message: "not an integer"}
	}
	if n <= 0 {
		return 0, &model.ConfigError{Field: field, Value: raw, Message: "must be a positive integer"}
	}
	return n, nil
}

// String summarizes the scheduling parameters for logs.
func (c Config) String() string {
	return fmt.Sprintf("ncpu=%d tslice=%s", c.NCPU, c.TSlice)
}
