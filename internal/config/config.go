// Package config parses the environment variables that control
// heapguard's tracking behavior at load time (spec §4.4, §6).
package config

import (
	"os"
	"strconv"

	"github.com/heapguard/heapguard/internal/classify"
	"github.com/heapguard/heapguard/internal/errors"
)

// Defaults mirror spec §4.4/§6.
const (
	DefaultBacktraceFrames = 128
	DefaultDumpPrefix      = "/tmp/heapguard"
	DefaultDumpSignal      = 12 // SIGUSR2
	DefaultMinSize         = 0
	DefaultMaxSize         = ^uint64(0) >> 1 // effectively unbounded
	DefaultPeakThresholdMB = 0
)

// Config holds the parsed, validated option set. Zero value is never
// used directly — Load always returns one seeded from defaultConfig.
type Config struct {
	TrackAllocs      bool
	Backtrace        bool
	BacktraceSpecific bool
	RecordPeak       bool
	DumpOnSignal     bool
	DumpOnExit       bool

	BacktraceFrames int
	MinSize         uint64
	MaxSize         uint64
	PeakThresholdMB uint64
	DumpSignal      int
	DumpPrefix      string

	MMapMode classify.MMapMode
}

// Option mutates a Config during construction, following the teacher's
// functional-options idiom (internal/allocator.Option, pre-transform).
type Option func(*Config)

// Diagnostic names spec §3.4's non-fatal Load-time diagnostic; it is
// exactly an *errors.TrackerError, aliased so this package's public API
// reads in the spec's own vocabulary instead of internal/errors's.
type Diagnostic = *errors.TrackerError

func defaultConfig() *Config {
	return &Config{
		BacktraceFrames: DefaultBacktraceFrames,
		MinSize:         DefaultMinSize,
		MaxSize:         DefaultMaxSize,
		PeakThresholdMB: DefaultPeakThresholdMB,
		DumpSignal:      DefaultDumpSignal,
		DumpPrefix:      DefaultDumpPrefix,
		MMapMode:        classify.ModeBoth,
	}
}

func WithMMapMode(mode classify.MMapMode) Option {
	return func(c *Config) { c.MMapMode = mode }
}

// Load parses the recognized environment variables into a Config.
// Invalid numeric input downgrades the associated option and is
// reported as a diagnostic rather than failing the load — the library
// must still come up per spec §4.4.
func Load(opts ...Option) (*Config, []Diagnostic) {
	c := defaultConfig()
	for _, opt := range opts {
		opt(c)
	}

	var diags []Diagnostic

	c.TrackAllocs = boolVar("TRACK_ALLOCS")
	c.Backtrace = boolVar("BACKTRACE")
	c.BacktraceSpecific = boolVar("BACKTRACE_SPECIFIC_SIZES")
	c.RecordPeak = boolVar("RECORD_MEMORY_PEAK")
	c.DumpOnSignal = boolVar("DUMP_ON_SIGNAL")
	c.DumpOnExit = boolVar("DUMP_ON_EXIT")

	if v, ok := os.LookupEnv("BACKTRACE_FRAMES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			diags = append(diags, errors.ConfigInvalid("BACKTRACE_FRAMES", v, "must be a positive integer"))
		} else {
			c.BacktraceFrames = n
		}
	}

	if v, ok := os.LookupEnv("BACKTRACE_MIN_SIZE_BYTES"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			diags = append(diags, errors.ConfigInvalid("BACKTRACE_MIN_SIZE_BYTES", v, "must be a non-negative integer"))
		} else {
			c.MinSize = n
		}
	}

	if v, ok := os.LookupEnv("BACKTRACE_MAX_SIZE_BYTES"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			diags = append(diags, errors.ConfigInvalid("BACKTRACE_MAX_SIZE_BYTES", v, "must be a non-negative integer"))
		} else {
			c.MaxSize = n
		}
	}

	if v, ok := os.LookupEnv("DUMP_PEAK_VALUE_MB"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			diags = append(diags, errors.ConfigInvalid("DUMP_PEAK_VALUE_MB", v, "must be a positive integer"))
		} else {
			c.PeakThresholdMB = n
		}
	}

	if v, ok := os.LookupEnv("BACKTRACE_DUMP_SIGNAL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			diags = append(diags, errors.ConfigInvalid("BACKTRACE_DUMP_SIGNAL", v, "must be a positive signal number"))
			c.DumpOnSignal = false
		} else {
			c.DumpSignal = n
		}
	}

	if v, ok := os.LookupEnv("BACKTRACE_DUMP_PREFIX"); ok && v != "" {
		c.DumpPrefix = v
	}

	return c, diags
}

func boolVar(name string) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	switch v {
	case "0", "", "false", "FALSE", "no", "NO":
		return false
	default:
		return true
	}
}
