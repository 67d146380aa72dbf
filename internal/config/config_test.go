package config

import (
	"os"
	"testing"

	"github.com/heapguard/heapguard/internal/classify"
)

// clearEnv unsets every variable Load recognizes so tests start clean
// regardless of what the surrounding process environment carries.
func clearEnv(t *testing.T) {
	t.Helper()

	names := []string{
		"TRACK_ALLOCS", "BACKTRACE", "BACKTRACE_SPECIFIC_SIZES",
		"RECORD_MEMORY_PEAK", "DUMP_ON_SIGNAL", "DUMP_ON_EXIT",
		"BACKTRACE_FRAMES", "BACKTRACE_MIN_SIZE_BYTES", "BACKTRACE_MAX_SIZE_BYTES",
		"DUMP_PEAK_VALUE_MB", "BACKTRACE_DUMP_SIGNAL", "BACKTRACE_DUMP_PREFIX",
	}

	for _, n := range names {
		old, ok := os.LookupEnv(n)
		os.Unsetenv(n)

		if ok {
			t.Cleanup(func() { os.Setenv(n, old) })
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, diags := Load()
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics on clean environment: %v", diags)
	}

	if cfg.TrackAllocs {
		t.Error("TrackAllocs should default to false")
	}

	if cfg.BacktraceFrames != DefaultBacktraceFrames {
		t.Errorf("BacktraceFrames = %d, want %d", cfg.BacktraceFrames, DefaultBacktraceFrames)
	}

	if cfg.DumpPrefix != DefaultDumpPrefix {
		t.Errorf("DumpPrefix = %q, want %q", cfg.DumpPrefix, DefaultDumpPrefix)
	}

	if cfg.MMapMode != classify.ModeBoth {
		t.Errorf("MMapMode = %v, want ModeBoth", cfg.MMapMode)
	}
}

func TestLoadBoolVars(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		value string
		want  bool
	}{
		{"1", true},
		{"true", true},
		{"yes", true},
		{"0", false},
		{"false", false},
		{"FALSE", false},
		{"no", false},
		{"", false},
	}

	for _, test := range tests {
		os.Setenv("TRACK_ALLOCS", test.value)

		cfg, _ := Load()
		if cfg.TrackAllocs != test.want {
			t.Errorf("TRACK_ALLOCS=%q: TrackAllocs = %v, want %v", test.value, cfg.TrackAllocs, test.want)
		}
	}
}

func TestLoadInvalidNumericDowngrades(t *testing.T) {
	clearEnv(t)

	os.Setenv("BACKTRACE_FRAMES", "not-a-number")

	cfg, diags := Load()
	if cfg.BacktraceFrames != DefaultBacktraceFrames {
		t.Errorf("BacktraceFrames = %d, want default %d on invalid input", cfg.BacktraceFrames, DefaultBacktraceFrames)
	}

	if len(diags) != 1 {
		t.Fatalf("expected exactly one diagnostic, got %d: %v", len(diags), diags)
	}
}

func TestLoadInvalidSignalDisablesDumpOnSignal(t *testing.T) {
	clearEnv(t)

	os.Setenv("DUMP_ON_SIGNAL", "1")
	os.Setenv("BACKTRACE_DUMP_SIGNAL", "not-a-signal")

	cfg, diags := Load()
	if cfg.DumpOnSignal {
		t.Error("DumpOnSignal must be forced false when the configured signal is invalid")
	}

	if len(diags) != 1 {
		t.Fatalf("expected exactly one diagnostic, got %d: %v", len(diags), diags)
	}
}

func TestLoadValidSignalOverridesDefault(t *testing.T) {
	clearEnv(t)

	os.Setenv("BACKTRACE_DUMP_SIGNAL", "10")

	cfg, diags := Load()
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}

	if cfg.DumpSignal != 10 {
		t.Errorf("DumpSignal = %d, want 10", cfg.DumpSignal)
	}
}

func TestWithMMapModeOption(t *testing.T) {
	clearEnv(t)

	cfg, _ := Load(WithMMapMode(classify.ModeFDNegative))
	if cfg.MMapMode != classify.ModeFDNegative {
		t.Errorf("MMapMode = %v, want ModeFDNegative", cfg.MMapMode)
	}
}

func TestLoadEmptyDumpPrefixKeepsDefault(t *testing.T) {
	clearEnv(t)

	os.Setenv("BACKTRACE_DUMP_PREFIX", "")

	cfg, _ := Load()
	if cfg.DumpPrefix != DefaultDumpPrefix {
		t.Errorf("empty BACKTRACE_DUMP_PREFIX should keep default, got %q", cfg.DumpPrefix)
	}
}
