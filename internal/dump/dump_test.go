package dump

import (
	"strings"
	"testing"
	"time"

	"github.com/heapguard/heapguard/internal/classify"
	"github.com/heapguard/heapguard/internal/frame"
	"github.com/heapguard/heapguard/internal/livetable"
	"github.com/heapguard/heapguard/internal/peak"
)

func TestWriteHeaderLine(t *testing.T) {
	var sb strings.Builder

	totals := livetable.Totals{PeakHost: 2 << 20, PeakDMA: 1 << 20, PeakTotal: 3 << 20}

	if err := Write(&sb, totals, nil, Options{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	lines := strings.Split(sb.String(), "\n")
	if lines[0] != "host peak used: 2MB, dma peak used 1MB, total peak used: 3MB" {
		t.Errorf("unexpected header line: %q", lines[0])
	}

	if len(lines[1]) != ruleWidth {
		t.Errorf("rule line length = %d, want %d", len(lines[1]), ruleWidth)
	}

	for _, c := range lines[1] {
		if c != '+' {
			t.Fatalf("rule line must be all '+': %q", lines[1])
		}
	}
}

func TestWriteEntrySkipsBacktracelessWhenRequested(t *testing.T) {
	var sb strings.Builder

	entries := []peak.SnapshotEntry{
		{Size: 1024, Count: 1, Class: classify.Host, Time: time.Now(), HasStack: false},
		{Size: 2048, Count: 1, Class: classify.Host, Time: time.Now(), HasStack: true},
	}

	if err := Write(&sb, livetable.Totals{}, entries, Options{OnlyWithBacktrace: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := sb.String()
	if strings.Contains(out, "alloc_size:1KB") {
		t.Error("backtraceless entry should have been skipped")
	}

	if !strings.Contains(out, "alloc_size:2KB") {
		t.Error("stackful entry should still be rendered")
	}
}

func TestWriteEntryIncludesFrameLines(t *testing.T) {
	var sb strings.Builder

	entries := []peak.SnapshotEntry{
		{
			Size: 4096, Count: 3, Class: classify.DMA, Time: time.Now(), HasStack: true,
			Frames: []frame.Descriptor{
				{PC: 0x4000, Module: "libfoo.so", HasSymbol: true, Symbol: "foo_alloc", Offset: 0x10},
				{PC: 0x5000, Anonymous: true, ModuleBase: 0x5000},
			},
		},
	}

	if err := Write(&sb, livetable.Totals{}, entries, Options{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := sb.String()

	if !strings.Contains(out, "alloc_type:dma") {
		t.Error("expected dma alloc_type tag")
	}

	if !strings.Contains(out, "alloc_num:3") {
		t.Error("expected alloc_num:3")
	}

	if !strings.Contains(out, "#0 0x4000 libfoo.so (foo_alloc+0x10)") {
		t.Errorf("missing or malformed frame #0 line, got:\n%s", out)
	}

	if !strings.Contains(out, "#1 0x5000 <anonymous:5000>") {
		t.Errorf("missing or malformed anonymous frame #1 line, got:\n%s", out)
	}
}

func TestParseRoundTripsWrite(t *testing.T) {
	var sb strings.Builder

	totals := livetable.Totals{PeakHost: 4 << 20, PeakDMA: 0, PeakTotal: 4 << 20}
	entries := []peak.SnapshotEntry{
		{
			Size: 2048, Count: 5, Class: classify.Host, Time: time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC), HasStack: true,
			Frames: []frame.Descriptor{{PC: 0x1000, Module: "app", HasSymbol: true, Symbol: "do_work", Offset: 4}},
		},
		{Size: 512, Count: 1, Class: classify.MMap, Time: time.Date(2026, 7, 29, 12, 0, 1, 0, time.UTC), HasStack: false},
	}

	if err := Write(&sb, totals, entries, Options{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	header, parsed, err := Parse(strings.NewReader(sb.String()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if header.HostMB != 4 || header.TotalMB != 4 {
		t.Errorf("unexpected header: %+v", header)
	}

	if len(parsed) != 2 {
		t.Fatalf("Parse returned %d entries, want 2", len(parsed))
	}

	if parsed[0].SizeKB != 2 || parsed[0].Type != "host" || parsed[0].Count != 5 {
		t.Errorf("unexpected first entry: %+v", parsed[0])
	}

	if len(parsed[0].FrameLines) != 1 || !strings.Contains(parsed[0].FrameLines[0], "do_work") {
		t.Errorf("expected first entry to carry its frame line, got %+v", parsed[0].FrameLines)
	}

	if parsed[1].SizeKB != 0 || parsed[1].Type != "mmap" || len(parsed[1].FrameLines) != 0 {
		t.Errorf("unexpected second entry: %+v", parsed[1])
	}
}

func TestWriteEntryHeldForOnlyWhenRequested(t *testing.T) {
	entry := peak.SnapshotEntry{Size: 100, Count: 1, Time: time.Now(), HeldFor: 2 * time.Second}

	var without strings.Builder
	Write(&without, livetable.Totals{}, []peak.SnapshotEntry{entry}, Options{})

	if strings.Contains(without.String(), "held_for:") {
		t.Error("held_for must not appear unless Options.HeldFor is set")
	}

	var with strings.Builder
	Write(&with, livetable.Totals{}, []peak.SnapshotEntry{entry}, Options{HeldFor: true})

	if !strings.Contains(with.String(), "held_for:") {
		t.Error("held_for must appear when Options.HeldFor is set and HeldFor > 0")
	}
}
