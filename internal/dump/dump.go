// Package dump implements the stable text dump format of spec §4.9/§6.
package dump

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/heapguard/heapguard/internal/classify"
	"github.com/heapguard/heapguard/internal/demangle"
	"github.com/heapguard/heapguard/internal/frame"
	"github.com/heapguard/heapguard/internal/livetable"
	"github.com/heapguard/heapguard/internal/peak"
)

// ruleWidth matches spec §6: "Rule line is 89 plus characters."
const ruleWidth = 89

// Options controls optional rendering behavior that does not affect the
// pinned baseline format unless explicitly requested.
type Options struct {
	// OnlyWithBacktrace skips entries whose interning index is a
	// sentinel (spec §4.9 step 1).
	OnlyWithBacktrace bool
	// HeldFor renders the SPEC_FULL §3.14 held_for field for every entry
	// whose HeldFor is positive, off by default so the pinned format
	// tests for the baseline dump are unaffected.
	HeldFor bool
}

// Write renders entries (already sorted/coalesced by the peak engine,
// or a live-table snapshot) as the stable dump text into w.
func Write(w io.Writer, totals livetable.Totals, entries []peak.SnapshotEntry, opts Options) error {
	if err := writeHeader(w, totals); err != nil {
		return err
	}

	for _, e := range entries {
		if opts.OnlyWithBacktrace && !e.HasStack {
			continue
		}

		if err := writeEntry(w, e, opts); err != nil {
			return err
		}
	}

	return nil
}

func writeHeader(w io.Writer, t livetable.Totals) error {
	_, err := fmt.Fprintf(w, "host peak used: %dMB, dma peak used %dMB, total peak used: %dMB\n%s\n\n",
		t.PeakHost/(1<<20), t.PeakDMA/(1<<20), t.PeakTotal/(1<<20), strings.Repeat("+", ruleWidth))

	return err
}

func writeEntry(w io.Writer, e peak.SnapshotEntry, opts Options) error {
	ms := e.Time.Nanosecond() / 1_000_000

	line := fmt.Sprintf("alloc_size:%dKB \t alloc_type:%s \t alloc_num:%d \t alloc_time:%s.%03d",
		e.Size/1024, classTag(e.Class), e.Count, e.Time.Format("2006-01-02 15:04:05"), ms)

	if opts.HeldFor && e.HeldFor > 0 {
		line += fmt.Sprintf(" \t held_for:%s", e.HeldFor.Round(0))
	}

	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}

	for i, f := range e.Frames {
		if err := writeFrameLine(w, i, f); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintln(w)

	return err
}

func classTag(c classify.Class) string {
	switch c {
	case classify.Host:
		return "host"
	case classify.MMap:
		return "mmap"
	case classify.DMA:
		return "dma"
	default:
		return "unknown"
	}
}

func writeFrameLine(w io.Writer, n int, f frame.Descriptor) error {
	module := f.Module
	if f.Module == "" {
		if f.Anonymous {
			module = fmt.Sprintf("<anonymous:%x>", f.ModuleBase)
		} else {
			module = "<unknown>"
		}
	}

	symbolPart := ""
	if f.HasSymbol {
		symbolPart = fmt.Sprintf(" (%s+%#x)", demangle.Demangle(f.Symbol), f.Offset)
	}

	_, err := fmt.Fprintf(w, "#%d %#x %s%s\n", n, f.PC, module, symbolPart)

	return err
}

// ParsedHeader holds the three peak figures from a dump's first line.
type ParsedHeader struct {
	HostMB, DMAMB, TotalMB uint64
}

// ParsedEntry is one alloc_size/alloc_type/.../frame group read back from
// a dump file, for heapguard-dump's re-render/filter pass. FrameLines are
// kept as raw text (module+symbol already demangled) rather than
// re-parsed into frame.Descriptor, since the dump format intentionally
// discards the PC/Module split once it reaches the pinned rendering.
type ParsedEntry struct {
	SizeKB  uint64
	Type    string
	Count   int
	Time    string
	HeldFor string

	FrameLines []string
}

// Parse reads back a file produced by Write. It is tolerant of the
// optional held_for field and of a missing frame block (no-backtrace
// entries), but expects the fixed alloc_size/alloc_type/alloc_num/
// alloc_time column order Write emits.
func Parse(r io.Reader) (ParsedHeader, []ParsedEntry, error) {
	scanner := bufio.NewScanner(r)

	var header ParsedHeader

	if scanner.Scan() {
		line := scanner.Text()
		if _, err := fmt.Sscanf(line, "host peak used: %dMB, dma peak used %dMB, total peak used: %dMB",
			&header.HostMB, &header.DMAMB, &header.TotalMB); err != nil {
			return header, nil, fmt.Errorf("dump: malformed header line %q: %w", line, err)
		}
	}

	if scanner.Scan() {
		// the "+" rule line; nothing to extract.
	}

	var entries []ParsedEntry

	var cur *ParsedEntry

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			cur = nil
		case strings.HasPrefix(line, "alloc_size:"):
			entries = append(entries, ParsedEntry{})
			cur = &entries[len(entries)-1]
			parseEntryLine(cur, line)
		case strings.HasPrefix(line, "#") && cur != nil:
			cur.FrameLines = append(cur.FrameLines, line)
		}
	}

	return header, entries, scanner.Err()
}

func parseEntryLine(e *ParsedEntry, line string) {
	for _, field := range strings.Split(line, "\t") {
		field = strings.TrimSpace(field)

		key, val, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}

		switch key {
		case "alloc_size":
			n, _ := strconv.ParseUint(strings.TrimSuffix(val, "KB"), 10, 64)
			e.SizeKB = n
		case "alloc_type":
			e.Type = val
		case "alloc_num":
			n, _ := strconv.Atoi(val)
			e.Count = n
		case "alloc_time":
			e.Time = val
		case "held_for":
			e.HeldFor = val
		}
	}
}
