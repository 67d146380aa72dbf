// Command heapguard-dump reads a dump file written by the tracker
// (either the exit dump, a signal-triggered dump, or a checkpoint()
// call) and re-renders it: filtered by class, re-sorted, or re-encoded
// as JSON for downstream tooling. It never talks to a running process —
// see heapguard-ctl for that half.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/heapguard/heapguard/internal/cli"
	"github.com/heapguard/heapguard/internal/dump"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		showHelp    = flag.Bool("help", false, "show help information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		classFilter = flag.String("class", "", "only show entries of this class: host, mmap, dma")
		sortBy      = flag.String("sort", "size", "sort entries by: size, time, count")
		asJSON      = flag.Bool("format-json", false, "re-encode matching entries as JSON instead of the plain-text format")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] <dump-file>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Re-render a heapguard dump file.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		cli.PrintVersion("heapguard-dump", *jsonOutput)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		cli.ExitWithError("missing dump-file argument")
	}

	path := flag.Arg(0)

	f, err := os.Open(path)
	if err != nil {
		cli.ExitWithError("opening %s: %v", path, err)
	}
	defer f.Close()

	header, entries, err := dump.Parse(f)
	if err != nil {
		cli.ExitWithError("parsing %s: %v", path, err)
	}

	entries = filterByClass(entries, *classFilter)
	sortEntries(entries, *sortBy)

	if *asJSON {
		if err := json.NewEncoder(os.Stdout).Encode(struct {
			Header  dump.ParsedHeader `json:"header"`
			Entries []dump.ParsedEntry `json:"entries"`
		}{header, entries}); err != nil {
			cli.ExitWithError("encoding JSON: %v", err)
		}

		return
	}

	fmt.Printf("host peak used: %dMB, dma peak used %dMB, total peak used: %dMB\n\n",
		header.HostMB, header.DMAMB, header.TotalMB)

	for _, e := range entries {
		fmt.Printf("alloc_size:%dKB \t alloc_type:%s \t alloc_num:%d \t alloc_time:%s",
			e.SizeKB, e.Type, e.Count, e.Time)

		if e.HeldFor != "" {
			fmt.Printf(" \t held_for:%s", e.HeldFor)
		}

		fmt.Println()

		for _, fl := range e.FrameLines {
			fmt.Println(fl)
		}

		fmt.Println()
	}
}

func filterByClass(entries []dump.ParsedEntry, class string) []dump.ParsedEntry {
	if class == "" {
		return entries
	}

	out := entries[:0]

	for _, e := range entries {
		if e.Type == class {
			out = append(out, e)
		}
	}

	return out
}

func sortEntries(entries []dump.ParsedEntry, by string) {
	switch by {
	case "time":
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Time < entries[j].Time })
	case "count":
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Count > entries[j].Count })
	default:
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].SizeKB > entries[j].SizeKB })
	}
}
