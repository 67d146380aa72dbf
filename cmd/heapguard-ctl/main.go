// Command heapguard-ctl signals a running, heapguard-preloaded process
// to write an on-demand dump — the operator-facing half of spec §4.11's
// signal dispatch, which the library side installs via
// internal/tracker's installSignalHandler.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/heapguard/heapguard/internal/cli"
	"github.com/heapguard/heapguard/internal/config"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		showHelp    = flag.Bool("help", false, "show help information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		pid         = flag.Int("pid", 0, "target process id")
		signalNum   = flag.Int("signal", config.DefaultDumpSignal, "signal to send (must match BACKTRACE_DUMP_SIGNAL in the target process)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s --pid <pid> [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Trigger an on-demand dump in a running heapguard-preloaded process.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		cli.PrintVersion("heapguard-ctl", *jsonOutput)
		os.Exit(0)
	}

	if *pid <= 0 {
		cli.ExitWithError("--pid is required and must be positive")
	}

	if err := unix.Kill(*pid, unix.Signal(*signalNum)); err != nil {
		cli.ExitWithError("signaling pid %s: %v", strconv.Itoa(*pid), err)
	}

	fmt.Printf("sent signal %d to pid %d\n", *signalNum, *pid)
}
