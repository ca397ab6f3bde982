// Command biostream-log views and analyzes biostream protocol capture files.
//
// Capture files are written by biostream-server and biostream-client when
// run with --protocol-log.
//
// Usage:
//
//	biostream-log <command> [flags] <file.bslog | ->
//
// Commands:
//
//	view     View capture file in human-readable format
//	export   Export capture file to JSONL, CSV or a frame table
//	filter   Filter capture file and write to new file
//	stats    Show statistics about the capture file
//
// Examples:
//
//	# View handshakes only
//	biostream-log view --category handshake server.bslog
//
//	# Frames and drops of one device
//	biostream-log view --device sim:a server.bslog
//
//	# Export to CSV
//	biostream-log export --format csv -o capture.csv server.bslog
//
//	# Raw frame payloads of every serial device
//	biostream-log export --format frames --device serial: server.bslog
//
//	# Keep one connection
//	biostream-log filter --conn-id 3f2a9c1e -o conn.bslog server.bslog
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/biostream/biostream-go/cmd/biostream-log/commands"
)

const usage = `biostream-log - Biostream Capture Analyzer

Usage:
  biostream-log <command> [flags] <file.bslog | ->

Commands:
  view     View capture file in human-readable format
  export   Export capture file to JSONL, CSV or a frame table
  filter   Filter capture file and write to new file
  stats    Show statistics about the capture file

Use "biostream-log <command> --help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func newFlagSet(name, summary, synopsis string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "biostream-log %s - %s\n\nUsage:\n  biostream-log %s\n\nFlags:\n", name, summary, synopsis)
		fs.PrintDefaults()
	}
	return fs
}

// pathArg returns the single positional argument or exits.
func pathArg(fs *pflag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs := newFlagSet("view", "View capture file in human-readable format", "view [flags] <file.bslog>")
	layer := fs.String("layer", "", "Filter by layer (transport, wire, device)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (handshake, frame, state, error, drop)")
	devicePath := fs.String("device", "", "Filter by device path")
	fs.Parse(args)
	path := pathArg(fs)

	filter := commands.ViewFilter{DevicePath: *devicePath}
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fatal(err)
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fatal(err)
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fatal(err)
		}
		filter.Category = &c
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fatal(err)
	}
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export capture file to JSONL, CSV or a frame table", "export [flags] <file.bslog>")
	var opts commands.ExportOptions
	fs.StringVar(&opts.Format, "format", "jsonl", "Output format ("+strings.Join(commands.ExportFormats(), ", ")+")")
	fs.StringVarP(&opts.Output, "output", "o", "", "Output file (default: stdout)")
	matchFlags(fs, &opts.Match)
	fs.Parse(args)
	path := pathArg(fs)

	if err := commands.RunExport(path, opts); err != nil {
		fatal(err)
	}
}

// matchFlags registers the event selection flags shared by filter and
// export.
func matchFlags(fs *pflag.FlagSet, opts *commands.FilterOptions) {
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&opts.DevicePath, "device", "", "Filter by device path, or a domain ending in ':'")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, wire, device)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (handshake, frame, state, error, drop)")
	fs.StringVar(&opts.Role, "role", "", "Filter by capturing side (server, client)")
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter capture file and write to new file", "filter [flags] -o <out.bslog> <file.bslog>")
	var opts commands.FilterOptions
	fs.StringVarP(&opts.Output, "output", "o", "", "Output file (required)")
	matchFlags(fs, &opts)
	fs.Parse(args)
	path := pathArg(fs)

	if opts.Output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	n, err := commands.RunFilter(path, opts)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, opts.Output)
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show statistics about the capture file", "stats <file.bslog>")
	fs.Parse(args)
	path := pathArg(fs)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fatal(err)
	}
}
