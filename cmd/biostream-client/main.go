// Command biostream-client connects to a biostream server and prints the
// received frames as CSV.
//
// Usage:
//
//	biostream-client [flags] [host:port]
//
// Without an address the first server advertised over mDNS is used.
//
// Examples:
//
//	# Stream every device of a local server
//	biostream-client 127.0.0.1:5555
//
//	# Two devices in this order, reconnecting on failure
//	biostream-client --path sim:b --path sim:a --reconnect lab-pc:5555
//
//	# Count frames for ten seconds without printing them
//	biostream-client --duration 10s --quiet 127.0.0.1:5555
//
//	# Interactive shell, frames written to a file
//	biostream-client --interactive -o frames.csv 127.0.0.1:5555
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/biostream/biostream-go/pkg/connection"
	"github.com/biostream/biostream-go/pkg/discovery"
	"github.com/biostream/biostream-go/pkg/log"
	"github.com/biostream/biostream-go/pkg/transport"
	"github.com/biostream/biostream-go/pkg/wire"
)

type options struct {
	address        string
	paths          []string
	connectTimeout time.Duration
	reconnect      bool
	maxAttempts    int
	duration       time.Duration
	frames         int
	output         string
	quiet          bool
	interactive    bool
	browseTimeout  time.Duration
	mdnsInterface  string
	logLevel       string
	protocolLog    string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseOptions(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("biostream-client", pflag.ContinueOnError)
	fs.SortFlags = false
	fs.StringArrayVarP(&opts.paths, "path", "p", nil, "Device path to request, in order (repeatable; default: all)")
	fs.DurationVar(&opts.connectTimeout, "connect-timeout", 10*time.Second, "Time allowed for connect and handshake")
	fs.BoolVar(&opts.reconnect, "reconnect", false, "Reconnect with backoff when the connection fails")
	fs.IntVar(&opts.maxAttempts, "max-attempts", 0, "Give up after this many failed attempts in a row (0 = never)")
	fs.DurationVar(&opts.duration, "duration", 0, "Stop after this long (0 = until interrupted)")
	fs.IntVarP(&opts.frames, "frames", "n", 0, "Stop after this many frames (0 = unlimited)")
	fs.StringVarP(&opts.output, "output", "o", "", "Write frames to this file (default: stdout)")
	fs.BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print frames, only the final statistics")
	fs.BoolVarP(&opts.interactive, "interactive", "i", false, "Start the interactive shell")
	fs.DurationVar(&opts.browseTimeout, "browse-timeout", discovery.BrowseTimeout, "mDNS browse time when no address is given")
	fs.StringVar(&opts.mdnsInterface, "mdns-interface", "", "Network interface for mDNS browsing")
	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&opts.protocolLog, "protocol-log", "", "Write a CBOR protocol capture to this file")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "biostream-client - biostream consumer\n\nUsage:\n  biostream-client [flags] [host:port]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	switch fs.NArg() {
	case 0:
	case 1:
		opts.address = fs.Arg(0)
	default:
		return opts, fmt.Errorf("unexpected argument: %s", fs.Arg(1))
	}
	if opts.maxAttempts < 0 || opts.frames < 0 {
		return opts, errors.New("--max-attempts and --frames must not be negative")
	}
	return opts, nil
}

func run() error {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", opts.logLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var current atomic.Pointer[transport.ClientConn]
	var shell *Shell
	out, logOut := io.Writer(os.Stdout), io.Writer(os.Stderr)
	if opts.interactive {
		if shell, err = NewShell(&current); err != nil {
			return err
		}
		out, logOut = shell.Stdout(), shell.Stderr()
	}
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	if opts.quiet {
		out = io.Discard
	}
	printer := NewPrinter(out)
	defer printer.Flush()

	if shell != nil {
		// Frames on the terminal would bury the prompt until resumed.
		printer.SetPaused(opts.output == "" && !opts.quiet)
		go shell.Run(ctx, printer, cancel)
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	var capture log.Logger
	if opts.protocolLog != "" {
		fl, err := log.NewFileLogger(opts.protocolLog)
		if err != nil {
			return fmt.Errorf("open protocol log: %w", err)
		}
		defer fl.Close()
		capture = fl
	}

	address := opts.address
	if address == "" {
		svc, err := browse(ctx, opts)
		if err != nil {
			return err
		}
		address = svc.Address()
		logger.Info("discovered server", "instance", svc.InstanceName, "address", address, "devices", svc.DeviceCount)
	}

	client, err := transport.NewClient(transport.ClientConfig{
		Paths:          opts.paths,
		ConnectTimeout: opts.connectTimeout,
		Logger:         logger,
		ProtocolLogger: capture,
	})
	if err != nil {
		return err
	}

	var total atomic.Int64
	session := func(ctx context.Context, established func()) error {
		cc, err := client.Connect(ctx, address)
		if err != nil {
			if errors.Is(err, transport.ErrSequenceMismatch) {
				return connection.Permanent(err)
			}
			return err
		}
		defer cc.Close()
		established()
		current.Store(cc)
		defer current.Store(nil)

		logger.Info("connected", "server", cc.RemoteAddr(), "devices", len(cc.Devices()))
		if len(cc.Devices()) == 0 {
			logger.Warn("server offers no devices")
		}
		if err := printer.Begin(cc.Devices()); err != nil {
			return connection.Permanent(fmt.Errorf("write output: %w", err))
		}
		err = cc.Run(ctx, func(ev transport.FrameEvent) {
			printer.Frame(ev)
			if opts.frames > 0 && total.Add(1) >= int64(opts.frames) {
				cancel()
			}
		})
		if errors.Is(err, wire.ErrProtocolViolation) {
			logger.Error("protocol violation", "error", err)
		}
		return err
	}

	if opts.reconnect {
		err = connection.Supervise(ctx, connection.SuperviseConfig{
			MaxAttempts: opts.maxAttempts,
			Logger:      logger,
			OnStateChange: func(old, new connection.State) {
				logger.Debug("connection state", "from", old, "to", new)
			},
		}, session)
	} else {
		err = session(ctx, func() {})
	}

	printer.Flush()
	printStats(os.Stderr, printer.Stats())

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func browse(ctx context.Context, opts options) (*discovery.ServerService, error) {
	cfg := discovery.DefaultBrowserConfig()
	cfg.BrowseTimeout = opts.browseTimeout
	cfg.Interface = opts.mdnsInterface
	svc, err := discovery.NewBrowser(cfg).FindServer(ctx)
	if err != nil {
		return nil, fmt.Errorf("no address given and no server found over mDNS: %w", err)
	}
	return svc, nil
}
