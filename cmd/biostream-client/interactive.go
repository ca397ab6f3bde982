package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/chzyer/readline"

	"github.com/biostream/biostream-go/pkg/transport"
)

// Shell is the interactive command loop of biostream-client.
type Shell struct {
	rl      *readline.Instance
	printer *Printer
	conn    *atomic.Pointer[transport.ClientConn]
}

// NewShell creates a shell. conn holds the current connection, nil while
// disconnected.
func NewShell(conn *atomic.Pointer[transport.ClientConn]) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "biostream> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{rl: rl, conn: conn}, nil
}

// Stdout returns a writer that does not interfere with the prompt.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Stderr returns a writer that does not interfere with the prompt.
func (s *Shell) Stderr() io.Writer {
	return s.rl.Stderr()
}

// Run reads commands controlling printer until quit, EOF or ctx ends.
// Quitting calls cancel.
func (s *Shell) Run(ctx context.Context, printer *Printer, cancel context.CancelFunc) {
	s.printer = printer
	defer s.rl.Close()
	stop := context.AfterFunc(ctx, func() { s.rl.Close() })
	defer stop()

	s.printHelp()
	for {
		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			cancel()
			return
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "help", "?":
			s.printHelp()
		case "devices", "d":
			s.cmdDevices()
		case "stats", "s":
			printStats(s.rl.Stdout(), s.printer.Stats())
		case "pause", "p":
			s.printer.SetPaused(true)
			fmt.Fprintln(s.rl.Stdout(), "Output paused")
		case "resume", "r":
			s.printer.SetPaused(false)
			fmt.Fprintln(s.rl.Stdout(), "Output resumed")
		case "quit", "exit", "q":
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		default:
			fmt.Fprintf(s.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", fields[0])
		}
	}
}

func (s *Shell) cmdDevices() {
	cc := s.conn.Load()
	if cc == nil {
		fmt.Fprintln(s.rl.Stdout(), "Not connected")
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Connected to %s (%s)\n", cc.RemoteAddr(), cc.ID())
	for i, d := range cc.Devices() {
		fmt.Fprintf(s.rl.Stdout(), "  [%d] %s %q %g Hz, %d sources, last frame %d\n",
			i, d.Path, d.Description, d.Frequency, len(d.Sources), cc.LastFrame(i))
	}
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.rl.Stdout(), `
Biostream Client Commands:
  devices   - List negotiated devices
  stats     - Show frame and drop counts
  pause     - Stop printing frames
  resume    - Resume printing frames
  quit      - Disconnect and exit
`)
}
