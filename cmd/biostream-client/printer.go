package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/biostream/biostream-go/pkg/transport"
	"github.com/biostream/biostream-go/pkg/wire"
)

// DeviceStats counts what was received from one device.
type DeviceStats struct {
	Path      string
	Frames    int
	Dropped   int
	LastFrame int
}

// Printer writes frames as CSV rows "index,frame,samples...". Every
// session starts with one comment line per device naming its columns.
type Printer struct {
	out io.Writer

	mu     sync.Mutex
	csv    *csv.Writer
	row    []string
	stats  []DeviceStats
	paused bool
}

// NewPrinter creates a Printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, csv: csv.NewWriter(out)}
}

// Begin starts a session with the negotiated devices and resets the stats.
func (p *Printer) Begin(devices []wire.DeviceInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = make([]DeviceStats, len(devices))
	for i, d := range devices {
		p.stats[i] = DeviceStats{Path: d.Path, LastFrame: -1}
	}
	if p.paused {
		return nil
	}
	for i, d := range devices {
		cols := append([]string{"index", "frame"}, wire.Columns(d.Sources)...)
		if _, err := fmt.Fprintf(p.out, "# %d %s %q %g Hz: %s\n", i, d.Path, d.Description, d.Frequency, strings.Join(cols, ",")); err != nil {
			return err
		}
	}
	return nil
}

// Frame records ev and prints it unless output is paused.
func (p *Printer) Frame(ev transport.FrameEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Index < len(p.stats) {
		s := &p.stats[ev.Index]
		s.Frames++
		if ev.LastFrame >= 0 {
			s.Dropped += wire.Dropped(ev.LastFrame, ev.CurrentFrame)
		}
		s.LastFrame = ev.CurrentFrame
	}
	if p.paused {
		return
	}

	p.row = append(p.row[:0], strconv.Itoa(ev.Index), strconv.Itoa(ev.CurrentFrame))
	for _, v := range ev.Data {
		p.row = append(p.row, strconv.Itoa(v))
	}
	p.csv.Write(p.row)
}

// SetPaused stops or resumes printing. Stats are kept either way.
func (p *Printer) SetPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.csv.Flush()
	}
	p.paused = paused
}

// Stats returns a copy of the per-device counters of the current session.
func (p *Printer) Stats() []DeviceStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]DeviceStats(nil), p.stats...)
}

// Flush writes buffered rows.
func (p *Printer) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.csv.Flush()
	return p.csv.Error()
}

func printStats(w io.Writer, stats []DeviceStats) {
	for i, s := range stats {
		fmt.Fprintf(w, "[%d] %s: %d frames, %d dropped, last frame %d\n", i, s.Path, s.Frames, s.Dropped, s.LastFrame)
	}
}
