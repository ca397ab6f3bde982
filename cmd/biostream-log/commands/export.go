package commands

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/biostream/biostream-go/pkg/log"
	"github.com/biostream/biostream-go/pkg/wire"
)

// ExportOptions configures RunExport.
type ExportOptions struct {
	// Format is one of ExportFormats.
	Format string

	// Output is the destination file; empty writes to stdout.
	Output string

	// Match restricts the exported events. Its Output field is ignored.
	Match FilterOptions
}

// exporter writes one event per call and finishes the document on close.
type exporter interface {
	write(event log.Event) error
	close() error
}

var exporters = map[string]func(io.Writer) (exporter, error){
	"jsonl":  newJSONLExporter,
	"csv":    newCSVExporter,
	"frames": newFramesExporter,
}

// ExportFormats lists the supported export formats.
func ExportFormats() []string {
	formats := make([]string, 0, len(exporters))
	for f := range exporters {
		formats = append(formats, f)
	}
	slices.Sort(formats)
	return formats
}

// RunExport converts the capture at path to another format.
func RunExport(path string, opts ExportOptions) error {
	newExporter, ok := exporters[opts.Format]
	if !ok {
		return fmt.Errorf("unknown format: %s (supported: %s)", opts.Format, strings.Join(ExportFormats(), ", "))
	}
	filter, err := opts.Match.filter()
	if err != nil {
		return err
	}

	reader, err := openReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	exp, err := newExporter(w)
	if err != nil {
		return err
	}
	if err := eachEvent(reader, exp.write); err != nil {
		return err
	}
	return exp.close()
}

// eachEvent calls fn for every event of reader. A capture that ends inside
// a record ends the iteration like a clean end of file.
func eachEvent(reader *log.Reader, fn func(log.Event) error) error {
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) || errors.Is(err, log.ErrTruncated) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

type jsonlExporter struct {
	enc *json.Encoder
}

func newJSONLExporter(w io.Writer) (exporter, error) {
	return jsonlExporter{enc: json.NewEncoder(w)}, nil
}

func (e jsonlExporter) write(event log.Event) error {
	if err := e.enc.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return nil
}

func (jsonlExporter) close() error { return nil }

const csvTime = "2006-01-02T15:04:05.000000Z"

type csvExporter struct {
	w *csv.Writer
}

func newCSVExporter(w io.Writer) (exporter, error) {
	cw := csv.NewWriter(w)
	err := cw.Write([]string{"timestamp", "connection_id", "direction", "role", "layer", "category", "device_path", "type", "counter", "size"})
	if err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return csvExporter{w: cw}, nil
}

func (e csvExporter) write(event log.Event) error {
	var counter, size string
	switch {
	case event.Frame != nil:
		counter = strconv.Itoa(int(event.Frame.Counter))
		size = strconv.Itoa(event.Frame.Size)
	case event.Handshake != nil:
		size = strconv.Itoa(event.Handshake.Size)
	case event.Drop != nil:
		counter = strconv.FormatInt(event.Drop.CurrentFrame, 10)
	}
	return e.w.Write([]string{
		event.Timestamp.UTC().Format(csvTime),
		event.ConnectionID,
		event.Direction.String(),
		event.LocalRole.String(),
		event.Layer.String(),
		event.Category.String(),
		event.DevicePath,
		typeLabel(event),
		counter,
		size,
	})
}

func (e csvExporter) close() error {
	e.w.Flush()
	return e.w.Error()
}

// framesExporter writes captured frames only, payload bytes in hex. Frames
// longer than log.MaxFrameData were captured truncated and are marked so.
type framesExporter struct {
	w *csv.Writer
}

func newFramesExporter(w io.Writer) (exporter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "connection_id", "device_path", "index", "counter", "size", "truncated", "payload"}); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return framesExporter{w: cw}, nil
}

func (e framesExporter) write(event log.Event) error {
	f := event.Frame
	if f == nil {
		return nil
	}
	var payload []byte
	if len(f.Data) > wire.FrameHeaderSize {
		payload = f.Data[wire.FrameHeaderSize:]
	}
	return e.w.Write([]string{
		event.Timestamp.UTC().Format(csvTime),
		event.ConnectionID,
		event.DevicePath,
		strconv.Itoa(int(f.Index)),
		strconv.Itoa(int(f.Counter)),
		strconv.Itoa(f.Size),
		strconv.FormatBool(f.Truncated),
		hex.EncodeToString(payload),
	})
}

func (e framesExporter) close() error {
	e.w.Flush()
	return e.w.Error()
}
