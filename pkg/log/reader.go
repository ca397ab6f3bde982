package log

import (
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ErrTruncated is returned by Reader.Next when the capture ends inside a
// record, as happens while the writer is still running or after a crash.
// Every complete event before it has been returned.
var ErrTruncated = errors.New("capture truncated")

// Filter selects events. Zero-valued fields match everything.
type Filter struct {
	ConnectionID string

	Direction *Direction
	Layer     *Layer
	Category  *Category

	// Role matches LocalRole, i.e. which side wrote the capture.
	Role *Role

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time

	// DevicePath matches one path ("sim:a") or, when it ends with a
	// colon, every path of a domain ("serial:").
	DevicePath string
}

// Match reports whether event passes f.
func (f Filter) Match(event Event) bool {
	switch {
	case f.ConnectionID != "" && event.ConnectionID != f.ConnectionID:
	case f.Direction != nil && event.Direction != *f.Direction:
	case f.Layer != nil && event.Layer != *f.Layer:
	case f.Category != nil && event.Category != *f.Category:
	case f.Role != nil && event.LocalRole != *f.Role:
	case f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart):
	case f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
	case !f.matchDevice(event.DevicePath):
	default:
		return true
	}
	return false
}

func (f Filter) matchDevice(path string) bool {
	if f.DevicePath == "" {
		return true
	}
	if strings.HasSuffix(f.DevicePath, ":") {
		return strings.HasPrefix(path, f.DevicePath)
	}
	return path == f.DevicePath
}

// Reader iterates over the events of a capture without loading it whole.
type Reader struct {
	src     io.Closer
	dec     *cbor.Decoder
	filter  Filter
	skipped int
}

// NewReader opens a capture file and reads every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a capture file and reads the events matching
// filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := NewStreamReader(f, filter)
	r.src = f
	return r, nil
}

// NewStreamReader reads a capture from r, such as stdin. Close does not
// close r.
func NewStreamReader(r io.Reader, filter Filter) *Reader {
	return &Reader{dec: NewDecoder(r), filter: filter}
}

// Next returns the next matching event, io.EOF at the end of the capture
// or ErrTruncated if it ends inside a record.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		err := r.dec.Decode(&event)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return Event{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Event{}, ErrTruncated
		default:
			return Event{}, err
		}
		if r.filter.Match(event) {
			return event, nil
		}
		r.skipped++
	}
}

// All collects the remaining matching events. A truncated tail is not an
// error; the complete events are returned.
func (r *Reader) All() ([]Event, error) {
	var events []Event
	for {
		event, err := r.Next()
		if errors.Is(err, io.EOF) || errors.Is(err, ErrTruncated) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}

// Skipped returns how many decoded events the filter rejected so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Close closes the capture file, if the Reader opened one.
func (r *Reader) Close() error {
	if r.src == nil {
		return nil
	}
	return r.src.Close()
}
