package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/biostream/biostream-go/pkg/log"
)

// FilterOptions holds the textual filter flags shared by filter and export.
type FilterOptions struct {
	Output     string
	ConnID     string
	DevicePath string
	TimeStart  string
	TimeEnd    string
	Layer      string
	Direction  string
	Category   string
	Role       string
}

func (opts FilterOptions) filter() (log.Filter, error) {
	f := log.Filter{ConnectionID: opts.ConnID, DevicePath: opts.DevicePath}

	var err error
	if f.TimeStart, err = parseTimeFlag("time-start", opts.TimeStart); err != nil {
		return f, err
	}
	if f.TimeEnd, err = parseTimeFlag("time-end", opts.TimeEnd); err != nil {
		return f, err
	}
	if opts.Layer != "" {
		l, err := parseLayer(opts.Layer)
		if err != nil {
			return f, err
		}
		f.Layer = &l
	}
	if opts.Direction != "" {
		d, err := parseDirection(opts.Direction)
		if err != nil {
			return f, err
		}
		f.Direction = &d
	}
	if opts.Category != "" {
		c, err := parseCategory(opts.Category)
		if err != nil {
			return f, err
		}
		f.Category = &c
	}
	if opts.Role != "" {
		r, err := parseRole(opts.Role)
		if err != nil {
			return f, err
		}
		f.Role = &r
	}
	return f, nil
}

func parseTimeFlag(name, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s format: %w", name, err)
	}
	return &t, nil
}

func parseRole(s string) (log.Role, error) {
	switch strings.ToLower(s) {
	case "server":
		return log.RoleServer, nil
	case "client":
		return log.RoleClient, nil
	default:
		return 0, fmt.Errorf("unknown role: %s (valid: server, client)", s)
	}
}

// RunFilter copies the events of path that match opts into opts.Output
// and returns how many were written.
func RunFilter(path string, opts FilterOptions) (int, error) {
	filter, err := opts.filter()
	if err != nil {
		return 0, err
	}

	reader, err := openReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	out, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}

	err = eachEvent(reader, func(event log.Event) error {
		out.Log(event)
		return out.Err()
	})
	n := int(out.Written())
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
