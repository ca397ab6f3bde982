package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	goserial "go.bug.st/serial"

	"github.com/biostream/biostream-go/pkg/device"
)

// Domain is the path domain served by Backend.
const Domain = "serial"

// Defaults for BackendConfig.
const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 50 * time.Millisecond
)

// BackendConfig configures the serial backend. Every port is assumed to
// carry the same device model.
type BackendConfig struct {
	// BaudRate of every port (0 = DefaultBaudRate).
	BaudRate int `yaml:"baud_rate" toml:"baud_rate"`

	// Description selects the channel layout of attached devices.
	Description string `yaml:"description" toml:"description"`

	// Frequency overrides the layout base frequency (0 keeps it).
	Frequency float64 `yaml:"frequency" toml:"frequency"`

	// ReadTimeout bounds a single port read so interrupts are noticed
	// while the device is silent (0 = DefaultReadTimeout).
	ReadTimeout time.Duration `yaml:"read_timeout" toml:"read_timeout"`

	// Ports lists the ports to offer. Empty enumerates the system ports.
	Ports []string `yaml:"ports" toml:"ports"`
}

// Port is the subset of go.bug.st/serial.Port the driver uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// PortOpener opens a port by name.
type PortOpener func(name string, baudRate int) (Port, error)

// PortLister enumerates port names.
type PortLister func() ([]string, error)

// Option customizes a Backend.
type Option func(*Backend)

// WithPortOpener replaces the go.bug.st/serial opener.
func WithPortOpener(open PortOpener) Option {
	return func(b *Backend) { b.open = open }
}

// WithPortLister replaces the go.bug.st/serial enumerator.
func WithPortLister(list PortLister) Option {
	return func(b *Backend) { b.list = list }
}

// WithLogger sets the logger passed to drivers.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// Backend is a device.Backend for serial devices.
type Backend struct {
	config BackendConfig
	open   PortOpener
	list   PortLister
	logger *slog.Logger
}

// NewBackend creates a Backend.
func NewBackend(config BackendConfig, opts ...Option) *Backend {
	if config.BaudRate <= 0 {
		config.BaudRate = DefaultBaudRate
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	b := &Backend{
		config: config,
		open:   openPort,
		list:   goserial.GetPortsList,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// FindDevices lists the configured or enumerated ports.
func (b *Backend) FindDevices(ctx context.Context, domain string) ([]device.Found, error) {
	if domain != "" && domain != Domain {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	names := b.config.Ports
	if len(names) == 0 {
		var err error
		if names, err = b.list(); err != nil {
			return nil, fmt.Errorf("list serial ports: %w", err)
		}
	}

	found := make([]device.Found, 0, len(names))
	for _, name := range names {
		found = append(found, device.Found{Path: Domain + ":" + name, Description: b.config.Description})
	}
	return found, nil
}

// Open returns an unconnected driver for path.
func (b *Backend) Open(path string) (device.Driver, error) {
	domain, name, err := device.SplitPath(path)
	if err != nil {
		return nil, err
	}
	if domain != Domain {
		return nil, fmt.Errorf("%w: domain %q", device.ErrAdapterNotFound, domain)
	}
	return newDriver(name, b.config, b.open, b.logger.With("port", name)), nil
}

var _ device.Backend = (*Backend)(nil)

func openPort(name string, baudRate int) (Port, error) {
	p, err := goserial.Open(name, &goserial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, portError(name, err)
	}
	return p, nil
}

// portError maps go.bug.st/serial errors to device errors.
func portError(name string, err error) error {
	var pe *goserial.PortError
	if !errors.As(err, &pe) {
		return fmt.Errorf("open %s: %w", name, err)
	}
	switch pe.Code() {
	case goserial.PortNotFound:
		return fmt.Errorf("%w: %s", device.ErrDeviceNotFound, name)
	case goserial.InvalidSerialPort:
		return fmt.Errorf("%w: %s is not a serial port", device.ErrInvalidPath, name)
	case goserial.PortBusy:
		return fmt.Errorf("%w: %s", device.ErrBusy, name)
	default:
		return fmt.Errorf("open %s: %w", name, err)
	}
}
