package serial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/biostream/biostream-go/pkg/device"
	"github.com/biostream/biostream-go/pkg/wire"
)

// Driver reads packets from one serial port.
type Driver struct {
	name   string
	config BackendConfig
	open   PortOpener
	logger *slog.Logger

	interrupts chan any

	mu      sync.Mutex
	port    Port
	stopped bool
	reader  *Reader
	offsets []int
}

func newDriver(name string, config BackendConfig, open PortOpener, logger *slog.Logger) *Driver {
	return &Driver{
		name:       name,
		config:     config,
		open:       open,
		logger:     logger,
		interrupts: make(chan any, 1),
	}
}

// Connect opens the port.
func (d *Driver) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port != nil {
		return fmt.Errorf("%w: %s already connected", device.ErrBusy, d.name)
	}

	port, err := d.open(d.name, d.config.BaudRate)
	if err != nil {
		return err
	}
	if err := port.SetReadTimeout(d.config.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("set read timeout on %s: %w", d.name, err)
	}
	d.port = port
	d.stopped = false
	return nil
}

// Properties reports the configured description and frequency override.
func (d *Driver) Properties() (map[string]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil, device.ErrNotConnected
	}
	props := map[string]any{device.PropertyDescription: d.config.Description}
	if d.config.Frequency > 0 {
		props[device.PropertyFrequency] = d.config.Frequency
	}
	return props, nil
}

// Start sizes the packet reader for the layout.
func (d *Driver) Start(_ float64, sources []wire.Source) error {
	if err := wire.ValidateSources(sources); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return device.ErrNotConnected
	}
	d.offsets = wire.Offsets(sources)
	d.reader = NewReader(timeoutReader{d.port}, wire.PayloadSize(d.offsets))
	return nil
}

// Loop delivers one frame per valid packet. The frame counter is the
// unwrapped packet sequence.
func (d *Driver) Loop(cb device.Callbacks) error {
	d.mu.Lock()
	reader := d.reader
	offsets := d.offsets
	stopped := d.stopped
	d.mu.Unlock()
	if reader == nil {
		if stopped {
			return nil
		}
		return device.ErrNotConnected
	}

	var seq SeqUnwrapper
	data := make([]int, len(offsets))
	defer func() {
		d.logger.Debug("serial loop ended", "stats", reader.Stats())
	}()

	for {
		select {
		case arg := <-d.interrupts:
			if cb.OnInterrupt(arg) {
				return nil
			}
		default:
		}

		pkt, err := reader.Next()
		if errors.Is(err, ErrTimeout) {
			continue
		}
		if err != nil {
			if d.isStopped() {
				return nil
			}
			return fmt.Errorf("read %s: %w", d.name, err)
		}
		if err := wire.DecodePayload(pkt.Payload, offsets, data); err != nil {
			return err
		}
		if cb.OnRawFrame(seq.Next(pkt.Seq), data) {
			return nil
		}
	}
}

// Interrupt wakes Loop within one read timeout. Pending interrupts coalesce.
func (d *Driver) Interrupt(arg any) error {
	select {
	case d.interrupts <- arg:
	default:
	}
	return nil
}

// Stop closes the port. Calling Stop again does nothing.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	d.stopped = true
	err := d.port.Close()
	d.port = nil
	d.reader = nil
	select {
	case <-d.interrupts:
	default:
	}
	return err
}

func (d *Driver) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

var _ device.Driver = (*Driver)(nil)

// timeoutReader reports an empty read as ErrTimeout. go.bug.st/serial
// returns (0, nil) when the read timeout expires.
type timeoutReader struct {
	port Port
}

func (r timeoutReader) Read(p []byte) (int, error) {
	n, err := r.port.Read(p)
	if n == 0 && err == nil {
		return 0, ErrTimeout
	}
	return n, err
}
