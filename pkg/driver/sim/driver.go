package sim

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/biostream/biostream-go/pkg/device"
	"github.com/biostream/biostream-go/pkg/wire"
)

// injectBuffer is the number of injected frames queued before Inject blocks.
const injectBuffer = 64

// tick bounds how often the generator wakes up. Frames due since the last
// wake-up are delivered in one burst.
const tick = 5 * time.Millisecond

type injected struct {
	frame int
	data  []int
}

// Driver is a simulated device.Driver.
type Driver struct {
	address string
	lookup  func(string) (DeviceConfig, bool)

	interrupts chan any
	frames     chan injected

	mu        sync.Mutex
	cfg       DeviceConfig
	done      chan struct{}
	stopped   bool
	frequency float64
	sources   []wire.Source
	offsets   []int
}

func newDriver(address string, lookup func(string) (DeviceConfig, bool)) *Driver {
	return &Driver{
		address:    address,
		lookup:     lookup,
		interrupts: make(chan any, 1),
		frames:     make(chan injected, injectBuffer),
	}
}

// Connect fails with device.ErrDeviceNotFound for unconfigured addresses.
func (d *Driver) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg, ok := d.lookup(d.address)
	if !ok {
		return fmt.Errorf("%w: %s:%s", device.ErrDeviceNotFound, Domain, d.address)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done != nil {
		return fmt.Errorf("%w: %s:%s already connected", device.ErrBusy, Domain, d.address)
	}
	d.cfg = cfg
	d.done = make(chan struct{})
	d.stopped = false
	return nil
}

// Properties reports the configured description and frequency override.
func (d *Driver) Properties() (map[string]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		return nil, device.ErrNotConnected
	}
	props := map[string]any{device.PropertyDescription: d.cfg.Description}
	if d.cfg.Frequency > 0 {
		props[device.PropertyFrequency] = d.cfg.Frequency
	}
	return props, nil
}

// Start validates the layout and prepares the generator.
func (d *Driver) Start(frequency float64, sources []wire.Source) error {
	if err := wire.ValidateSources(sources); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		return device.ErrNotConnected
	}
	if frequency <= 0 && !d.cfg.Inject {
		return fmt.Errorf("invalid frequency %v", frequency)
	}
	d.frequency = frequency
	d.sources = slices.Clone(sources)
	d.offsets = wire.Offsets(sources)
	return nil
}

// Loop delivers generated or injected frames until a callback stops it or
// the driver is stopped. A Loop called after Stop returns nil at once.
func (d *Driver) Loop(cb device.Callbacks) error {
	d.mu.Lock()
	done := d.done
	cfg := d.cfg
	frequency := d.frequency
	sources := d.sources
	offsets := d.offsets
	stopped := d.stopped
	d.mu.Unlock()
	if done == nil {
		// Stop may win the race against a Loop started right before it.
		if stopped {
			return nil
		}
		return device.ErrNotConnected
	}

	if cfg.Inject {
		return d.injectLoop(cb, done)
	}

	g := newGenerator(sources, offsets, cfg.DropEvery)
	ticker := time.NewTicker(max(tick, time.Duration(float64(time.Second)/frequency)))
	defer ticker.Stop()

	start := time.Now()
	emitted := 0
	for {
		select {
		case <-done:
			return nil
		case arg := <-d.interrupts:
			if cb.OnInterrupt(arg) {
				return nil
			}
		case now := <-ticker.C:
			due := int(now.Sub(start).Seconds() * frequency)
			for ; emitted < due; emitted++ {
				counter, data := g.next()
				if cb.OnRawFrame(counter, data) {
					return nil
				}
			}
		}
	}
}

func (d *Driver) injectLoop(cb device.Callbacks, done chan struct{}) error {
	for {
		select {
		case <-done:
			return nil
		case arg := <-d.interrupts:
			if cb.OnInterrupt(arg) {
				return nil
			}
		case f := <-d.frames:
			if cb.OnRawFrame(f.frame, f.data) {
				return nil
			}
		}
	}
}

// Interrupt wakes Loop. An interrupt sent before Loop runs is kept until
// it does; further interrupts coalesce with a pending one.
func (d *Driver) Interrupt(arg any) error {
	select {
	case d.interrupts <- arg:
	default:
	}
	return nil
}

// Inject queues one frame for delivery in inject mode. data is copied.
func (d *Driver) Inject(frame int, data []int) error {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return device.ErrNotConnected
	}
	select {
	case d.frames <- injected{frame: frame, data: slices.Clone(data)}:
		return nil
	case <-done:
		return device.ErrNotConnected
	}
}

// Stop releases the device. Calling Stop again does nothing.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		return nil
	}
	close(d.done)
	d.done = nil
	d.stopped = true
	d.sources = nil
	d.offsets = nil
	for {
		select {
		case <-d.interrupts:
		case <-d.frames:
		default:
			return nil
		}
	}
}

// Connected reports whether the driver is connected.
func (d *Driver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done != nil
}

var _ device.Driver = (*Driver)(nil)

// generator produces the synthetic frame sequence.
type generator struct {
	sources   []wire.Source
	offsets   []int
	dropEvery int
	counter   int
	data      []int
}

func newGenerator(sources []wire.Source, offsets []int, dropEvery int) *generator {
	return &generator{
		sources:   sources,
		offsets:   offsets,
		dropEvery: dropEvery,
		data:      make([]int, len(offsets)),
	}
}

// next returns the next counter and samples. Every dropEvery-th counter
// is skipped.
func (g *generator) next() (int, []int) {
	if g.dropEvery > 0 && g.counter > 0 && g.counter%g.dropEvery == 0 {
		g.counter++
	}
	counter := g.counter
	g.counter++

	ch := 0
	for _, s := range g.sources {
		div := max(int(s.FrequencyDivisor), 1)
		held := counter - counter%div
		for bit := 0; bit < 32; bit++ {
			if uint32(s.ChannelMask)&(1<<bit) == 0 {
				continue
			}
			g.data[ch] = Sample(held, ch, s.Width())
			ch++
		}
	}
	return counter, g.data
}

// Sample returns the deterministic sample of channel at counter for a
// sample width in bytes. Each channel is a sine wave around mid-scale with
// a period of 1000 frames divided by (channel+1).
func Sample(counter, channel, width int) int {
	full := 1<<(8*width) - 1
	mid := full / 2
	phase := 2 * math.Pi * float64((counter*(channel+1))%1000) / 1000
	v := mid + int(math.Round(float64(mid)*math.Sin(phase)))
	return min(max(v, 0), full)
}
