package device

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/biostream/biostream-go/pkg/log"
	"github.com/biostream/biostream-go/pkg/wire"
)

// State is the lifecycle state of a Device.
type State uint8

const (
	// StateIdle - no driver connection.
	StateIdle State = iota

	// StateConnected - driver connected, layout known, not acquiring.
	StateConnected

	// StateStreaming - acquisition loop running.
	StateStreaming
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnected:
		return "CONNECTED"
	case StateStreaming:
		return "STREAMING"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent is raised for every frame a Device acquires.
type FrameEvent struct {
	Device       *Device
	LastFrame    int
	CurrentFrame int

	// Data holds one sample per channel in wire order. It is only valid for
	// the duration of the callback.
	Data []int
}

// FrameFunc receives frame events on the acquisition goroutine. It must not
// block and must not call Subscribe or Unsubscribe.
type FrameFunc func(FrameEvent)

// Subscription identifies a registered FrameFunc.
type Subscription uint64

type subscriber struct {
	id Subscription
	fn FrameFunc
}

// Stats is a snapshot of acquisition counters.
type Stats struct {
	Frames      uint64
	Dropped     uint64
	LastFrame   int
	Subscribers int
}

// Config configures a Device.
type Config struct {
	// Logger is the optional logger for operational output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives device state and drop events.
	ProtocolLogger log.Logger
}

// Device owns one driver connection and its acquisition loop.
type Device struct {
	path    string
	driver  Driver
	logger  *slog.Logger
	capture log.Logger

	mu          sync.Mutex
	state       State
	connecting  bool
	description string
	frequency   float64
	sources     []wire.Source
	cancel      context.CancelFunc

	// idle is closed when the Device returns to StateIdle.
	idle chan struct{}

	// lastFrame is written only by the acquisition goroutine.
	lastFrame atomic.Int64
	frames    atomic.Uint64
	dropped   atomic.Uint64

	subMu   sync.Mutex
	nextSub Subscription
	subs    atomic.Pointer[[]subscriber]
}

// New creates an idle Device for path backed by driver.
func New(path string, driver Driver, cfg Config) *Device {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := &Device{
		path:    path,
		driver:  driver,
		logger:  logger.With("device", path),
		capture: log.OrNoop(cfg.ProtocolLogger),
	}
	d.lastFrame.Store(-1)
	return d
}

// Connect connects the driver and resolves the channel layout from the
// reported description. A missing or unknown description leaves the Device
// connected with no sources.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateIdle || d.connecting {
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrBusy, d.path, state)
	}
	d.connecting = true
	d.mu.Unlock()

	desc, layout, err := d.connect(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.connecting = false
	if err != nil {
		return err
	}
	d.description = desc
	d.frequency = layout.Frequency
	d.sources = layout.Sources
	d.setState(StateConnected, "")
	return nil
}

func (d *Device) connect(ctx context.Context) (string, Layout, error) {
	if err := d.driver.Connect(ctx); err != nil {
		return "", Layout{}, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, d.path, err)
	}
	props, err := d.driver.Properties()
	if err != nil {
		d.release()
		return "", Layout{}, fmt.Errorf("%w: %s: properties: %w", ErrDeviceUnavailable, d.path, err)
	}

	desc, _ := props[PropertyDescription].(string)
	var layout Layout
	switch l, ok := LookupLayout(desc); {
	case desc == "":
		d.logger.Warn("device reports no description, no channels available")
	case !ok:
		d.logger.Warn("unknown device description, no channels available", "description", desc)
	default:
		layout = l
	}
	if f, ok := props[PropertyFrequency].(float64); ok && f > 0 {
		layout.Frequency = f
	}
	return desc, layout, nil
}

// Start runs the acquisition loop and blocks until it ends, either because
// Stop was called, ctx was cancelled or the driver failed. The Device must
// be connected. On return the Device is idle again with no sources.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateConnected {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotConnected, d.path)
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.setState(StateStreaming, "")
	frequency := d.frequency
	sources := slices.Clone(d.sources)
	d.mu.Unlock()

	// Cancellation is always visible to the callbacks before the driver is
	// interrupted.
	stopInterrupt := context.AfterFunc(runCtx, d.interrupt)

	err := d.run(runCtx, frequency, sources)

	stopInterrupt()
	cancel()
	d.finish(err)
	return err
}

func (d *Device) run(ctx context.Context, frequency float64, sources []wire.Source) error {
	d.lastFrame.Store(-1)
	if err := d.driver.Start(frequency, sources); err != nil {
		return fmt.Errorf("start %s: %w", d.path, err)
	}
	if ctx.Err() != nil {
		return nil
	}
	d.logger.Info("acquisition started", "frequency", frequency, "channels", len(wire.Offsets(sources)))

	err := d.driver.Loop(&loopCallbacks{device: d, ctx: ctx})
	if ctx.Err() != nil {
		// Drivers report interrupted loops in their own ways.
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquisition %s: %w", d.path, err)
	}
	return nil
}

func (d *Device) finish(err error) {
	d.release()

	reason := "stopped"
	if err != nil {
		reason = err.Error()
		d.logger.Error("acquisition failed", "error", err)
		d.capture.Log(log.Event{
			Timestamp:  time.Now(),
			Layer:      log.LayerDevice,
			Category:   log.CategoryError,
			DevicePath: d.path,
			Error:      &log.ErrorEventData{Layer: log.LayerDevice, Message: err.Error(), Context: "acquisition"},
		})
	}

	d.mu.Lock()
	d.cancel = nil
	d.sources = nil
	d.setState(StateIdle, reason)
	d.mu.Unlock()
	d.lastFrame.Store(-1)

	d.logger.Info("acquisition ended", "frames", d.frames.Load(), "dropped", d.dropped.Load())
}

// Stop cancels a running acquisition loop and interrupts the driver, or
// disconnects a connected Device that never started. Calling Stop again,
// or on an idle Device, does nothing.
func (d *Device) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	disconnect := cancel == nil && d.state == StateConnected
	if disconnect {
		d.sources = nil
		d.setState(StateIdle, "stopped")
	}
	d.mu.Unlock()

	switch {
	case cancel != nil:
		d.logger.Debug("stopping acquisition")
		cancel()
	case disconnect:
		d.release()
	}
}

func (d *Device) interrupt() {
	if err := d.driver.Interrupt(nil); err != nil {
		d.logger.Debug("driver interrupt failed", "error", err)
	}
}

func (d *Device) release() {
	if err := d.driver.Stop(); err != nil {
		d.logger.Debug("driver stop failed", "error", err)
	}
}

// setState must be called with d.mu held.
func (d *Device) setState(s State, reason string) {
	old := d.state
	if old == s {
		return
	}
	d.state = s
	switch {
	case old == StateIdle:
		d.idle = make(chan struct{})
	case s == StateIdle:
		close(d.idle)
	}
	d.logger.Debug("device state changed", "from", old.String(), "to", s.String())
	d.capture.Log(log.Event{
		Timestamp:  time.Now(),
		Layer:      log.LayerDevice,
		Category:   log.CategoryState,
		DevicePath: d.path,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDevice,
			OldState: old.String(),
			NewState: s.String(),
			Reason:   reason,
		},
	})
}

// raise runs on the acquisition goroutine for every frame.
func (d *Device) raise(frame int, data []int) {
	last := int(d.lastFrame.Load())
	if n := wire.Dropped(last, frame); n > 0 {
		d.dropped.Add(uint64(n))
		d.logger.Warn("frames dropped", "last", last, "current", frame, "dropped", n)
		d.capture.Log(log.Event{
			Timestamp:  time.Now(),
			Layer:      log.LayerDevice,
			Category:   log.CategoryDrop,
			DevicePath: d.path,
			Drop:       &log.DropEvent{LastFrame: int64(last), CurrentFrame: int64(frame), Dropped: n},
		})
	}
	d.frames.Add(1)

	if subs := d.subs.Load(); subs != nil {
		ev := FrameEvent{Device: d, LastFrame: last, CurrentFrame: frame, Data: data}
		for _, s := range *subs {
			s.fn(ev)
		}
	}
	d.lastFrame.Store(int64(frame))
}

type loopCallbacks struct {
	device *Device
	ctx    context.Context
}

func (c *loopCallbacks) OnRawFrame(frame int, data []int) bool {
	if c.ctx.Err() != nil {
		return true
	}
	c.device.raise(frame, data)
	return c.ctx.Err() != nil
}

func (c *loopCallbacks) OnInterrupt(any) bool {
	return c.ctx.Err() != nil
}

// Subscribe registers fn for frame events.
func (d *Device) Subscribe(fn FrameFunc) Subscription {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	d.nextSub++
	var next []subscriber
	if cur := d.subs.Load(); cur != nil {
		next = make([]subscriber, len(*cur), len(*cur)+1)
		copy(next, *cur)
	}
	next = append(next, subscriber{id: d.nextSub, fn: fn})
	d.subs.Store(&next)
	return d.nextSub
}

// Unsubscribe removes a subscription. It reports whether it was registered.
func (d *Device) Unsubscribe(s Subscription) bool {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	cur := d.subs.Load()
	if cur == nil {
		return false
	}
	i := slices.IndexFunc(*cur, func(x subscriber) bool { return x.id == s })
	if i < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(*cur), i, i+1)
	d.subs.Store(&next)
	return true
}

// Path returns the device path.
func (d *Device) Path() string {
	return d.path
}

// State returns the current lifecycle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Idle returns a channel that is closed once the Device is back in
// StateIdle, either because it was stopped or because its driver failed.
// For an idle Device the channel is already closed.
func (d *Device) Idle() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idle == nil {
		d.idle = make(chan struct{})
		close(d.idle)
	}
	return d.idle
}

// Description returns the hardware description reported at Connect.
func (d *Device) Description() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.description
}

// Frequency returns the base sampling rate.
func (d *Device) Frequency() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frequency
}

// Sources returns a copy of the device sources.
func (d *Device) Sources() []wire.Source {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.sources)
}

// Offsets returns the per-channel byte widths of a frame payload.
func (d *Device) Offsets() []int {
	return wire.Offsets(d.Sources())
}

// Columns returns the "{port}-{channel}" names in payload order.
func (d *Device) Columns() []string {
	return wire.Columns(d.Sources())
}

// Info returns the handshake description of the Device.
func (d *Device) Info() wire.DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return wire.DeviceInfo{
		Path:        d.path,
		Description: d.description,
		Frequency:   float32(d.frequency),
		Sources:     slices.Clone(d.sources),
	}
}

// Stats returns the acquisition counters.
func (d *Device) Stats() Stats {
	n := 0
	if subs := d.subs.Load(); subs != nil {
		n = len(*subs)
	}
	return Stats{
		Frames:      d.frames.Load(),
		Dropped:     d.dropped.Load(),
		LastFrame:   int(d.lastFrame.Load()),
		Subscribers: n,
	}
}
