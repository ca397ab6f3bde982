package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/biostream/biostream-go/pkg/log"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Backend discovers devices and opens their drivers. Required.
	Backend Backend

	// Logger is the optional logger for operational output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives device state and drop events.
	ProtocolLogger log.Logger
}

// Manager is the registry of connected Devices. Every registered Device runs
// its acquisition loop on its own goroutine and is removed from the registry
// when that loop ends.
type Manager struct {
	backend Backend
	logger  *slog.Logger
	devCfg  Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	group  singleflight.Group

	mu      sync.Mutex
	devices map[string]*Device
	order   []*Device
	stopped bool
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		backend: cfg.Backend,
		logger:  logger,
		devCfg:  Config{Logger: logger, ProtocolLogger: cfg.ProtocolLogger},
		ctx:     ctx,
		cancel:  cancel,
		devices: make(map[string]*Device),
	}
}

// Scan discovers devices in domain ("" for all domains), connects and starts
// every path not yet registered, and returns the newly registered Devices.
// Devices that fail to connect are logged and skipped.
func (m *Manager) Scan(ctx context.Context, domain string) ([]*Device, error) {
	found, err := m.backend.FindDevices(ctx, domain)
	if err != nil {
		if len(found) == 0 {
			return nil, fmt.Errorf("scan %q: %w", domain, err)
		}
		m.logger.Warn("partial device scan", "domain", domain, "error", err)
	}

	var added []*Device
	for _, f := range found {
		if m.lookup(f.Path) != nil {
			continue
		}
		d, err := m.open(ctx, f.Path)
		if err != nil {
			m.logger.Warn("device skipped", "device", f.Path, "description", f.Description, "error", err)
			continue
		}
		added = append(added, d)
	}
	m.logger.Debug("scan complete", "domain", domain, "found", len(found), "added", len(added))
	return added, nil
}

// Get returns the Device registered for path, connecting and registering it
// on demand. Concurrent calls for the same path share one connect attempt.
// It reports false if the device cannot be connected.
func (m *Manager) Get(ctx context.Context, path string) (*Device, bool) {
	if d := m.lookup(path); d != nil {
		return d, true
	}
	d, err := m.open(ctx, path)
	if err != nil {
		m.logger.Warn("device unavailable", "device", path, "error", err)
		return nil, false
	}
	return d, true
}

// Devices returns the registered Devices in registration order.
func (m *Manager) Devices() []*Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.order)
}

// Stop stops every Device and waits for their acquisition loops to end.
// Afterwards no frame event fires and the Manager registers nothing.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	devices := slices.Clone(m.order)
	m.mu.Unlock()

	m.cancel()
	for _, d := range devices {
		d.Stop()
	}
	m.wg.Wait()

	m.mu.Lock()
	clear(m.devices)
	m.order = nil
	m.mu.Unlock()
	m.logger.Debug("device manager stopped", "devices", len(devices))
}

func (m *Manager) lookup(path string) *Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[path]
}

// open runs at most one connect per path at a time.
func (m *Manager) open(ctx context.Context, path string) (*Device, error) {
	v, err, _ := m.group.Do(path, func() (any, error) {
		if d := m.lookup(path); d != nil {
			return d, nil
		}
		return m.connect(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Device), nil
}

func (m *Manager) connect(ctx context.Context, path string) (*Device, error) {
	if m.isStopped() {
		return nil, ErrManagerStopped
	}
	drv, err := m.backend.Open(path)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, path, err)
	}

	d := New(path, drv, m.devCfg)
	if err := d.Connect(ctx); err != nil {
		return nil, err
	}
	if err := m.register(d); err != nil {
		d.Stop()
		return nil, err
	}
	m.logger.Info("device registered", "device", path, "description", d.Description(), "sources", len(d.Sources()))
	return d, nil
}

// register adds d and starts its acquisition loop.
func (m *Manager) register(d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrManagerStopped
	}
	m.devices[d.Path()] = d
	m.order = append(m.order, d)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := d.Start(m.ctx); err != nil {
			m.logger.Warn("device loop ended with error", "device", d.Path(), "error", err)
		}
		m.remove(d)
	}()
	return nil
}

func (m *Manager) remove(d *Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.devices[d.Path()] != d {
		return
	}
	delete(m.devices, d.Path())
	m.order = slices.DeleteFunc(m.order, func(x *Device) bool { return x == d })
}

func (m *Manager) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}
