package sim

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/biostream/biostream-go/pkg/device"
)

// Domain is the path domain served by Backend.
const Domain = "sim"

// DeviceConfig describes one simulated device.
type DeviceConfig struct {
	// Address is the part of the path after "sim:".
	Address string `yaml:"address" toml:"address"`

	// Description selects the channel layout, e.g. "biosignalsplux".
	Description string `yaml:"description" toml:"description"`

	// Frequency overrides the layout base frequency (0 keeps it).
	Frequency float64 `yaml:"frequency" toml:"frequency"`

	// DropEvery skips one frame counter every n frames (0 disables).
	DropEvery int `yaml:"drop_every" toml:"drop_every"`

	// Inject disables the generator. Frames are delivered only through
	// Driver.Inject.
	Inject bool `yaml:"inject" toml:"inject"`
}

// Path returns the device path of c.
func (c DeviceConfig) Path() string {
	return Domain + ":" + c.Address
}

// Backend is a device.Backend for simulated devices.
type Backend struct {
	mu      sync.Mutex
	devices map[string]DeviceConfig
	order   []string
	drivers map[string]*Driver
}

// NewBackend creates a Backend serving devices.
func NewBackend(devices ...DeviceConfig) *Backend {
	b := &Backend{
		devices: make(map[string]DeviceConfig),
		drivers: make(map[string]*Driver),
	}
	for _, d := range devices {
		b.Add(d)
	}
	return b
}

// Add adds or replaces a simulated device.
func (b *Backend) Add(cfg DeviceConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.devices[cfg.Address]; !ok {
		b.order = append(b.order, cfg.Address)
	}
	b.devices[cfg.Address] = cfg
}

// Remove removes a simulated device. Drivers already opened for it keep
// running; new Connect calls fail with device.ErrDeviceNotFound.
func (b *Backend) Remove(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.devices, address)
	b.order = slices.DeleteFunc(b.order, func(a string) bool { return a == address })
}

// FindDevices lists the configured devices.
func (b *Backend) FindDevices(ctx context.Context, domain string) ([]device.Found, error) {
	if domain != "" && domain != Domain {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	found := make([]device.Found, 0, len(b.order))
	for _, addr := range b.order {
		cfg := b.devices[addr]
		found = append(found, device.Found{Path: cfg.Path(), Description: cfg.Description})
	}
	return found, nil
}

// Open returns a driver for path. Unknown addresses are reported by
// Connect, as with real hardware.
func (b *Backend) Open(path string) (device.Driver, error) {
	domain, address, err := device.SplitPath(path)
	if err != nil {
		return nil, err
	}
	if domain != Domain {
		return nil, fmt.Errorf("%w: domain %q", device.ErrAdapterNotFound, domain)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	drv := newDriver(address, b.lookup)
	b.drivers[address] = drv
	return drv, nil
}

// Driver returns the driver most recently opened for address.
func (b *Backend) Driver(address string) (*Driver, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.drivers[address]
	return d, ok
}

func (b *Backend) lookup(address string) (DeviceConfig, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cfg, ok := b.devices[address]
	return cfg, ok
}

var _ device.Backend = (*Backend)(nil)
