package device

import (
	"context"

	"github.com/biostream/biostream-go/pkg/wire"
)

// PropertyDescription is the driver property naming the hardware model.
const PropertyDescription = "description"

// PropertyFrequency optionally overrides the layout base frequency (float64).
const PropertyFrequency = "frequency"

// Driver talks to one physical device. A Driver is used by a single Device:
// Connect, Properties, Start and Loop are called from one goroutine in that
// order; Interrupt may be called concurrently with Loop.
type Driver interface {
	// Connect opens the device. Failures should wrap ErrDeviceNotFound,
	// ErrInvalidPath or ErrAdapterNotFound where they apply.
	Connect(ctx context.Context) error

	// Properties returns the device properties, including PropertyDescription.
	Properties() (map[string]any, error)

	// Start configures acquisition.
	Start(frequency float64, sources []wire.Source) error

	// Loop blocks delivering frames until a callback asks to stop or the
	// device fails.
	Loop(cb Callbacks) error

	// Interrupt wakes Loop, which then calls OnInterrupt with arg. An
	// Interrupt that arrives before Loop starts must be delivered once it
	// does.
	Interrupt(arg any) error

	// Stop ends acquisition and releases the device.
	Stop() error
}

// Callbacks receive acquisition events from Driver.Loop. Returning true
// ends the loop.
type Callbacks interface {
	// OnRawFrame delivers one frame. data is only valid during the call.
	OnRawFrame(frame int, data []int) (stop bool)

	// OnInterrupt delivers an Interrupt argument.
	OnInterrupt(arg any) (stop bool)
}

// Found is one discovered device.
type Found struct {
	Path        string
	Description string
}

// Discoverer enumerates devices. An empty domain means all domains.
type Discoverer interface {
	FindDevices(ctx context.Context, domain string) ([]Found, error)
}

// Backend discovers devices and opens drivers for their paths.
type Backend interface {
	Discoverer

	// Open returns an unconnected driver for path.
	Open(path string) (Driver, error)
}
