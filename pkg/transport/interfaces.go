package transport

import (
	"context"
	"net"

	"github.com/biostream/biostream-go/pkg/device"
)

// DeviceRegistry resolves devices for handshakes.
// Implemented by device.Manager.
type DeviceRegistry interface {
	// Scan discovers and registers devices in domain ("" for all).
	Scan(ctx context.Context, domain string) ([]*device.Device, error)

	// Get returns the device for path, connecting it on demand.
	Get(ctx context.Context, path string) (*device.Device, bool)

	// Devices returns every registered device.
	Devices() []*device.Device

	// Stop stops every device and waits for them.
	Stop()
}

// TransportServer represents a biostream server.
// Implemented by Server.
type TransportServer interface {
	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop gracefully stops the server.
	Stop() error

	// Addr returns the server's listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of active connections.
	ConnectionCount() int
}

// Compile-time interface satisfaction checks.
var (
	_ DeviceRegistry  = (*device.Manager)(nil)
	_ TransportServer = (*Server)(nil)
)
