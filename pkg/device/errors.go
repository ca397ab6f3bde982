package device

import "errors"

// ErrDeviceUnavailable wraps every driver connect failure.
var ErrDeviceUnavailable = errors.New("device unavailable")

// Connect failure causes, reported by drivers and wrapped together with
// ErrDeviceUnavailable.
var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrInvalidPath     = errors.New("invalid device path")
	ErrAdapterNotFound = errors.New("adapter not found")
)

// Lifecycle errors.
var (
	ErrNotConnected   = errors.New("device not connected")
	ErrBusy           = errors.New("device busy")
	ErrManagerStopped = errors.New("manager stopped")
)
