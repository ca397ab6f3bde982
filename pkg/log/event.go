package log

import (
	"time"

	"github.com/biostream/biostream-go/pkg/wire"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	// Empty for device events that are not tied to a connection.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether this is the server or a client.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// DevicePath is the device the event refers to, if any.
	DevicePath string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Handshake   *HandshakeEvent   `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection/device state
	Drop        *DropEvent        `cbor:"13,keyasint,omitempty"` // Frame counter gaps
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the frame stream layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the handshake encoding layer (decoded).
	LayerWire Layer = 1
	// LayerDevice is the acquisition layer.
	LayerDevice Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerDevice:
		return "DEVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryHandshake indicates a handshake request or response.
	CategoryHandshake Category = 0
	// CategoryFrame indicates a data frame.
	CategoryFrame Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
	// CategoryDrop indicates lost frames.
	CategoryDrop Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryHandshake:
		return "HANDSHAKE"
	case CategoryFrame:
		return "FRAME"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	case CategoryDrop:
		return "DROP"
	default:
		return "UNKNOWN"
	}
}

// Role indicates whether the local endpoint is the server or a client.
type Role uint8

const (
	// RoleServer indicates the device-adapter server.
	RoleServer Role = 0
	// RoleClient indicates a consumer.
	RoleClient Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "SERVER"
	case RoleClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// MaxFrameData is the number of frame bytes kept in a FrameEvent.
const MaxFrameData = 64

// FrameEvent captures one encoded data frame at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (header included).
	Size int `cbor:"1,keyasint"`

	// Index is the connection-local device index.
	Index uint8 `cbor:"2,keyasint"`

	// Counter is the device frame counter.
	Counter int32 `cbor:"3,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"4,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"5,keyasint,omitempty"`
}

// NewFrameEvent builds a FrameEvent from an encoded frame, copying at most
// MaxFrameData bytes.
func NewFrameEvent(frame []byte) *FrameEvent {
	ev := &FrameEvent{Size: len(frame)}
	if len(frame) >= wire.FrameHeaderSize {
		ev.Index, ev.Counter = wire.DecodeFrameHeader(frame)
	}
	n := len(frame)
	if n > MaxFrameData {
		n = MaxFrameData
		ev.Truncated = true
	}
	ev.Data = append([]byte(nil), frame[:n]...)
	return ev
}

// HandshakeType distinguishes the two handshake messages.
type HandshakeType uint8

const (
	// HandshakeRequest is the path list sent by the client.
	HandshakeRequest HandshakeType = 0
	// HandshakeResponse is the device list sent by the server.
	HandshakeResponse HandshakeType = 1
)

// String returns the handshake type name.
func (h HandshakeType) String() string {
	switch h {
	case HandshakeRequest:
		return "REQUEST"
	case HandshakeResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// HandshakeEvent captures a decoded handshake message at the wire layer.
type HandshakeEvent struct {
	// Type distinguishes request and response.
	Type HandshakeType `cbor:"1,keyasint"`

	// Paths is the requested device list (request only, empty means all).
	Paths []string `cbor:"2,keyasint,omitempty"`

	// Devices is the negotiated device list (response only).
	Devices []DeviceSummary `cbor:"3,keyasint,omitempty"`

	// Size is the encoded message size in bytes.
	Size int `cbor:"4,keyasint,omitempty"`
}

// DeviceSummary describes one device of a handshake response.
type DeviceSummary struct {
	Index       uint8   `cbor:"1,keyasint"`
	Path        string  `cbor:"2,keyasint"`
	Description string  `cbor:"3,keyasint,omitempty"`
	Frequency   float32 `cbor:"4,keyasint"`
	Sources     int     `cbor:"5,keyasint"`
	Channels    int     `cbor:"6,keyasint"`
}

// SummarizeDevices converts handshake device entries into summaries,
// indexed in order.
func SummarizeDevices(devices []wire.DeviceInfo) []DeviceSummary {
	out := make([]DeviceSummary, len(devices))
	for i, d := range devices {
		out[i] = DeviceSummary{
			Index:       uint8(i),
			Path:        d.Path,
			Description: d.Description,
			Frequency:   d.Frequency,
			Sources:     len(d.Sources),
			Channels:    len(wire.Offsets(d.Sources)),
		}
	}
	return out
}

// StateChangeEvent captures connection and device lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityDevice indicates a device state change.
	StateEntityDevice StateEntity = 1
	// StateEntityServer indicates a server state change.
	StateEntityServer StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityDevice:
		return "DEVICE"
	case StateEntityServer:
		return "SERVER"
	default:
		return "UNKNOWN"
	}
}

// DropEvent captures a gap between two consecutive frame counters.
type DropEvent struct {
	// LastFrame is the previous counter.
	LastFrame int64 `cbor:"1,keyasint"`

	// CurrentFrame is the counter that revealed the gap.
	CurrentFrame int64 `cbor:"2,keyasint"`

	// Dropped is the number of frames lost.
	Dropped int `cbor:"3,keyasint"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
