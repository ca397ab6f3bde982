package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/biostream/biostream-go/pkg/log"
	"github.com/biostream/biostream-go/pkg/metrics"
	"github.com/biostream/biostream-go/pkg/wire"
)

// ClientConfig configures a biostream client.
type ClientConfig struct {
	// Paths selects the devices to stream, in the order the frames should be
	// indexed. Empty requests every device of the server.
	Paths []string

	// ConnectTimeout bounds dialing and the handshake (default: 10s).
	ConnectTimeout time.Duration

	// Logger is the optional logger for operational output.
	Logger *slog.Logger

	// ProtocolLogger receives handshake, drop and error events.
	ProtocolLogger log.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Client connects to biostream servers.
type Client struct {
	config ClientConfig
	logger *slog.Logger
}

// NewClient creates a new client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if _, err := wire.EncodeRequest(config.Paths); err != nil {
		return nil, fmt.Errorf("invalid device list: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{config: config, logger: logger}, nil
}

// Connect dials address and performs the handshake. When specific paths
// were requested, the server must answer with exactly those devices in
// the same order, otherwise ErrSequenceMismatch is returned.
func (c *Client) Connect(ctx context.Context, address string) (*ClientConn, error) {
	// Apply timeout from config if context doesn't have one
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	cc, err := c.handshake(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return cc, nil
}

// Dial connects to address with a one-off Client.
func Dial(ctx context.Context, address string, config ClientConfig) (*ClientConn, error) {
	c, err := NewClient(config)
	if err != nil {
		return nil, err
	}
	return c.Connect(ctx, address)
}

func (c *Client) handshake(ctx context.Context, conn net.Conn) (*ClientConn, error) {
	connID := uuid.New().String()
	capture := log.OrNoop(c.config.ProtocolLogger)
	remote := conn.RemoteAddr().String()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	req, err := wire.EncodeRequest(c.config.Paths)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(req); err != nil {
		if isClosed(err) {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerWire,
		Category:     log.CategoryHandshake,
		LocalRole:    log.RoleClient,
		RemoteAddr:   remote,
		Handshake:    &log.HandshakeEvent{Type: log.HandshakeRequest, Paths: c.config.Paths, Size: len(req)},
	})

	devices, err := wire.ReadResponse(conn)
	if err != nil {
		if isClosed(err) {
			return nil, ErrConnectionClosed
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrHandshakeTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	conn.SetDeadline(time.Time{})

	capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryHandshake,
		LocalRole:    log.RoleClient,
		RemoteAddr:   remote,
		Handshake:    &log.HandshakeEvent{Type: log.HandshakeResponse, Devices: log.SummarizeDevices(devices)},
	})

	if err := validateSequence(c.config.Paths, devices); err != nil {
		return nil, err
	}
	if len(devices) > math.MaxUint8+1 {
		return nil, fmt.Errorf("%w: %d devices", wire.ErrProtocolViolation, len(devices))
	}

	cc := &ClientConn{
		conn:    conn,
		connID:  connID,
		devices: devices,
		logger:  c.logger.With("conn_id", connID, "remote", remote),
		capture: capture,
		metrics: c.config.Metrics,
		streams: make([]clientStream, len(devices)),
	}
	for i, d := range devices {
		offsets := wire.Offsets(d.Sources)
		cc.streams[i] = clientStream{
			offsets: offsets,
			payload: make([]byte, wire.PayloadSize(offsets)),
			data:    make([]int, len(offsets)),
		}
		cc.streams[i].lastFrame.Store(-1)
	}
	cc.logger.Debug("handshake complete", "devices", len(devices))
	return cc, nil
}

func validateSequence(paths []string, devices []wire.DeviceInfo) error {
	if len(paths) == 0 {
		return nil
	}
	if len(paths) != len(devices) {
		return fmt.Errorf("%w: requested %d devices, got %d", ErrSequenceMismatch, len(paths), len(devices))
	}
	for i, p := range paths {
		if devices[i].Path != p {
			return fmt.Errorf("%w: index %d is %q, want %q", ErrSequenceMismatch, i, devices[i].Path, p)
		}
	}
	return nil
}

// FrameEvent is one decoded frame received by a client.
type FrameEvent struct {
	// Index is the connection-local device index.
	Index int

	// Device is the negotiated description of the device.
	Device *wire.DeviceInfo

	// LastFrame is the previous counter of this device, -1 for the first frame.
	LastFrame    int
	CurrentFrame int

	// Data holds one sample per channel. It is reused for the next frame of
	// the same device.
	Data []int
}

type clientStream struct {
	offsets   []int
	payload   []byte
	data      []int
	lastFrame atomic.Int64
}

// ClientConn is an established, negotiated client connection.
type ClientConn struct {
	conn    net.Conn
	connID  string
	devices []wire.DeviceInfo
	logger  *slog.Logger
	capture log.Logger
	metrics *metrics.Metrics
	streams []clientStream

	closeOnce sync.Once
	closed    atomic.Bool
}

// ID returns the connection identifier used in protocol capture.
func (c *ClientConn) ID() string {
	return c.connID
}

// Devices returns the negotiated devices in index order.
func (c *ClientConn) Devices() []wire.DeviceInfo {
	return c.devices
}

// LocalAddr returns the local address.
func (c *ClientConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote address.
func (c *ClientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LastFrame returns the last counter received for device index, or -1.
func (c *ClientConn) LastFrame(index int) int {
	if index < 0 || index >= len(c.streams) {
		return -1
	}
	return int(c.streams[index].lastFrame.Load())
}

// Run reads frames and calls fn for each until ctx is cancelled or the
// connection ends. fn runs on the calling goroutine. With no negotiated
// devices Run returns nil immediately.
func (c *ClientConn) Run(ctx context.Context, fn func(FrameEvent)) error {
	if len(c.devices) == 0 {
		return nil
	}
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	r := bufio.NewReaderSize(c.conn, 64*1024)
	var header [wire.FrameHeaderSize]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return c.readError(ctx, err)
		}
		index, counter := wire.DecodeFrameHeader(header[:])
		if int(index) >= len(c.streams) {
			err := fmt.Errorf("%w: unknown device index %d", wire.ErrProtocolViolation, index)
			c.logError("read frame", err)
			return err
		}
		s := &c.streams[index]
		if _, err := io.ReadFull(r, s.payload); err != nil {
			return c.readError(ctx, err)
		}
		if err := wire.DecodePayload(s.payload, s.offsets, s.data); err != nil {
			c.logError("decode frame", err)
			return err
		}

		last := int(s.lastFrame.Load())
		current := int(counter)
		dropped := 0
		if last >= 0 {
			dropped = wire.Dropped(last, current)
		}
		if dropped > 0 {
			c.logger.Warn("frames dropped", "device", c.devices[index].Path, "last", last, "current", current, "dropped", dropped)
			c.capture.Log(log.Event{
				Timestamp:    time.Now(),
				ConnectionID: c.connID,
				Direction:    log.DirectionIn,
				Layer:        log.LayerTransport,
				Category:     log.CategoryDrop,
				LocalRole:    log.RoleClient,
				DevicePath:   c.devices[index].Path,
				Drop:         &log.DropEvent{LastFrame: int64(last), CurrentFrame: int64(current), Dropped: dropped},
			})
		}
		c.metrics.RecordClientFrame(dropped)

		fn(FrameEvent{
			Index:        int(index),
			Device:       &c.devices[index],
			LastFrame:    last,
			CurrentFrame: current,
			Data:         s.data,
		})
		s.lastFrame.Store(int64(current))
	}
}

// Close closes the connection.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

func (c *ClientConn) readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.closed.Load() || isClosed(err) {
		return ErrConnectionClosed
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, wire.ErrTruncated)
	}
	c.logError("read frame", err)
	return fmt.Errorf("read frame: %w", err)
}

func (c *ClientConn) logError(op string, err error) {
	c.capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		LocalRole:    log.RoleClient,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: op,
		},
	})
}
