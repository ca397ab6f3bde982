package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/biostream/biostream-go/pkg/device"
	"github.com/biostream/biostream-go/pkg/log"
	"github.com/biostream/biostream-go/pkg/metrics"
	"github.com/biostream/biostream-go/pkg/wire"
)

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// HandshakeTimeout bounds reading the request (<= 0 disables).
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write (<= 0 disables).
	WriteTimeout time.Duration

	Logger         *slog.Logger
	ProtocolLogger log.Logger
	CaptureFrames  bool
	Metrics        *metrics.Metrics
}

// stream is the per-connection state of one negotiated device. The frame
// buffer is reused for every frame and never shared between connections.
type stream struct {
	index   uint8
	device  *device.Device
	offsets []int
	buffer  []byte
	sub     device.Subscription
	idle    <-chan struct{}

	// mismatch is set after the first frame that did not fit offsets.
	mismatch bool
}

// Handler serves one client connection: handshake, then frame streaming
// until the peer closes, a write fails, every negotiated device stops, or
// Stop is called.
type Handler struct {
	conn    net.Conn
	devices DeviceRegistry
	config  HandlerConfig
	logger  *slog.Logger
	capture log.Logger
	connID  string
	remote  string

	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}

	mu         sync.Mutex
	streams    []*stream
	negotiated []wire.DeviceInfo
	stopped    bool
	reason     string
}

// NewHandler creates a Handler for conn.
func NewHandler(conn net.Conn, devices DeviceRegistry, config HandlerConfig) *Handler {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	connID := uuid.New().String()
	remote := conn.RemoteAddr().String()
	return &Handler{
		conn:    conn,
		devices: devices,
		config:  config,
		logger:  logger.With("conn_id", connID, "remote", remote),
		capture: log.OrNoop(config.ProtocolLogger),
		connID:  connID,
		remote:  remote,
		done:    make(chan struct{}),
	}
}

// ID returns the unique connection identifier.
func (h *Handler) ID() string {
	return h.connID
}

// RemoteAddr returns the peer address.
func (h *Handler) RemoteAddr() string {
	return h.remote
}

// Devices returns the negotiated device list in index order. It is empty
// until the handshake completed.
func (h *Handler) Devices() []wire.DeviceInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.negotiated
}

// Run performs the handshake, subscribes to the negotiated devices and
// blocks until the connection ends. Cancelling ctx closes the connection.
// A clean close by either side returns nil or ErrConnectionClosed.
func (h *Handler) Run(ctx context.Context) error {
	defer h.Stop()
	stop := context.AfterFunc(ctx, h.closeConn)
	defer stop()

	h.logState("", "CONNECTED", "")

	streams, err := h.handshake(ctx)
	h.config.Metrics.RecordHandshake(len(streams), err)
	if err != nil {
		h.logError(log.LayerWire, "handshake", err)
		return err
	}

	if !h.subscribe(streams) {
		return nil
	}
	h.logger.Info("client connected", "devices", len(streams))
	if len(streams) > 0 {
		go h.watchDevices(streams)
	}

	return h.drain()
}

// Stop unsubscribes from every device and closes the connection.
// Safe to call more than once and concurrently with Run.
func (h *Handler) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	streams := h.streams
	h.streams = nil
	reason := h.reason
	h.mu.Unlock()

	close(h.done)
	for _, s := range streams {
		s.device.Unsubscribe(s.sub)
	}
	h.closeConn()
	h.logState("CONNECTED", "DISCONNECTED", reason)
}

// watchDevices closes the connection once every negotiated device has gone
// idle. A device that failed is not restarted for this connection.
func (h *Handler) watchDevices(streams []*stream) {
	for _, s := range streams {
		select {
		case <-s.idle:
		case <-h.done:
			return
		}
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.reason = "devices stopped"
	h.mu.Unlock()

	h.logger.Info("all devices stopped, closing connection", "devices", len(streams))
	h.closeConn()
}

func (h *Handler) handshake(ctx context.Context) ([]*stream, error) {
	if h.config.HandshakeTimeout > 0 {
		h.conn.SetReadDeadline(time.Now().Add(h.config.HandshakeTimeout))
	}
	paths, err := wire.ReadRequest(h.conn)
	if err != nil {
		return nil, h.classify(err)
	}
	h.conn.SetReadDeadline(time.Time{})

	h.capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: h.connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryHandshake,
		LocalRole:    log.RoleServer,
		RemoteAddr:   h.remote,
		Handshake:    &log.HandshakeEvent{Type: log.HandshakeRequest, Paths: paths},
	})

	devices := h.resolve(ctx, paths)
	if len(devices) > math.MaxUint8+1 {
		h.logger.Warn("device list truncated", "devices", len(devices), "max", math.MaxUint8+1)
		devices = devices[:math.MaxUint8+1]
	}

	infos := make([]wire.DeviceInfo, len(devices))
	streams := make([]*stream, len(devices))
	for i, d := range devices {
		infos[i] = d.Info()
		offsets := wire.Offsets(infos[i].Sources)
		streams[i] = &stream{
			index:   uint8(i),
			device:  d,
			offsets: offsets,
			buffer:  wire.NewFrameBuffer(uint8(i), offsets),
		}
	}

	resp, err := wire.EncodeResponse(infos)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	if err := h.write(resp); err != nil {
		return nil, h.classify(err)
	}

	h.mu.Lock()
	h.negotiated = infos
	h.mu.Unlock()

	h.capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: h.connID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerWire,
		Category:     log.CategoryHandshake,
		LocalRole:    log.RoleServer,
		RemoteAddr:   h.remote,
		Handshake: &log.HandshakeEvent{
			Type:    log.HandshakeResponse,
			Devices: log.SummarizeDevices(infos),
			Size:    len(resp),
		},
	})
	h.logger.Debug("handshake complete", "requested", len(paths), "devices", len(infos))
	return streams, nil
}

// resolve maps requested paths to devices in request order, skipping paths
// that cannot be served. An empty request selects every device after a scan.
func (h *Handler) resolve(ctx context.Context, paths []string) []*device.Device {
	if len(paths) == 0 {
		if _, err := h.devices.Scan(ctx, ""); err != nil {
			h.logger.Warn("device scan failed", "error", err)
		}
		return h.devices.Devices()
	}

	devices := make([]*device.Device, 0, len(paths))
	for _, p := range paths {
		d, ok := h.devices.Get(ctx, p)
		if !ok {
			h.logger.Info("requested device unavailable", "device", p)
			continue
		}
		devices = append(devices, d)
	}
	return devices
}

// subscribe reports false if the handler was stopped during the handshake.
func (h *Handler) subscribe(streams []*stream) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	for _, s := range streams {
		s.idle = s.device.Idle()
		s.sub = s.device.Subscribe(func(ev device.FrameEvent) {
			h.send(s, ev)
		})
	}
	h.streams = streams
	return true
}

// send runs on the acquisition goroutine of s.device.
func (h *Handler) send(s *stream, ev device.FrameEvent) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if h.closed.Load() {
		return
	}
	if err := wire.PutFrame(s.buffer, int32(ev.CurrentFrame), ev.Data, s.offsets); err != nil {
		if !s.mismatch {
			s.mismatch = true
			h.logger.Warn("frame does not match device layout", "device", s.device.Path(), "error", err)
		}
		return
	}
	if h.config.WriteTimeout > 0 {
		h.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
	}
	if _, err := h.conn.Write(s.buffer); err != nil {
		if h.closed.Load() {
			return
		}
		h.config.Metrics.RecordWriteError()
		h.logger.Info("frame write failed, closing connection", "device", s.device.Path(), "error", err)
		h.logError(log.LayerTransport, "write frame", err)
		// Run observes the closed socket and unsubscribes.
		h.closeConn()
		return
	}

	h.config.Metrics.RecordFrameSent(len(s.buffer))
	if h.config.CaptureFrames {
		h.capture.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: h.connID,
			Direction:    log.DirectionOut,
			Layer:        log.LayerTransport,
			Category:     log.CategoryFrame,
			LocalRole:    log.RoleServer,
			DevicePath:   s.device.Path(),
			Frame:        log.NewFrameEvent(s.buffer),
		})
	}
}

// drain blocks reading the socket so a peer close is noticed. Clients send
// nothing after the request; stray bytes are discarded.
func (h *Handler) drain() error {
	buf := make([]byte, 256)
	for {
		if _, err := h.conn.Read(buf); err != nil {
			if h.closed.Load() {
				return nil
			}
			return h.classify(err)
		}
	}
}

func (h *Handler) write(b []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.config.WriteTimeout > 0 {
		h.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
	}
	_, err := h.conn.Write(b)
	return err
}

func (h *Handler) closeConn() {
	if h.closed.CompareAndSwap(false, true) {
		h.conn.Close()
	}
}

func (h *Handler) classify(err error) error {
	switch {
	case isClosed(err), h.closed.Load():
		return ErrConnectionClosed
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrHandshakeTimeout
	case errors.Is(err, wire.ErrProtocolViolation):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
}

func (h *Handler) logState(oldState, newState, reason string) {
	h.capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: h.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    log.RoleServer,
		RemoteAddr:   h.remote,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (h *Handler) logError(layer log.Layer, op string, err error) {
	if errors.Is(err, ErrConnectionClosed) {
		return
	}
	h.capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: h.connID,
		Layer:        layer,
		Category:     log.CategoryError,
		LocalRole:    log.RoleServer,
		RemoteAddr:   h.remote,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: op,
		},
	})
}
