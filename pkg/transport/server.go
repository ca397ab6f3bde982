package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/biostream/biostream-go/pkg/log"
	"github.com/biostream/biostream-go/pkg/metrics"
)

// DefaultPort is the default biostream TCP port.
const DefaultPort = 5555

// Default timeouts.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
)

// ServerConfig configures a biostream server.
type ServerConfig struct {
	// Address to listen on (e.g., ":5555" or "127.0.0.1:5555").
	Address string

	// Devices resolves handshake requests. Required. The server stops it
	// on Stop.
	Devices DeviceRegistry

	// MaxConnections limits concurrent connections (0 = unlimited).
	MaxConnections int

	// HandshakeTimeout bounds reading the client request.
	// Zero selects DefaultHandshakeTimeout, negative disables it.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write.
	// Zero selects DefaultWriteTimeout, negative disables it.
	WriteTimeout time.Duration

	// Logger is the optional logger for operational output.
	Logger *slog.Logger

	// ProtocolLogger receives handshake, state and error events.
	ProtocolLogger log.Logger

	// CaptureFrames additionally sends every outgoing frame to
	// ProtocolLogger.
	CaptureFrames bool

	// Metrics is optional.
	Metrics *metrics.Metrics

	// OnConnect is called when a connection is accepted.
	OnConnect func(h *Handler)

	// OnDisconnect is called after a connection ended.
	OnDisconnect func(h *Handler)
}

// Server accepts client connections and streams device frames to them.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	capture  log.Logger
	listener net.Listener

	// Active connections
	conns   map[*Handler]struct{}
	connsMu sync.RWMutex

	// State
	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewServer creates a new biostream server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Devices == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Server{
		config:  config,
		logger:  logger,
		capture: log.OrNoop(config.ProtocolLogger),
		conns:   make(map[*Handler]struct{}),
	}, nil
}

// Start binds the listen address and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.logger.Info("server listening", "address", listener.Addr().String())
	s.logState("", "LISTENING", "")

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and every connection, waits for connection
// goroutines, then stops the device registry. Safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		wasRunning := s.running.Swap(false)
		if wasRunning {
			s.cancel()
			s.listener.Close()
		}

		s.connsMu.RLock()
		handlers := make([]*Handler, 0, len(s.conns))
		for h := range s.conns {
			handlers = append(handlers, h)
		}
		s.connsMu.RUnlock()
		for _, h := range handlers {
			h.Stop()
		}

		s.wg.Wait()
		s.config.Devices.Stop()

		if wasRunning {
			s.logState("LISTENING", "STOPPED", "")
		}
		s.logger.Info("server stopped", "connections", len(handlers))
	})
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// Connections returns the active connection handlers.
func (s *Server) Connections() []*Handler {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	out := make([]*Handler, 0, len(s.conns))
	for h := range s.conns {
		out = append(out, h)
	}
	return out
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			// Temporary failure such as EMFILE.
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, time.Second)
			}
			s.logger.Warn("accept failed", "error", err, "retry_in", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	h := NewHandler(conn, s.config.Devices, HandlerConfig{
		HandshakeTimeout: s.config.HandshakeTimeout,
		WriteTimeout:     s.config.WriteTimeout,
		Logger:           s.logger,
		ProtocolLogger:   s.capture,
		CaptureFrames:    s.config.CaptureFrames,
		Metrics:          s.config.Metrics,
	})

	if !s.register(h) {
		s.logger.Warn("connection rejected", "remote", h.RemoteAddr(), "reason", "max connections reached")
		s.config.Metrics.RecordConnection(false)
		conn.Close()
		return
	}
	s.config.Metrics.RecordConnection(true)

	if s.config.OnConnect != nil {
		s.config.OnConnect(h)
	}

	err := h.Run(s.ctx)
	switch {
	case err == nil, errors.Is(err, ErrConnectionClosed):
		s.logger.Debug("connection ended", "conn_id", h.ID(), "remote", h.RemoteAddr())
	default:
		s.logger.Warn("connection failed", "conn_id", h.ID(), "remote", h.RemoteAddr(), "error", err)
	}

	s.connsMu.Lock()
	delete(s.conns, h)
	s.connsMu.Unlock()
	s.config.Metrics.RecordDisconnect()

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(h)
	}
}

// register adds h unless the server is stopping or full.
func (s *Server) register(h *Handler) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if !s.running.Load() {
		return false
	}
	if s.config.MaxConnections > 0 && len(s.conns) >= s.config.MaxConnections {
		return false
	}
	s.conns[h] = struct{}{}
	return true
}

func (s *Server) logState(oldState, newState, reason string) {
	s.capture.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerTransport,
		Category:  log.CategoryState,
		LocalRole: log.RoleServer,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityServer,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
