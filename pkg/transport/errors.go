package transport

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// Transport errors.
var (
	// ErrConnectionClosed indicates the peer closed the connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSequenceMismatch indicates the server answered a request for
	// specific paths with a different device list or order.
	ErrSequenceMismatch = errors.New("device sequence mismatch")

	// ErrHandshakeTimeout indicates the peer did not complete the handshake in time.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrInternal wraps unexpected failures.
	ErrInternal = errors.New("internal error")

	// ErrServerRunning is returned by Start on a running server.
	ErrServerRunning = errors.New("server already running")
)

// isClosed reports whether err means the peer or the local side closed the
// connection.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
