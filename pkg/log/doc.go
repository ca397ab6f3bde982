// Package log provides structured protocol capture for biostream.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport, wire, device).
// It is separate from operational logging (slog) - protocol capture provides
// a complete machine-readable event trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure capture by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/biostream/server.blog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: Encoded data frames (FrameEvent)
//   - Wire: Decoded handshake messages (HandshakeEvent)
//   - Device: Acquisition state changes and frame drops (StateChangeEvent, DropEvent)
//
// Errors have a dedicated event type.
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with the .blog
// extension. The biostream-log CLI tool provides viewing, filtering,
// statistics and export.
package log
