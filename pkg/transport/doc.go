// Package transport implements the biostream TCP protocol.
//
// A Server accepts connections and runs one Handler per connection. The
// Handler negotiates which devices the client receives, then streams their
// frames until either side closes. A Client performs the same handshake
// from the other side and decodes the frame stream.
//
// # Protocol
//
//	client                                server
//	  │ [N][path\0 path\0 ...]              │   N=0 requests every device
//	  │────────────────────────────────────▶│
//	  │ [L uint16][device entries ...]      │   entries in request order
//	  │◀────────────────────────────────────│
//	  │ [index][counter int32][payload]     │   repeated, devices interleaved
//	  │◀────────────────────────────────────│
//
// All integers are little-endian. The device index is connection-local and
// follows the order of the handshake response. Payload layout is derived
// from the device sources announced in the response (see package wire).
//
// # Concurrency
//
// Frames are written from the acquisition goroutines of the devices. Writes
// on one connection are serialized, so frames of one device arrive in order;
// frames of different devices interleave freely.
package transport
