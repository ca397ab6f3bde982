// Package wire defines the binary wire format of the biostream protocol.
//
// The protocol has three message shapes, all little-endian:
//
//	Request   [1B N] [N bytes: NUL-terminated ASCII paths]      client -> server
//	Response  [2B L] [L bytes: device descriptions]              server -> client
//	Frame     [1B index] [4B counter] [payload]                  server -> client
//
// A request with N = 0 asks for every device the server knows about.
//
// # Response Body
//
// The response body repeats, per device:
//
//	path\0 description\0 frequency(float32) sourceCount(1B)
//	{ port(int32) frequencyDivisor(int32) resolution(int32) channelMask(int32) } x sourceCount
//
// # Frame Payload
//
// The payload carries one entry per enabled channel, walking the device's
// sources in order and each source's channel mask from bit 0 upward. An
// entry is one raw byte for 8-bit sources and a uint16 for 16-bit sources.
// The per-entry widths are the device's offsets (see Offsets); the payload
// length is their sum. There are no per-frame type tags: the index byte
// selects the device negotiated during the handshake.
package wire
