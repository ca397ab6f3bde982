// Package serial drives devices that stream fixed-size packets over a
// serial port.
//
// Packet layout:
//
//	[0xA5][seq uint16 LE][payload][checksum][0x5A]
//
// The payload uses the frame payload encoding of package wire for the
// device layout. The checksum is the sum of the sequence and payload bytes
// modulo 256. A Reader resynchronizes on the start byte after corrupt
// input, and a SeqUnwrapper turns the 16-bit sequence into the monotonic
// frame counter the protocol expects.
//
// Backend enumerates ports with go.bug.st/serial and serves paths of the
// form "serial:<port>", e.g. "serial:/dev/ttyUSB0" or "serial:COM3".
package serial
