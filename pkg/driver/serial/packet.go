package serial

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Packet framing bytes.
const (
	StartByte byte = 0xA5
	StopByte  byte = 0x5A
)

// overhead is start byte, sequence, checksum and stop byte.
const overhead = 1 + 2 + 1 + 1

// ErrTimeout is returned by a port read that timed out without data.
var ErrTimeout = errors.New("serial read timeout")

// PacketSize returns the encoded size of a packet with the given payload size.
func PacketSize(payload int) int {
	return payload + overhead
}

// Checksum returns the sum of the sequence and payload bytes modulo 256.
func Checksum(seq uint16, payload []byte) byte {
	sum := byte(seq) + byte(seq>>8)
	for _, b := range payload {
		sum += b
	}
	return sum
}

// EncodePacket frames payload with seq.
func EncodePacket(seq uint16, payload []byte) []byte {
	buf := make([]byte, 0, PacketSize(len(payload)))
	buf = append(buf, StartByte)
	buf = binary.LittleEndian.AppendUint16(buf, seq)
	buf = append(buf, payload...)
	buf = append(buf, Checksum(seq, payload), StopByte)
	return buf
}

// Packet is one decoded packet. Payload is only valid until the next call
// to Reader.Next.
type Packet struct {
	Seq     uint16
	Payload []byte
}

// ReaderStats counts what a Reader consumed.
type ReaderStats struct {
	Packets     uint64
	BadChecksum uint64
	BadStop     uint64
	Skipped     uint64
}

// Reader extracts packets of a fixed payload size from a byte stream.
type Reader struct {
	r       *bufio.Reader
	size    int
	payload []byte
	stats   ReaderStats
}

// NewReader creates a Reader for packets carrying payloadSize bytes.
func NewReader(r io.Reader, payloadSize int) *Reader {
	size := PacketSize(payloadSize)
	return &Reader{
		r:       bufio.NewReaderSize(r, max(4096, 2*size)),
		size:    size,
		payload: make([]byte, payloadSize),
	}
}

// Next returns the next valid packet. Bytes before a start byte and
// packets with a bad checksum or stop byte are skipped. Errors of the
// underlying reader are returned as is; bytes already buffered are kept for
// the next call.
func (r *Reader) Next() (Packet, error) {
	for {
		if err := r.sync(); err != nil {
			return Packet{}, err
		}
		buf, err := r.r.Peek(r.size)
		if err != nil {
			return Packet{}, err
		}

		seq := binary.LittleEndian.Uint16(buf[1:3])
		payload := buf[3 : r.size-2]
		switch {
		case buf[r.size-1] != StopByte:
			r.stats.BadStop++
		case buf[r.size-2] != Checksum(seq, payload):
			r.stats.BadChecksum++
		default:
			copy(r.payload, payload)
			r.r.Discard(r.size)
			r.stats.Packets++
			return Packet{Seq: seq, Payload: r.payload}, nil
		}
		// Drop the false start byte and search again.
		r.r.Discard(1)
		r.stats.Skipped++
	}
}

// sync discards bytes up to the next start byte.
func (r *Reader) sync() error {
	for {
		b, err := r.r.Peek(1)
		if err != nil {
			return err
		}
		if b[0] == StartByte {
			return nil
		}
		r.r.Discard(1)
		r.stats.Skipped++
	}
}

// Stats returns the reader counters.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// SeqUnwrapper extends 16-bit sequence numbers to a monotonic counter.
type SeqUnwrapper struct {
	started bool
	last    uint16
	counter int
}

// Next returns the counter for seq. The first sequence maps to itself;
// later ones advance by the forward distance from the previous sequence.
func (u *SeqUnwrapper) Next(seq uint16) int {
	if !u.started {
		u.started = true
		u.last = seq
		u.counter = int(seq)
		return u.counter
	}
	u.counter += int(seq - u.last)
	u.last = seq
	return u.counter
}

// Reset forgets the previous sequence.
func (u *SeqUnwrapper) Reset() {
	*u = SeqUnwrapper{}
}

// String implements fmt.Stringer for logging.
func (s ReaderStats) String() string {
	return fmt.Sprintf("packets=%d bad_checksum=%d bad_stop=%d skipped=%d", s.Packets, s.BadChecksum, s.BadStop, s.Skipped)
}
