package wire

import (
	"encoding/binary"
	"fmt"
)

// FrameHeaderSize is the size of the index byte plus the frame counter.
const FrameHeaderSize = 5

// Frame is a decoded data frame.
type Frame struct {
	Index   uint8
	Counter int32
	Data    []int
}

// FrameSize returns the full encoded frame size for the given offsets.
func FrameSize(offsets []int) int {
	return FrameHeaderSize + PayloadSize(offsets)
}

// NewFrameBuffer allocates a frame buffer for one device with the index byte
// already written. The buffer is meant to be reused with PutFrame.
func NewFrameBuffer(index uint8, offsets []int) []byte {
	buf := make([]byte, FrameSize(offsets))
	buf[0] = index
	return buf
}

// PutFrame writes the counter and payload into a buffer created by
// NewFrameBuffer. The index byte is left untouched. It does not allocate.
func PutFrame(buf []byte, counter int32, data []int, offsets []int) error {
	if len(data) != len(offsets) {
		return fmt.Errorf("%w: %d samples, %d offsets", ErrSampleCount, len(data), len(offsets))
	}
	if len(buf) != FrameSize(offsets) {
		return fmt.Errorf("%w: buffer %d bytes, want %d", ErrPayloadSize, len(buf), FrameSize(offsets))
	}
	binary.LittleEndian.PutUint32(buf[1:FrameHeaderSize], uint32(counter))
	pos := FrameHeaderSize
	for i, width := range offsets {
		switch width {
		case 1:
			buf[pos] = byte(data[i])
		case 2:
			binary.LittleEndian.PutUint16(buf[pos:], uint16(data[i]))
		default:
			return fmt.Errorf("%w: %d", ErrSampleWidth, width)
		}
		pos += width
	}
	return nil
}

// EncodeFrame encodes a complete frame into a new buffer.
func EncodeFrame(index uint8, counter int32, data []int, offsets []int) ([]byte, error) {
	buf := NewFrameBuffer(index, offsets)
	if err := PutFrame(buf, counter, data, offsets); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeFrameHeader splits a 5-byte frame header into index and counter.
func DecodeFrameHeader(h []byte) (uint8, int32) {
	return h[0], int32(binary.LittleEndian.Uint32(h[1:FrameHeaderSize]))
}

// DecodePayload unpacks a frame payload into data, which must have one
// element per offset.
func DecodePayload(payload []byte, offsets []int, data []int) error {
	if len(data) != len(offsets) {
		return fmt.Errorf("%w: %d samples, %d offsets", ErrSampleCount, len(data), len(offsets))
	}
	if len(payload) != PayloadSize(offsets) {
		return fmt.Errorf("%w: %d bytes, want %d", ErrPayloadSize, len(payload), PayloadSize(offsets))
	}
	pos := 0
	for i, width := range offsets {
		switch width {
		case 1:
			data[i] = int(payload[pos])
		case 2:
			data[i] = int(binary.LittleEndian.Uint16(payload[pos:]))
		default:
			return fmt.Errorf("%w: %d", ErrSampleWidth, width)
		}
		pos += width
	}
	return nil
}

// DecodeFrame decodes a complete frame using the offsets of its device.
func DecodeFrame(b []byte, offsets []int) (Frame, error) {
	if len(b) < FrameHeaderSize {
		return Frame{}, ErrTruncated
	}
	index, counter := DecodeFrameHeader(b)
	data := make([]int, len(offsets))
	if err := DecodePayload(b[FrameHeaderSize:], offsets, data); err != nil {
		return Frame{}, err
	}
	return Frame{Index: index, Counter: counter, Data: data}, nil
}
