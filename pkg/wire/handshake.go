package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Handshake size limits.
const (
	// MaxRequestBody is the largest request body the 1-byte length allows.
	MaxRequestBody = math.MaxUint8

	// MaxResponseBody is the largest response body the 2-byte length allows.
	MaxResponseBody = math.MaxUint16

	// ResponseLengthSize is the size of the response length prefix.
	ResponseLengthSize = 2

	// SourceSize is the encoded size of one Source.
	SourceSize = 16

	// MaxSources is the largest source count a device entry can carry.
	MaxSources = math.MaxUint8
)

// EncodeRequest encodes the handshake request for the given device paths.
// An empty list requests every device.
func EncodeRequest(paths []string) ([]byte, error) {
	n := 0
	for _, p := range paths {
		if err := validatePath(p); err != nil {
			return nil, err
		}
		n += len(p) + 1
	}
	if n > MaxRequestBody {
		return nil, fmt.Errorf("%w: %d bytes", ErrRequestTooLong, n)
	}

	buf := make([]byte, 0, 1+n)
	buf = append(buf, byte(n))
	for _, p := range paths {
		buf = append(buf, p...)
		buf = append(buf, 0)
	}
	return buf, nil
}

// DecodeRequest splits a request body into device paths. Empty entries are
// discarded; an empty result means every device.
func DecodeRequest(body []byte) []string {
	var paths []string
	for _, part := range bytes.Split(body, []byte{0}) {
		if len(part) > 0 {
			paths = append(paths, string(part))
		}
	}
	return paths
}

// ReadRequest reads one handshake request from r.
func ReadRequest(r io.Reader) ([]string, error) {
	var n [1]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, err
	}
	if n[0] == 0 {
		return nil, nil
	}
	body := make([]byte, n[0])
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, truncated(err)
	}
	return DecodeRequest(body), nil
}

// EncodeResponse encodes the handshake response, length prefix included.
func EncodeResponse(devices []DeviceInfo) ([]byte, error) {
	size := 0
	for _, d := range devices {
		if err := validatePath(d.Path); err != nil {
			return nil, err
		}
		if bytes.IndexByte([]byte(d.Description), 0) >= 0 {
			return nil, fmt.Errorf("%w: description of %q contains NUL", ErrInvalidPath, d.Path)
		}
		if len(d.Sources) > MaxSources {
			return nil, fmt.Errorf("%w: %s has %d", ErrTooManySources, d.Path, len(d.Sources))
		}
		size += len(d.Path) + 1 + len(d.Description) + 1 + 4 + 1 + SourceSize*len(d.Sources)
	}
	if size > MaxResponseBody {
		return nil, fmt.Errorf("%w: %d bytes", ErrResponseTooLarge, size)
	}

	buf := make([]byte, ResponseLengthSize, ResponseLengthSize+size)
	binary.LittleEndian.PutUint16(buf, uint16(size))
	for _, d := range devices {
		buf = append(buf, d.Path...)
		buf = append(buf, 0)
		buf = append(buf, d.Description...)
		buf = append(buf, 0)
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(d.Frequency))
		buf = append(buf, byte(len(d.Sources)))
		for _, s := range d.Sources {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Port))
			buf = binary.LittleEndian.AppendUint32(buf, uint32(s.FrequencyDivisor))
			buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Resolution))
			buf = binary.LittleEndian.AppendUint32(buf, uint32(s.ChannelMask))
		}
	}
	return buf, nil
}

// DecodeResponse decodes a response body (without its length prefix).
func DecodeResponse(body []byte) ([]DeviceInfo, error) {
	var devices []DeviceInfo
	d := decoder{buf: body}
	for d.remaining() > 0 {
		var info DeviceInfo
		var err error
		if info.Path, err = d.cstring(); err != nil {
			return nil, err
		}
		if info.Description, err = d.cstring(); err != nil {
			return nil, err
		}
		freq, err := d.uint32()
		if err != nil {
			return nil, err
		}
		info.Frequency = math.Float32frombits(freq)
		count, err := d.byte()
		if err != nil {
			return nil, err
		}
		if count > 0 {
			info.Sources = make([]Source, count)
		}
		for i := range info.Sources {
			raw, err := d.take(SourceSize)
			if err != nil {
				return nil, err
			}
			info.Sources[i] = Source{
				Port:             int32(binary.LittleEndian.Uint32(raw[0:4])),
				FrequencyDivisor: int32(binary.LittleEndian.Uint32(raw[4:8])),
				Resolution:       int32(binary.LittleEndian.Uint32(raw[8:12])),
				ChannelMask:      int32(binary.LittleEndian.Uint32(raw[12:16])),
			}
		}
		devices = append(devices, info)
	}
	return devices, nil
}

// ReadResponse reads one length-prefixed handshake response from r.
func ReadResponse(r io.Reader) ([]DeviceInfo, error) {
	var prefix [ResponseLengthSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint16(prefix[:])
	if length == 0 {
		return nil, nil
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, truncated(err)
	}
	return DecodeResponse(body)
}

func validatePath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for i := 0; i < len(p); i++ {
		if p[i] == 0 || p[i] >= 0x80 {
			return fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return nil
}

// truncated maps an unexpected end of stream to ErrTruncated.
func truncated(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ErrTruncated
	}
	return err
}

// decoder walks a response body.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.pos
}

func (d *decoder) take(n int) ([]byte, error) {
	if d.remaining() < n {
		return nil, ErrTruncated
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) byte() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) uint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *decoder) cstring() (string, error) {
	end := bytes.IndexByte(d.buf[d.pos:], 0)
	if end < 0 {
		return "", ErrUnterminatedString
	}
	s := string(d.buf[d.pos : d.pos+end])
	d.pos += end + 1
	return s, nil
}
