package log

import (
	"fmt"
	"io"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// Bounds applied when decoding capture records. A record never holds more
// devices than a handshake can negotiate, and request paths are fewer still.
const (
	maxRecordDevices = math.MaxUint8 + 1
	maxRecordFields  = 32
	maxRecordNesting = 8
)

// Capture records are canonical CBOR maps with integer keys. Sample rates
// use the shortest lossless float so 1000 Hz takes three bytes.
//
// Device paths come straight from the wire and may hold invalid UTF-8;
// the decoder accepts them so such a capture stays readable. The size
// bounds let a corrupted file fail fast instead of allocating.
var (
	captureEncMode = mustEncMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		ShortestFloat: cbor.ShortestFloat16,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	})

	captureDecMode = mustDecMode(cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyQuiet,
		IndefLength:      cbor.IndefLengthForbidden,
		UTF8:             cbor.UTF8DecodeInvalid,
		MaxArrayElements: maxRecordDevices,
		MaxMapPairs:      maxRecordFields,
		MaxNestedLevels:  maxRecordNesting,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	m, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture encoder options: %v", err))
	}
	return m
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	m, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture decoder options: %v", err))
	}
	return m
}

// EncodeEvent encodes one capture record.
func EncodeEvent(event Event) ([]byte, error) {
	return captureEncMode.Marshal(event)
}

// DecodeEvent decodes one capture record.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := captureDecMode.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// NewEncoder returns an encoder that appends capture records to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return captureEncMode.NewEncoder(w)
}

// NewDecoder returns a decoder that reads consecutive capture records from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return captureDecMode.NewDecoder(r)
}
