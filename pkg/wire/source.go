package wire

import (
	"fmt"
	"strconv"
)

// Source is one acquisition channel group on a device.
type Source struct {
	// Port is the device port the channels belong to.
	Port int32

	// FrequencyDivisor divides the device base frequency for this port.
	FrequencyDivisor int32

	// Resolution is the sample width in bits (8 or 16).
	Resolution int32

	// ChannelMask has one bit per enabled channel, bit 0 first.
	ChannelMask int32
}

// Width returns the encoded size of one sample of this source in bytes.
func (s Source) Width() int {
	return int(s.Resolution) / 8
}

// ValidateSources rejects sources whose resolution is not 8 or 16 bits.
// Other resolutions have no sample encoding.
func ValidateSources(sources []Source) error {
	for _, s := range sources {
		if s.Resolution != 8 && s.Resolution != 16 {
			return fmt.Errorf("%w: port %d resolution %d", ErrSampleWidth, s.Port, s.Resolution)
		}
	}
	return nil
}

// ChannelCount returns the number of enabled channels.
func (s Source) ChannelCount() int {
	n := 0
	for m := uint32(s.ChannelMask); m != 0; m &= m - 1 {
		n++
	}
	return n
}

// DeviceInfo describes a device as it appears in the handshake response.
type DeviceInfo struct {
	Path        string
	Description string
	Frequency   float32
	Sources     []Source
}

// Offsets returns the byte width of every channel entry in a frame payload,
// in wire order: sources in order, then channel bits from 0 upward.
func Offsets(sources []Source) []int {
	n := 0
	for _, s := range sources {
		n += s.ChannelCount()
	}
	offsets := make([]int, 0, n)
	walkChannels(sources, func(s Source, _ int) {
		offsets = append(offsets, s.Width())
	})
	return offsets
}

// PayloadSize returns the sum of the offsets.
func PayloadSize(offsets []int) int {
	total := 0
	for _, o := range offsets {
		total += o
	}
	return total
}

// Columns returns one "{port}-{channel}" name per channel entry. The order
// matches Offsets exactly; channel numbers start at 1.
func Columns(sources []Source) []string {
	var cols []string
	walkChannels(sources, func(s Source, bit int) {
		cols = append(cols, strconv.Itoa(int(s.Port))+"-"+strconv.Itoa(bit+1))
	})
	return cols
}

func walkChannels(sources []Source, fn func(s Source, bit int)) {
	for _, s := range sources {
		mask := uint32(s.ChannelMask)
		for bit := 0; bit < 32; bit++ {
			if mask&(1<<bit) != 0 {
				fn(s, bit)
			}
		}
	}
}

// Dropped returns how many frames were lost between two consecutive frame
// counters of the same device. A negative last counter means no frame has
// been seen yet.
func Dropped(last, current int) int {
	if last < 0 {
		return 0
	}
	missing := current - last
	if missing <= 1 {
		return 0
	}
	return missing - 1
}
