package device

import (
	"slices"
	"sync"

	"github.com/biostream/biostream-go/pkg/wire"
)

// Layout is the fixed channel layout of one hardware model.
type Layout struct {
	// Frequency is the default base sampling rate in Hz.
	Frequency float64

	// Sources lists the acquisition sources in wire order.
	Sources []wire.Source
}

// Clone returns a deep copy of the layout.
func (l Layout) Clone() Layout {
	return Layout{Frequency: l.Frequency, Sources: slices.Clone(l.Sources)}
}

var (
	layoutsMu sync.RWMutex
	layouts   = map[string]Layout{
		"biosignalsplux": {
			Frequency: 1000,
			Sources:   uniformSources(1, 8, 16, 0x1),
		},
		"biosignalsplux Solo": {
			Frequency: 1000,
			Sources: []wire.Source{
				{Port: 1, FrequencyDivisor: 1, Resolution: 16, ChannelMask: 0x1},
				{Port: 11, FrequencyDivisor: 1, Resolution: 16, ChannelMask: 0x7},
			},
		},
		"MuscleBAN BE Plux": {
			Frequency: 1000,
			Sources: []wire.Source{
				{Port: 1, FrequencyDivisor: 1, Resolution: 16, ChannelMask: 0x1},
				{Port: 11, FrequencyDivisor: 1, Resolution: 16, ChannelMask: 0x7},
				{Port: 12, FrequencyDivisor: 1, Resolution: 16, ChannelMask: 0x7},
			},
		},
		"OpenBANPlux": {
			Frequency: 1000,
			Sources: []wire.Source{
				{Port: 1, FrequencyDivisor: 1, Resolution: 16, ChannelMask: 0x1},
				{Port: 2, FrequencyDivisor: 1, Resolution: 16, ChannelMask: 0x1},
				{Port: 11, FrequencyDivisor: 1, Resolution: 16, ChannelMask: 0x7},
			},
		},
		"pressure-insole": {
			Frequency: 100,
			Sources: []wire.Source{
				{Port: 1, FrequencyDivisor: 1, Resolution: 8, ChannelMask: 0xFFFF},
			},
		},
	}
)

func uniformSources(first, count int, resolution, mask int32) []wire.Source {
	sources := make([]wire.Source, count)
	for i := range sources {
		sources[i] = wire.Source{
			Port:             int32(first + i),
			FrequencyDivisor: 1,
			Resolution:       resolution,
			ChannelMask:      mask,
		}
	}
	return sources
}

// LookupLayout returns a copy of the layout registered for description.
func LookupLayout(description string) (Layout, bool) {
	layoutsMu.RLock()
	defer layoutsMu.RUnlock()
	l, ok := layouts[description]
	if !ok {
		return Layout{}, false
	}
	return l.Clone(), true
}

// RegisterLayout adds or replaces the layout for description. Layouts
// with a resolution other than 8 or 16 bits are rejected.
func RegisterLayout(description string, l Layout) error {
	if err := wire.ValidateSources(l.Sources); err != nil {
		return err
	}
	layoutsMu.Lock()
	defer layoutsMu.Unlock()
	layouts[description] = l.Clone()
	return nil
}

// Descriptions returns the registered hardware descriptions, sorted.
func Descriptions() []string {
	layoutsMu.RLock()
	defer layoutsMu.RUnlock()
	out := make([]string, 0, len(layouts))
	for d := range layouts {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}
