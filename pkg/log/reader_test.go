package log

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCapture(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.blog")

	logger, err := NewFileLogger(path)
	require.NoError(t, err)
	for _, e := range events {
		logger.Log(e)
	}
	require.NoError(t, logger.Close())
	return path
}

func readFiltered(t *testing.T, path string, filter Filter) []Event {
	t.Helper()
	reader, err := NewFilteredReader(path, filter)
	require.NoError(t, err)
	defer reader.Close()

	events, err := reader.All()
	require.NoError(t, err)
	return events
}

func captureFixture() []Event {
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	return []Event{
		{Timestamp: base, ConnectionID: "c1", Direction: DirectionIn, Layer: LayerWire, Category: CategoryHandshake},
		{Timestamp: base.Add(time.Second), ConnectionID: "c1", Direction: DirectionOut, Layer: LayerWire, Category: CategoryHandshake},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "c1", Direction: DirectionOut, Layer: LayerTransport, Category: CategoryFrame, DevicePath: "sim:a"},
		{Timestamp: base.Add(3 * time.Second), Layer: LayerDevice, Category: CategoryDrop, DevicePath: "sim:a"},
		{Timestamp: base.Add(4 * time.Second), ConnectionID: "c2", Direction: DirectionIn, Layer: LayerWire, Category: CategoryHandshake, LocalRole: RoleClient},
		{Timestamp: base.Add(5 * time.Second), Layer: LayerDevice, Category: CategoryState, DevicePath: "sim:b"},
	}
}

func TestReaderIteratesInOrder(t *testing.T) {
	path := writeCapture(t, captureFixture())

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	for i, want := range captureFixture() {
		got, err := reader.Next()
		require.NoError(t, err, "event %d", i)
		assert.Equal(t, want.Category, got.Category)
		assert.True(t, want.Timestamp.Equal(got.Timestamp))
	}
	_, err = reader.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderEmptyFile(t *testing.T) {
	path := writeCapture(t, nil)
	assert.Empty(t, readFiltered(t, path, Filter{}))
}

func TestReaderTruncatedFile(t *testing.T) {
	path := writeCapture(t, captureFixture()[:2])
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	_, err = reader.Next()
	require.NoError(t, err)
	_, err = reader.Next()
	assert.ErrorIs(t, err, ErrTruncated)

	assert.Len(t, readFiltered(t, path, Filter{}), 1)
}

func TestReaderFilters(t *testing.T) {
	path := writeCapture(t, captureFixture())
	wire := LayerWire
	out := DirectionOut
	drop := CategoryDrop
	start := time.Date(2026, 3, 4, 12, 0, 1, 0, time.UTC)
	end := time.Date(2026, 3, 4, 12, 0, 4, 0, time.UTC)
	client := RoleClient

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"none", Filter{}, 6},
		{"connection", Filter{ConnectionID: "c1"}, 3},
		{"layer", Filter{Layer: &wire}, 3},
		{"direction", Filter{Direction: &out}, 2},
		{"category", Filter{Category: &drop}, 1},
		{"device", Filter{DevicePath: "sim:a"}, 2},
		{"domain", Filter{DevicePath: "sim:"}, 3},
		{"other domain", Filter{DevicePath: "serial:"}, 0},
		{"role", Filter{Role: &client}, 1},
		{"time range", Filter{TimeStart: &start, TimeEnd: &end}, 3},
		{"combined", Filter{ConnectionID: "c1", Layer: &wire, Direction: &out}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, readFiltered(t, path, tt.filter), tt.want)
		})
	}
}

func TestStreamReader(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, e := range captureFixture() {
		require.NoError(t, enc.Encode(e))
	}

	reader := NewStreamReader(&buf, Filter{DevicePath: "sim:b"})
	events, err := reader.All()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, CategoryState, events[0].Category)
	assert.Equal(t, 5, reader.Skipped())
	assert.NoError(t, reader.Close())
}
