package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logJSON(t *testing.T, event Event) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	adapter.Log(event)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestSlogAdapterFrame(t *testing.T) {
	entry := logJSON(t, Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-123",
		Direction:    DirectionOut,
		Layer:        LayerTransport,
		Category:     CategoryFrame,
		Frame:        &FrameEvent{Size: 21, Index: 3, Counter: 99},
	})

	assert.Equal(t, "protocol", entry["msg"])
	assert.Equal(t, "conn-123", entry["conn_id"])
	assert.Equal(t, "OUT", entry["direction"])
	assert.Equal(t, "TRANSPORT", entry["layer"])
	assert.Equal(t, float64(21), entry["frame_size"])
	assert.Equal(t, float64(3), entry["index"])
	assert.Equal(t, float64(99), entry["counter"])
}

func TestSlogAdapterHandshake(t *testing.T) {
	entry := logJSON(t, Event{
		Category:  CategoryHandshake,
		Layer:     LayerWire,
		Handshake: &HandshakeEvent{Type: HandshakeResponse, Devices: []DeviceSummary{{Path: "sim:a"}}},
	})

	assert.Equal(t, "RESPONSE", entry["handshake"])
	assert.Equal(t, float64(1), entry["devices"])
	assert.NotContains(t, entry, "conn_id")
}

func TestSlogAdapterDrop(t *testing.T) {
	entry := logJSON(t, Event{
		Category:   CategoryDrop,
		Layer:      LayerDevice,
		DevicePath: "sim:a",
		Drop:       &DropEvent{LastFrame: 11, CurrentFrame: 13, Dropped: 1},
	})

	assert.Equal(t, "sim:a", entry["device"])
	assert.Equal(t, float64(1), entry["dropped"])
	assert.Equal(t, float64(13), entry["current_frame"])
}

func TestSlogAdapterSkipsBelowDebug(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	adapter.Log(Event{Category: CategoryFrame})
	assert.Zero(t, buf.Len())
}
