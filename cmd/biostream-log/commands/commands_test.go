package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/biostream/biostream-go/pkg/log"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.bslog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()
	return path
}

var base = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func sessionEvents() []log.Event {
	return []log.Event{
		{
			Timestamp:    base,
			ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
			Direction:    log.DirectionIn,
			Layer:        log.LayerWire,
			Category:     log.CategoryHandshake,
			RemoteAddr:   "10.0.0.7:50211",
			Handshake:    &log.HandshakeEvent{Type: log.HandshakeRequest, Paths: []string{"sim:a"}},
		},
		{
			Timestamp:    base.Add(time.Millisecond),
			ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
			Direction:    log.DirectionOut,
			Layer:        log.LayerWire,
			Category:     log.CategoryHandshake,
			Handshake: &log.HandshakeEvent{
				Type:    log.HandshakeResponse,
				Size:    60,
				Devices: []log.DeviceSummary{{Path: "sim:a", Description: "OpenBANPlux", Frequency: 1000, Sources: 3, Channels: 5}},
			},
		},
		{
			Timestamp:    base.Add(2 * time.Millisecond),
			ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
			Direction:    log.DirectionOut,
			Layer:        log.LayerTransport,
			Category:     log.CategoryFrame,
			DevicePath:   "sim:a",
			Frame:        &log.FrameEvent{Size: 15, Counter: 7, Data: []byte{0, 7, 0, 0, 0}},
		},
		{
			Timestamp:  base.Add(3 * time.Millisecond),
			Layer:      log.LayerDevice,
			Category:   log.CategoryDrop,
			DevicePath: "sim:a",
			Drop:       &log.DropEvent{LastFrame: 7, CurrentFrame: 10, Dropped: 2},
		},
		{
			Timestamp:    base.Add(4 * time.Millisecond),
			ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
			Layer:        log.LayerTransport,
			Category:     log.CategoryError,
			Error:        &log.ErrorEventData{Layer: log.LayerTransport, Message: "broken pipe", Context: "write frame"},
		},
	}
}

func TestFormatHandshakeResponse(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sessionEvents()[1])
	out := buf.String()

	for _, want := range []string{
		"2026-03-02T09:30:00.001000Z",
		"[conn:abc12345]",
		"OUT SERVER WIRE Handshake RESPONSE",
		"Devices: 1 (60 bytes)",
		`sim:a "OpenBANPlux" 1000 Hz, 3 sources, 5 channels`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatRequestAllDevices(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, log.Event{Timestamp: base, Handshake: &log.HandshakeEvent{Type: log.HandshakeRequest}})
	if !strings.Contains(buf.String(), "Paths: (all)") {
		t.Errorf("expected all-devices request, got:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "[conn:-]") {
		t.Errorf("expected placeholder connection ID, got:\n%s", buf.String())
	}
}

func TestFormatDropAndFrame(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sessionEvents()[2])
	formatEvent(&buf, sessionEvents()[3])
	out := buf.String()

	for _, want := range []string{"Device: sim:a", "Counter: 7", "Data: 0007000000", "7 -> 10, 2 dropped"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunViewFiltersCategory(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	c := log.CategoryDrop

	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Category: &c}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if strings.Count(buf.String(), " Drop\n") != 1 {
		t.Errorf("expected exactly one drop event, got:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "Handshake") {
		t.Errorf("handshake events not filtered:\n%s", buf.String())
	}
}

func TestParseFlags(t *testing.T) {
	if l, err := ParseLayerFlag("Device"); err != nil || l != log.LayerDevice {
		t.Errorf("ParseLayerFlag(Device) = %v, %v", l, err)
	}
	if d, err := ParseDirectionFlag("OUT"); err != nil || d != log.DirectionOut {
		t.Errorf("ParseDirectionFlag(OUT) = %v, %v", d, err)
	}
	if c, err := ParseCategoryFlag("handshake"); err != nil || c != log.CategoryHandshake {
		t.Errorf("ParseCategoryFlag(handshake) = %v, %v", c, err)
	}
	if _, err := ParseCategoryFlag("message"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, ExportOptions{Format: "jsonl", Output: out}); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d", len(lines))
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("failed to parse line 1: %v", err)
	}
	if first["RemoteAddr"] != "10.0.0.7:50211" {
		t.Errorf("expected RemoteAddr, got %v", first["RemoteAddr"])
	}
}

func TestExportCSV(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	out := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, ExportOptions{Format: "csv", Output: out}); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if !strings.HasPrefix(lines[0], "timestamp,connection_id,direction,role,layer,category,device_path") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if len(lines) != 6 {
		t.Fatalf("expected header + 5 rows, got %d lines", len(lines))
	}
	if !strings.HasSuffix(lines[3], ",sim:a,Frame,7,15") {
		t.Errorf("unexpected frame row: %s", lines[3])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	err := RunExport(path, ExportOptions{Format: "xml", Output: filepath.Join(t.TempDir(), "out.xml")})
	if err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("expected unknown format error, got: %v", err)
	}
}

func TestExportFrames(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	out := filepath.Join(t.TempDir(), "frames.csv")

	err := RunExport(path, ExportOptions{Format: "frames", Output: out, Match: FilterOptions{DevicePath: "sim:"}})
	if err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 frame, got %d lines", len(lines))
	}
	if !strings.HasSuffix(lines[1], ",sim:a,0,7,15,false,") {
		t.Errorf("unexpected frame row: %s", lines[1])
	}
}

func TestExportTruncatedCapture(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)-4], 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, ExportOptions{Format: "jsonl", Output: out}); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	data, err = os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 4 {
		t.Errorf("expected 4 complete events, got %d", n)
	}
}

func TestFilterByDeviceAndTime(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	out := filepath.Join(t.TempDir(), "filtered.bslog")

	n, err := RunFilter(path, FilterOptions{
		Output:     out,
		DevicePath: "sim:a",
		TimeStart:  base.Add(time.Millisecond).Format(time.RFC3339Nano),
	})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 events, got %d", n)
	}

	reader, err := log.NewReader(out)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer reader.Close()
	events, err := reader.All()
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	for _, e := range events {
		if e.DevicePath != "sim:a" {
			t.Errorf("unexpected device %q", e.DevicePath)
		}
	}
}

func TestFilterInvalidOptions(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	out := filepath.Join(t.TempDir(), "filtered.bslog")

	if _, err := RunFilter(path, FilterOptions{Output: out, Layer: "service"}); err == nil {
		t.Error("expected error for invalid layer")
	}
	if _, err := RunFilter(path, FilterOptions{Output: out, TimeEnd: "yesterday"}); err == nil {
		t.Error("expected error for invalid time")
	}
	if _, err := RunFilter(path, FilterOptions{Output: out, Role: "observer"}); err == nil {
		t.Error("expected error for invalid role")
	}
}

func TestCollectStats(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	stats, err := CollectStats(path)
	if err != nil {
		t.Fatalf("CollectStats failed: %v", err)
	}
	if stats.TotalEvents != 5 {
		t.Errorf("expected 5 events, got %d", stats.TotalEvents)
	}
	if stats.Errors != 1 {
		t.Errorf("expected 1 error, got %d", stats.Errors)
	}
	if len(stats.Connections) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(stats.Connections))
	}
	for _, c := range stats.Connections {
		if c.Events != 4 || c.Remote != "10.0.0.7:50211" || len(c.Devices) != 1 {
			t.Errorf("unexpected connection stats: %+v", c)
		}
	}
	dev := stats.Devices["sim:a"]
	if dev == nil || dev.Frames != 1 || dev.DropEvents != 1 || dev.Dropped != 2 {
		t.Errorf("unexpected device stats: %+v", dev)
	}

	var buf bytes.Buffer
	printStats(&buf, stats)
	if !strings.Contains(buf.String(), "sim:a: 1 frames, 1 drops (2 frames lost)") {
		t.Errorf("device summary missing:\n%s", buf.String())
	}
}
