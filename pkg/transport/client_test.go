package transport_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biostream/biostream-go/pkg/driver/sim"
	"github.com/biostream/biostream-go/pkg/log"
	"github.com/biostream/biostream-go/pkg/transport"
	"github.com/biostream/biostream-go/pkg/wire"
)

var scripted = wire.DeviceInfo{
	Path:        "sim:x",
	Description: "pressure-insole",
	Frequency:   100,
	Sources:     []wire.Source{{Port: 1, FrequencyDivisor: 1, Resolution: 8, ChannelMask: 0x3}},
}

// scriptedServer answers one handshake with devices, then writes tail.
func scriptedServer(t *testing.T, devices []wire.DeviceInfo, tail []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := wire.ReadRequest(conn); err != nil {
			return
		}
		resp, err := wire.EncodeResponse(devices)
		if err != nil {
			return
		}
		conn.Write(resp)
		conn.Write(tail)
		// Keep the connection open until the client leaves.
		conn.Read(make([]byte, 1))
	}()
	return ln.Addr().String()
}

func TestNewClientRejectsInvalidPaths(t *testing.T) {
	_, err := transport.NewClient(transport.ClientConfig{Paths: []string{""}})
	assert.ErrorIs(t, err, wire.ErrInvalidPath)
}

func TestClientSequenceMismatch(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
	}{
		{"other path", []string{"sim:y"}},
		{"missing device", []string{"sim:x", "sim:y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := scriptedServer(t, []wire.DeviceInfo{scripted}, nil)
			_, err := transport.Dial(context.Background(), addr, transport.ClientConfig{Paths: tt.paths})
			assert.ErrorIs(t, err, transport.ErrSequenceMismatch)
		})
	}
}

func TestClientUnknownIndex(t *testing.T) {
	frame, err := wire.EncodeFrame(3, 1, []int{1, 2}, wire.Offsets(scripted.Sources))
	require.NoError(t, err)
	addr := scriptedServer(t, []wire.DeviceInfo{scripted}, frame)

	cc := dial(t, addr, "sim:x")
	err = cc.Run(context.Background(), func(transport.FrameEvent) {})
	assert.ErrorIs(t, err, wire.ErrProtocolViolation)
}

func TestClientDecodesAndTracksDrops(t *testing.T) {
	offsets := wire.Offsets(scripted.Sources)
	var tail []byte
	for _, c := range []int32{10, 11, 14} {
		f, err := wire.EncodeFrame(0, c, []int{int(c), 255}, offsets)
		require.NoError(t, err)
		tail = append(tail, f...)
	}
	addr := scriptedServer(t, []wire.DeviceInfo{scripted}, tail)

	capture := &captureLogger{}
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	cc, err := transport.Dial(ctx, addr, transport.ClientConfig{ProtocolLogger: capture})
	require.NoError(t, err)
	defer cc.Close()

	runCtx, stop := context.WithCancel(context.Background())
	var got []transport.FrameEvent
	err = cc.Run(runCtx, func(ev transport.FrameEvent) {
		ev.Data = append([]int(nil), ev.Data...)
		got = append(got, ev)
		if len(got) == 3 {
			stop()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, got, 3)
	assert.Equal(t, -1, got[0].LastFrame)
	assert.Equal(t, 10, got[0].CurrentFrame)
	assert.Equal(t, []int{10, 255}, got[0].Data)
	assert.Equal(t, 11, got[2].LastFrame)
	assert.Equal(t, 14, got[2].CurrentFrame)
	assert.Equal(t, "sim:x", got[2].Device.Path)
	assert.Equal(t, 14, cc.LastFrame(0))

	drops := capture.byCategory(log.CategoryDrop)
	require.Len(t, drops, 1)
	assert.Equal(t, 2, drops[0].Drop.Dropped)
	assert.Len(t, capture.byCategory(log.CategoryHandshake), 2)
}

func TestClientTruncatedFrame(t *testing.T) {
	addr := scriptedServer(t, []wire.DeviceInfo{scripted}, []byte{0, 1, 0})

	cc := dial(t, addr)
	go func() {
		time.Sleep(50 * time.Millisecond)
		cc.Close()
	}()
	err := cc.Run(context.Background(), func(transport.FrameEvent) {})
	assert.ErrorIs(t, err, transport.ErrConnectionClosed)
}

func TestClientConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = transport.Dial(context.Background(), addr, transport.ClientConfig{ConnectTimeout: time.Second})
	assert.Error(t, err)
}

func TestClientProtocolCaptureAgainstServer(t *testing.T) {
	srv := startServer(t, []sim.DeviceConfig{injected("a", "biosignalsplux")}, nil)

	capture := &captureLogger{}
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	cc, err := transport.Dial(ctx, srv.addr(), transport.ClientConfig{
		Paths:          []string{"sim:a"},
		ProtocolLogger: capture,
	})
	require.NoError(t, err)
	defer cc.Close()

	hs := capture.byCategory(log.CategoryHandshake)
	require.Len(t, hs, 2)
	assert.Equal(t, log.HandshakeRequest, hs[0].Handshake.Type)
	assert.Equal(t, []string{"sim:a"}, hs[0].Handshake.Paths)
	assert.Equal(t, log.HandshakeResponse, hs[1].Handshake.Type)
	require.Len(t, hs[1].Handshake.Devices, 1)
	assert.Equal(t, 8, hs[1].Handshake.Devices[0].Channels)
}
