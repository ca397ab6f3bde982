package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biostream/biostream-go/pkg/device"
	"github.com/biostream/biostream-go/pkg/driver/sim"
	"github.com/biostream/biostream-go/pkg/log"
	"github.com/biostream/biostream-go/pkg/wire"
)

func TestStreamBuffersArePerConnection(t *testing.T) {
	backend := sim.NewBackend(sim.DeviceConfig{Address: "a", Description: "OpenBANPlux", Inject: true})
	mgr := device.NewManager(device.ManagerConfig{Backend: backend})
	srv, err := NewServer(ServerConfig{Address: "127.0.0.1:0", Devices: mgr})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop()

	for range 2 {
		cc, err := Dial(context.Background(), srv.Addr().String(), ClientConfig{Paths: []string{"sim:a"}})
		require.NoError(t, err)
		defer cc.Close()
	}

	var streams []*stream
	require.Eventually(t, func() bool {
		streams = streams[:0]
		for _, h := range srv.Connections() {
			h.mu.Lock()
			streams = append(streams, h.streams...)
			h.mu.Unlock()
		}
		return len(streams) == 2
	}, 2*time.Second, 5*time.Millisecond)

	a, b := streams[0], streams[1]
	assert.Same(t, a.device, b.device)
	assert.Equal(t, a.offsets, b.offsets)
	require.Len(t, a.buffer, 5+10)
	assert.NotSame(t, &a.buffer[0], &b.buffer[0])

	a.buffer[1] = 0xFF
	assert.NotEqual(t, a.buffer[1], b.buffer[1])
}

type stateRecorder struct {
	mu     sync.Mutex
	states []log.StateChangeEvent
}

func (r *stateRecorder) Log(ev log.Event) {
	if ev.StateChange == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, *ev.StateChange)
}

func (r *stateRecorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s.NewState == state {
			n++
		}
	}
	return n
}

func TestHandlerStopIdempotent(t *testing.T) {
	backend := sim.NewBackend(sim.DeviceConfig{Address: "a", Description: "biosignalsplux", Inject: true})
	mgr := device.NewManager(device.ManagerConfig{Backend: backend})
	defer mgr.Stop()

	server, client := net.Pipe()
	defer client.Close()
	states := &stateRecorder{}
	h := NewHandler(server, mgr, HandlerConfig{ProtocolLogger: states})

	done := make(chan error, 1)
	go func() { done <- h.Run(context.Background()) }()

	req, err := wire.EncodeRequest([]string{"sim:a"})
	require.NoError(t, err)
	_, err = client.Write(req)
	require.NoError(t, err)
	devices, err := wire.ReadResponse(client)
	require.NoError(t, err)
	require.Len(t, devices, 1)

	d, ok := mgr.Get(context.Background(), "sim:a")
	require.True(t, ok)
	require.Eventually(t, func() bool { return d.Stats().Subscribers == 1 }, 2*time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	h.Stop()

	assert.Equal(t, 1, states.count("DISCONNECTED"))
	assert.Equal(t, 0, d.Stats().Subscribers)
	assert.Equal(t, device.StateStreaming, d.State())
}
