package transport_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/biostream/biostream-go/pkg/device"
	"github.com/biostream/biostream-go/pkg/driver/sim"
	"github.com/biostream/biostream-go/pkg/log"
	"github.com/biostream/biostream-go/pkg/transport"
)

const waitFor = 2 * time.Second

type testServer struct {
	*transport.Server
	backend *sim.Backend
	devices *device.Manager
}

func startServer(t *testing.T, devices []sim.DeviceConfig, mutate func(*transport.ServerConfig)) *testServer {
	t.Helper()
	backend := sim.NewBackend(devices...)
	mgr := device.NewManager(device.ManagerConfig{Backend: backend})

	cfg := transport.ServerConfig{
		Address: "127.0.0.1:0",
		Devices: mgr,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := transport.NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })

	return &testServer{Server: srv, backend: backend, devices: mgr}
}

func (s *testServer) addr() string {
	return s.Addr().String()
}

// streaming returns the registered device for path once it has n subscribers.
func (s *testServer) streaming(t *testing.T, path string, n int) *device.Device {
	t.Helper()
	d, ok := s.devices.Get(context.Background(), path)
	require.True(t, ok, "device %s", path)
	require.Eventually(t, func() bool {
		return d.State() == device.StateStreaming && d.Stats().Subscribers == n
	}, waitFor, 5*time.Millisecond)
	return d
}

func (s *testServer) inject(t *testing.T, address string, counter int, data []int) {
	t.Helper()
	drv, ok := s.backend.Driver(address)
	require.True(t, ok)
	require.NoError(t, drv.Inject(counter, data))
}

func injected(address, description string) sim.DeviceConfig {
	return sim.DeviceConfig{Address: address, Description: description, Inject: true}
}

func dial(t *testing.T, addr string, paths ...string) *transport.ClientConn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	cc, err := transport.Dial(ctx, addr, transport.ClientConfig{Paths: paths})
	require.NoError(t, err)
	t.Cleanup(func() { cc.Close() })
	return cc
}

type received struct {
	Index        int
	Path         string
	LastFrame    int
	CurrentFrame int
	Data         []int
}

// collector runs a client and records every frame.
type collector struct {
	mu     sync.Mutex
	frames []received
	done   chan error
}

func collect(cc *transport.ClientConn) *collector {
	c := &collector{done: make(chan error, 1)}
	go func() {
		c.done <- cc.Run(context.Background(), func(ev transport.FrameEvent) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.frames = append(c.frames, received{
				Index:        ev.Index,
				Path:         ev.Device.Path,
				LastFrame:    ev.LastFrame,
				CurrentFrame: ev.CurrentFrame,
				Data:         append([]int(nil), ev.Data...),
			})
		})
	}()
	return c
}

func (c *collector) wait(t *testing.T, n int) []received {
	t.Helper()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.frames) >= n
	}, waitFor, 5*time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]received(nil), c.frames...)
}

func (c *collector) result(t *testing.T) error {
	t.Helper()
	select {
	case err := <-c.done:
		return err
	case <-time.After(waitFor):
		t.Fatal("client did not return")
		return nil
	}
}

// captureLogger records protocol events.
type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(ev log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureLogger) byCategory(cat log.Category) []log.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []log.Event
	for _, ev := range c.events {
		if ev.Category == cat {
			out = append(out, ev)
		}
	}
	return out
}
