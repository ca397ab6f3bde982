package device_test

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/biostream/biostream-go/pkg/device"
	"github.com/biostream/biostream-go/pkg/wire"
)

var errInterrupted = errors.New("loop interrupted")

type fakeFrame struct {
	counter int
	data    []int
	done    chan struct{}
}

// fakeDriver is a scriptable Driver. Frames are pushed with feed and each
// call returns once the frame was delivered.
type fakeDriver struct {
	description string
	props       map[string]any
	connectErr  error
	startErr    error
	loopErr     error
	stopErr     error
	block       chan struct{}

	frames     chan fakeFrame
	interrupts chan any

	mu           sync.Mutex
	connects     int
	stops        int
	interruptN   int
	frequency    float64
	startSources []wire.Source
}

func newFakeDriver(description string) *fakeDriver {
	return &fakeDriver{
		description: description,
		frames:      make(chan fakeFrame),
		interrupts:  make(chan any, 8),
	}
}

func (f *fakeDriver) Connect(ctx context.Context) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
	return f.connectErr
}

func (f *fakeDriver) Properties() (map[string]any, error) {
	if f.props != nil {
		return f.props, nil
	}
	props := map[string]any{}
	if f.description != "" {
		props[device.PropertyDescription] = f.description
	}
	return props, nil
}

func (f *fakeDriver) Start(frequency float64, sources []wire.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frequency = frequency
	f.startSources = sources
	return f.startErr
}

func (f *fakeDriver) Loop(cb device.Callbacks) error {
	for {
		select {
		case fr, ok := <-f.frames:
			if !ok {
				return f.loopErr
			}
			stop := cb.OnRawFrame(fr.counter, fr.data)
			close(fr.done)
			if stop {
				return nil
			}
		case arg := <-f.interrupts:
			if cb.OnInterrupt(arg) {
				return errInterrupted
			}
		}
	}
}

func (f *fakeDriver) Interrupt(arg any) error {
	f.mu.Lock()
	f.interruptN++
	f.mu.Unlock()
	select {
	case f.interrupts <- arg:
	default:
	}
	return nil
}

func (f *fakeDriver) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeDriver) feed(counter int, data ...int) {
	done := make(chan struct{})
	f.frames <- fakeFrame{counter: counter, data: data, done: done}
	<-done
}

func (f *fakeDriver) counts() (connects, stops, interrupts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.stops, f.interruptN
}

// mockBackend is a testify mock of device.Backend.
type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) FindDevices(ctx context.Context, domain string) ([]device.Found, error) {
	args := m.Called(ctx, domain)
	found, _ := args.Get(0).([]device.Found)
	return found, args.Error(1)
}

func (m *mockBackend) Open(path string) (device.Driver, error) {
	args := m.Called(path)
	drv, _ := args.Get(0).(device.Driver)
	return drv, args.Error(1)
}
