package connection

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errSession = errors.New("session failed")

// fastBackoff keeps supervision tests quick.
var fastBackoff = BackoffConfig{Initial: time.Millisecond, Max: 4 * time.Millisecond, Jitter: -1}

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		expected := []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			32 * time.Second,
			60 * time.Second,
			60 * time.Second,
		}
		for i, exp := range expected {
			if got := b.Current(); got != exp {
				t.Errorf("attempt %d: base = %v, want %v", i, got, exp)
			}
			b.Next()
		}
	})

	t.Run("JitterBounds", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 20; i++ {
			b.Reset()
			d := b.Next()
			if d < time.Second || d > 1250*time.Millisecond {
				t.Fatalf("delay %v out of [1s, 1.25s]", d)
			}
		}
	})

	t.Run("NoJitter", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: 100 * time.Millisecond, Max: 500 * time.Millisecond, Jitter: -1})
		expected := []time.Duration{100, 200, 400, 500, 500}
		for i, exp := range expected {
			if got := b.Next(); got != exp*time.Millisecond {
				t.Errorf("attempt %d: delay = %v, want %v", i, got, exp*time.Millisecond)
			}
		}
	})

	t.Run("ResetAndAttempts", func(t *testing.T) {
		b := NewBackoff()
		for i := 1; i <= 5; i++ {
			b.Next()
			if b.Attempts() != i {
				t.Errorf("after %d calls, Attempts() = %d", i, b.Attempts())
			}
		}
		b.Reset()
		if b.Current() != InitialBackoff || b.Attempts() != 0 {
			t.Errorf("after reset: current %v attempts %d", b.Current(), b.Attempts())
		}
	})

	t.Run("MaxBelowInitial", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Max: time.Millisecond, Jitter: -1})
		if d := b.Next(); d != time.Second {
			t.Errorf("delay = %v, want 1s", d)
		}
		if b.Current() != time.Second {
			t.Errorf("current = %v, want 1s", b.Current())
		}
	})
}

func TestSuperviseRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Supervise(context.Background(), SuperviseConfig{Backoff: fastBackoff}, func(ctx context.Context, established func()) error {
		calls++
		if calls < 3 {
			return errSession
		}
		established()
		return nil
	})
	if err != nil {
		t.Fatalf("Supervise() = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestSupervisePermanentError(t *testing.T) {
	calls := 0
	err := Supervise(context.Background(), SuperviseConfig{Backoff: fastBackoff}, func(context.Context, func()) error {
		calls++
		return Permanent(errSession)
	})
	if !errors.Is(err, errSession) || !IsPermanent(err) {
		t.Fatalf("Supervise() = %v, want permanent errSession", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSuperviseMaxAttempts(t *testing.T) {
	calls := 0
	err := Supervise(context.Background(), SuperviseConfig{Backoff: fastBackoff, MaxAttempts: 4}, func(context.Context, func()) error {
		calls++
		return errSession
	})
	if !errors.Is(err, ErrGaveUp) || !errors.Is(err, errSession) {
		t.Fatalf("Supervise() = %v", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestSuperviseEstablishedResetsFailures(t *testing.T) {
	// Alternate: fail, establish-then-drop, fail, ... never hits two
	// consecutive unestablished failures.
	calls := 0
	err := Supervise(context.Background(), SuperviseConfig{Backoff: fastBackoff, MaxAttempts: 2}, func(_ context.Context, established func()) error {
		calls++
		if calls == 7 {
			return nil
		}
		if calls%2 == 0 {
			established()
		}
		return errSession
	})
	if err != nil {
		t.Fatalf("Supervise() = %v", err)
	}
}

func TestSuperviseContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Supervise(ctx, SuperviseConfig{Backoff: BackoffConfig{Initial: time.Hour}}, func(context.Context, func()) error {
			return errSession
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Supervise() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Supervise did not return after cancel")
	}
}

func TestSuperviseStateChanges(t *testing.T) {
	var states []State
	calls := 0
	cfg := SuperviseConfig{
		Backoff: fastBackoff,
		OnStateChange: func(_, s State) {
			states = append(states, s)
		},
	}
	err := Supervise(context.Background(), cfg, func(_ context.Context, established func()) error {
		calls++
		if calls == 1 {
			return errSession
		}
		established()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []State{StateConnecting, StateWaiting, StateConnecting, StateConnected, StateClosed}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state %d = %v, want %v", i, states[i], want[i])
		}
	}
}

func TestPermanentNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) != nil")
	}
	if IsPermanent(errSession) {
		t.Error("plain error reported as permanent")
	}
}
