package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrGaveUp is returned by Supervise when MaxAttempts consecutive sessions
// failed before being established.
var ErrGaveUp = errors.New("reconnection attempts exhausted")

// State represents the supervision state.
type State uint8

const (
	// StateConnecting indicates a session attempt is in progress.
	StateConnecting State = iota

	// StateConnected indicates the current session is established.
	StateConnected

	// StateWaiting indicates a backoff delay before the next attempt.
	StateWaiting

	// StateClosed indicates supervision ended.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateWaiting:
		return "WAITING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// SessionFunc runs one session. It calls established from its own goroutine
// once the session is up (e.g. after the handshake), which resets the
// backoff. Returning nil ends supervision; any other error schedules a
// reconnect unless it was wrapped with Permanent.
type SessionFunc func(ctx context.Context, established func()) error

// SuperviseConfig configures Supervise.
type SuperviseConfig struct {
	Backoff BackoffConfig

	// MaxAttempts limits consecutive failed attempts (0 = unlimited).
	MaxAttempts int

	// Logger is the optional logger for operational output.
	Logger *slog.Logger

	// OnStateChange is called on every state transition.
	OnStateChange func(old, new State)
}

// Supervise runs fn until it returns nil, returns a permanent error, ctx
// ends, or MaxAttempts consecutive attempts failed.
func Supervise(ctx context.Context, cfg SuperviseConfig, fn SessionFunc) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	backoff := NewBackoffWithConfig(cfg.Backoff)

	state := StateClosed
	setState := func(s State) {
		if s == state {
			return
		}
		old := state
		state = s
		if cfg.OnStateChange != nil {
			cfg.OnStateChange(old, s)
		}
	}
	defer setState(StateClosed)

	failures := 0
	for attempt := 1; ; attempt++ {
		setState(StateConnecting)

		var up atomic.Bool
		err := fn(ctx, func() {
			if up.CompareAndSwap(false, true) {
				backoff.Reset()
				setState(StateConnected)
			}
		})

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			logger.Error("session failed permanently", "attempt", attempt, "error", err)
			return err
		}

		if up.Load() {
			failures = 0
		} else {
			failures++
		}
		if cfg.MaxAttempts > 0 && failures >= cfg.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, failures, err)
		}

		delay := backoff.Next()
		logger.Warn("session ended, reconnecting", "attempt", attempt, "error", err, "retry_in", delay)
		setState(StateWaiting)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
