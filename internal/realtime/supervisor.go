// ABOUTME: Reconnect supervisor owning the transport lifecycle across attempts.
// ABOUTME: Bounded jittered backoff and reactive credential refresh on auth failure.

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// ErrNoCredential is fatal at startup: the account has neither a stored
// session token nor login credentials, and retrying cannot fix configuration.
var ErrNoCredential = errors.New("no usable credential")

// Backoff defaults.
const (
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 60 * time.Second
)

// Attempt runs one full connection attempt with the given session credential
// and blocks until it terminates.
type Attempt func(ctx context.Context, credential string) (Outcome, error)

// RefreshFunc exchanges stored login credentials for a fresh session token.
type RefreshFunc func(ctx context.Context) (string, error)

// SupervisorOptions tunes the retry loop.
type SupervisorOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// OnReconnect is called with the computed delay before each retry sleep.
	OnReconnect func(delay time.Duration)
	Logger      *slog.Logger
}

// Supervisor repeatedly runs connection attempts. Each attempt's connection
// state is discarded entirely; only the accumulated session credential
// carries across attempts. Login-based credentials are refreshed reactively
// (after an auth failure or at cold start with no token), never preemptively.
type Supervisor struct {
	attempt    Attempt
	refresh    RefreshFunc // nil when the account has no login credentials
	credential string

	initialBackoff time.Duration
	maxBackoff     time.Duration
	onReconnect    func(delay time.Duration)
	logger         *slog.Logger

	needRefresh bool
}

// NewSupervisor creates a supervisor. credential may be empty when refresh
// is non-nil (cold start); refresh may be nil when a static token is used.
func NewSupervisor(attempt Attempt, refresh RefreshFunc, credential string, opts SupervisorOptions) *Supervisor {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		attempt:        attempt,
		refresh:        refresh,
		credential:     credential,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		onReconnect:    opts.OnReconnect,
		logger:         logger.With("component", "supervisor"),
	}
}

// Run drives connection attempts until ctx is canceled. Cancellation
// interrupts the in-flight attempt (the transport force-terminates), not
// merely the sleep between attempts, so no late event from a superseded
// connection can be processed after Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	delay := s.initialBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if s.credential == "" && s.refresh == nil {
			return ErrNoCredential
		}

		if (s.credential == "" || s.needRefresh) && s.refresh != nil {
			token, err := s.refresh(ctx)
			if err != nil {
				s.logger.Warn("credential refresh failed", "error", err)
				if !s.wait(ctx, withJitter(delay)) {
					return ctx.Err()
				}
				delay = s.nextDelay(delay)
				continue
			}
			s.credential = token
			s.needRefresh = false
		}

		out, err := s.attempt(ctx, s.credential)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		healthy := err == nil && out.Opened
		if healthy {
			// The session authenticated and ran; start the next ladder fresh.
			delay = s.initialBackoff
		}
		if errors.Is(err, ErrAuthFailed) && s.refresh != nil {
			s.needRefresh = true
		}
		if err != nil {
			s.logger.Warn("connection attempt failed", "error", err)
		}

		d := withJitter(delay)
		if s.onReconnect != nil {
			s.onReconnect(d)
		}
		s.logger.Info("reconnecting", "delay", d, "refresh_pending", s.needRefresh)
		if !s.wait(ctx, d) {
			return ctx.Err()
		}
		if !healthy {
			delay = s.nextDelay(delay)
		}
	}
}

// wait sleeps for d, returning false if ctx was canceled first.
func (s *Supervisor) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// nextDelay doubles the backoff up to the bound.
func (s *Supervisor) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > s.maxBackoff {
		d = s.maxBackoff
	}
	return d
}

// withJitter spreads retries across [d/2, d] so restarting accounts don't
// reconnect in lockstep.
func withJitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
