package session

import (
	"context"
	"sync"
	"time"
)

// Supervisor watches for the situations in which a nominally connected
// session has silently died: the host suspending and resuming, the
// network interface going away and coming back, or the process being
// descheduled long enough for the broker to drop the socket without a
// close frame reaching us.
//
// Wake sources feed it hints (NotifyVisible, NotifyFocus,
// NotifyNetworkOnline); a background ticker additionally detects
// suspend/resume by watching for jumps in wall time. On every hint the
// supervisor judges the session and either reconnects it or refreshes
// its activity clock.
type Supervisor struct {
	session *Session
	log     Logger

	// focusDelay coalesces the visible+focus pair a window manager
	// delivers back to back, so one resume triggers one evaluation.
	focusDelay time.Duration

	// tickInterval paces the clock-jump detector.
	tickInterval time.Duration

	mu         sync.Mutex
	focusTimer *time.Timer
	lastTick   time.Time
}

// NewSupervisor creates a liveness supervisor for the given session.
func NewSupervisor(session *Session, log Logger) *Supervisor {
	if log == nil {
		log = noopLogger{}
	}
	return &Supervisor{
		session:      session,
		log:          log,
		focusDelay:   100 * time.Millisecond,
		tickInterval: 15 * time.Second,
	}
}

// Run drives the clock-jump detector until ctx is cancelled. A gap
// between ticks far exceeding the interval means the host slept; the
// session is judged immediately on resume.
func (sv *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(sv.tickInterval)
	defer ticker.Stop()

	sv.mu.Lock()
	sv.lastTick = time.Now()
	sv.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sv.mu.Lock()
			gap := now.Sub(sv.lastTick)
			sv.lastTick = now
			sv.mu.Unlock()

			if gap > 2*sv.tickInterval {
				sv.log.Info("clock jump detected, assuming resume from suspend", "gap", gap)
				sv.evaluate(ctx)
			}
		}
	}
}

// NotifyVisible reports that the user interface became visible again.
// The session is judged immediately.
func (sv *Supervisor) NotifyVisible(ctx context.Context) {
	sv.evaluate(ctx)
}

// NotifyFocus reports that the user interface regained input focus.
// Evaluation is deferred briefly so a visible+focus pair produces a
// single judgement.
func (sv *Supervisor) NotifyFocus(ctx context.Context) {
	sv.mu.Lock()
	if sv.focusTimer != nil {
		sv.focusTimer.Stop()
	}
	sv.focusTimer = time.AfterFunc(sv.focusDelay, func() {
		sv.mu.Lock()
		sv.focusTimer = nil
		sv.mu.Unlock()
		sv.evaluate(ctx)
	})
	sv.mu.Unlock()
}

// NotifyNetworkOnline reports that network connectivity returned. The
// session is judged immediately, the same evaluation the other wake
// sources run.
func (sv *Supervisor) NotifyNetworkOnline(ctx context.Context) {
	sv.log.Info("network online, judging session")
	sv.evaluate(ctx)
}

// evaluate judges the session after a wake hint.
//
// Disconnected sessions are force-reconnected: a wake hint must not be
// swallowed by the connect debounce or a stalled backoff run. Connected
// sessions are tested for inbound silence: past the stale threshold the
// socket is presumed half-open and force-reconnected; within it the
// session gets the benefit of the doubt and its activity clock is
// refreshed so the next hint does not immediately re-judge it.
func (sv *Supervisor) evaluate(ctx context.Context) {
	if !sv.session.Connected() {
		sv.log.Debug("wake hint while disconnected, forcing reconnect")
		if err := sv.session.ForceReconnect(ctx); err != nil {
			sv.log.Warn("forced reconnect failed", "error", err)
		}
		return
	}

	last := sv.session.LastMessage()
	threshold := sv.session.cfg.GetStaleThreshold()
	if !last.IsZero() && time.Since(last) > threshold {
		sv.log.Warn("connection stale, forcing reconnect",
			"silence", time.Since(last),
			"threshold", threshold,
		)
		if err := sv.session.ForceReconnect(ctx); err != nil {
			sv.log.Warn("forced reconnect failed", "error", err)
		}
		return
	}

	sv.session.touchLastMessage(time.Now())
}
