package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/looplab/fsm"

	"github.com/lumibot/lumibot-core/internal/infrastructure/config"
)

// Connection states. Transitions are linear and logged; the state is
// read-only to callers.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
	StateFailed       = "failed"
)

// State machine events.
const (
	evBegin   = "begin"   // a connect attempt starts
	evSettled = "settled" // transport up and the settle delay elapsed
	evFail    = "fail"    // attempt failed after protocol fallback
	evLost    = "lost"    // established connection dropped
	evRetry   = "retry"   // backoff timer fired
	evExhaust = "exhaust" // attempt cap reached
)

// settleDelay is the short post-success wait before declaring connected.
// Some transports briefly report IsConnected()=false immediately after a
// successful connect; post-connect work must run on a settled client.
const settleDelay = 500 * time.Millisecond

// clientIDAlphabet and clientIDLength shape the per-connect random
// client id (web_<8-char-base36>). A fresh id on every attempt prevents
// a stale session on the broker from rejecting the new one.
const (
	clientIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	clientIDLength   = 8
)

// Logger defines the logging interface used by the session.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Session is the MQTT session and device-state core.
//
// It owns the single underlying transport handle and implements the
// connection state machine, connect debounce, protocol-version
// fallback, WebSocket-path cycling, exponential-backoff reconnects,
// the debounced disconnect notification, the subscription registry,
// the pending publish queue, and the per-device state cache.
//
// Thread Safety:
//   - All public methods are safe for concurrent use.
//   - Scheduled broker-side operations are cancellable tasks bound to
//     the current session epoch; teardown cancels them all, and a task
//     that fires late under a stale epoch is a no-op.
type Session struct {
	cfg     config.Session
	src     BrokerSource
	factory TransportFactory
	log     Logger
	events  *emitter
	machine *fsm.FSM

	mu        sync.Mutex
	transport Transport
	epoch     uint64
	tasks     map[uint64]*time.Timer
	nextTask  uint64

	// Connect guards.
	connecting  bool
	lastAttempt time.Time
	intentional bool

	// Reconnect loop.
	attempts int
	delays   *backoff.ExponentialBackOff

	// WebSocket-path cycling.
	currentPath   string
	pathRotations int
	pathLatched   bool

	// Debounced disconnect notifier. The grace timer and the
	// suppress-symmetric-connect rule are one mechanism.
	notifyTimer       *time.Timer
	pendingDisconnect bool

	// Subscription registry (process lifetime) and the per-session
	// active set.
	subOrder  []string
	subTuples map[string]TopicTuple
	active    map[string]struct{}

	// Pending publish queue.
	queue []pendingMessage

	// Merged per-device state cache.
	cache       map[string]DeviceState
	lastMessage time.Time
}

// New creates a Session reading broker parameters from src on every
// connect attempt. Zero-valued tunables in cfg fall back to defaults.
func New(cfg config.Session, src BrokerSource) *Session {
	applySessionDefaults(&cfg)

	s := &Session{
		cfg:       cfg,
		src:       src,
		factory:   NewPahoTransport,
		log:       noopLogger{},
		tasks:     make(map[uint64]*time.Timer),
		subTuples: make(map[string]TopicTuple),
		active:    make(map[string]struct{}),
		cache:     make(map[string]DeviceState),
	}
	s.events = newEmitter(s.log)
	s.delays = newDelaySchedule(cfg.Reconnect)
	s.machine = newConnMachine(func(from, to string) {
		s.log.Debug("connection state changed", "from", from, "to", to)
	})
	return s
}

// applySessionDefaults fills zero-valued tunables with the shipped
// behaviour.
func applySessionDefaults(cfg *config.Session) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 20
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 3
	}
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = 1500
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 60
	}
	if cfg.Reconnect.InitialDelayMs <= 0 {
		cfg.Reconnect.InitialDelayMs = 2000
	}
	if cfg.Reconnect.Multiplier < 1 {
		cfg.Reconnect.Multiplier = 1.5
	}
	if cfg.Reconnect.MaxDelayMs <= 0 {
		cfg.Reconnect.MaxDelayMs = 30000
	}
	if cfg.Reconnect.MaxAttempts <= 0 {
		cfg.Reconnect.MaxAttempts = 15
	}
}

// newDelaySchedule builds the reconnect delay schedule: exponential,
// non-decreasing until the cap, no jitter so the sequence is
// deterministic.
func newDelaySchedule(cfg config.Reconnect) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(cfg.InitialDelayMs) * time.Millisecond
	b.Multiplier = cfg.Multiplier
	b.MaxInterval = time.Duration(cfg.MaxDelayMs) * time.Millisecond
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// newConnMachine builds the connection state machine.
func newConnMachine(logTransition func(from, to string)) *fsm.FSM {
	return fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: evBegin, Src: []string{StateDisconnected, StateReconnecting, StateFailed}, Dst: StateConnecting},
			{Name: evSettled, Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: evFail, Src: []string{StateConnecting}, Dst: StateDisconnected},
			{Name: evLost, Src: []string{StateConnected, StateConnecting}, Dst: StateDisconnected},
			{Name: evRetry, Src: []string{StateDisconnected}, Dst: StateReconnecting},
			{Name: evExhaust, Src: []string{StateDisconnected}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logTransition(e.Src, e.Dst)
			},
		},
	)
}

// SetLogger sets the logger for the session and its event bus.
func (s *Session) SetLogger(logger Logger) {
	s.mu.Lock()
	s.log = logger
	s.events.logger = logger
	s.mu.Unlock()
}

// SetTransportFactory replaces the transport constructor. Intended for
// tests; call before Connect.
func (s *Session) SetTransportFactory(factory TransportFactory) {
	s.mu.Lock()
	s.factory = factory
	s.mu.Unlock()
}

// Connected reports whether the session is fully established (transport
// up and the settle delay elapsed).
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedLocked()
}

func (s *Session) connectedLocked() bool {
	return s.machine.Current() == StateConnected && s.transport != nil
}

// ConnectionState returns the current connection state name.
func (s *Session) ConnectionState() string {
	return s.machine.Current()
}

// LastMessage returns the arrival time of the most recent inbound
// frame, or the zero time if none has arrived yet.
func (s *Session) LastMessage() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMessage
}

// touchLastMessage refreshes the inbound-activity clock. The liveness
// supervisor calls this after judging a connection healthy so the next
// wake source does not immediately re-trigger.
func (s *Session) touchLastMessage(now time.Time) {
	s.mu.Lock()
	s.lastMessage = now
	s.mu.Unlock()
}

// Connect establishes the session. It is idempotent with a debounce:
// a call within the debounce window of the previous attempt, or while
// another attempt is in flight, is a no-op returning nil.
//
// The call returns success once the transport reports connected and
// the settle timer has been armed; the session is declared established,
// and the post-connect replay of subscriptions and queued publishes
// runs, once the settle delay elapses. Connect fails only after
// exhausting the protocol-version fallback.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if !s.lastAttempt.IsZero() && time.Since(s.lastAttempt) < s.cfg.GetDebounceWindow() {
		s.mu.Unlock()
		s.log.Debug("connect debounced")
		return nil
	}
	if s.connecting {
		s.mu.Unlock()
		s.log.Debug("connect already in flight")
		return nil
	}
	if s.connectedLocked() {
		s.mu.Unlock()
		return nil
	}
	s.connecting = true
	s.lastAttempt = time.Now()
	s.intentional = false
	s.mu.Unlock()

	return s.runConnect(ctx, true)
}

// errAttemptSuperseded marks a connect attempt overtaken by a lost
// event: the lost handler has already torn down and scheduled the
// reconnect loop, so the attempt must step aside rather than fall back
// or reschedule.
var errAttemptSuperseded = errors.New("session: connect attempt superseded")

// runConnect performs one logical connect: preferred protocol version,
// a one-shot fallback to MQTT 3.1, then arming the settle timer. The
// caller must hold the connecting flag. When notifyErr is false the
// failure stays off the event bus: reconnect iterations are absorbed
// silently until the attempt cap reports exhaustion.
func (s *Session) runConnect(ctx context.Context, notifyErr bool) error {
	_ = s.machine.Event(ctx, evBegin)

	epoch, err := s.attemptTransport(ctx, ProtocolV311)
	if err != nil && !errors.Is(err, errAttemptSuperseded) {
		s.log.Warn("connect failed at MQTT 3.1.1, retrying with 3.1", "error", err)
		epoch, err = s.attemptTransport(ctx, ProtocolV31)
	}
	if errors.Is(err, errAttemptSuperseded) {
		// Whoever bumped the epoch has already released the connecting
		// flag and owns recovery.
		s.log.Warn("connect attempt superseded, reconnect loop takes over")
		return nil
	}
	if err != nil {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
		_ = s.machine.Event(ctx, evFail)
		wrapped := fmt.Errorf("%w: %w", ErrConnectFailed, err)
		if notifyErr {
			s.events.emitError(wrapped)
		}
		return wrapped
	}

	// The settle wait is an epoch-bound task like every other scheduled
	// broker-side operation: a loss in the window cancels it outright
	// instead of letting a doomed attempt block this goroutine.
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.log.Warn("connection lost before settle, reconnect loop takes over")
		return nil
	}
	s.scheduleTaskLocked(settleDelay, func() {
		s.finishConnect(ctx, epoch)
	})
	s.mu.Unlock()
	return nil
}

// attemptTransport builds a fresh transport at the given protocol
// version and connects it. On success the session owns the transport.
func (s *Session) attemptTransport(ctx context.Context, version uint) (uint64, error) {
	broker, err := s.src.Resolve(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrResolveBroker, err)
	}

	s.mu.Lock()
	epoch := s.epoch
	s.currentPath = broker.Path
	factory := s.factory
	s.mu.Unlock()

	clientID := randomClientID()
	s.log.Info("connecting",
		"broker", broker.URL(),
		"client_id", clientID,
		"protocol_version", version,
	)

	transport := factory(TransportConfig{
		BrokerURL:       broker.URL(),
		ClientID:        clientID,
		Username:        broker.Username,
		Password:        broker.Password,
		ProtocolVersion: version,
		KeepAlive:       s.cfg.GetKeepAlive(),
		ConnectTimeout:  s.cfg.GetConnectTimeout(),
	}, s.handleInbound, func(lostErr error) {
		s.handleLost(epoch, lostErr)
	})

	if err := transport.Connect(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// A lost event raced this attempt to completion. The new
		// transport belongs to a dead generation; drop it.
		s.mu.Unlock()
		transport.Disconnect(transportDisconnectQuiesce)
		return 0, errAttemptSuperseded
	}
	s.transport = transport
	s.mu.Unlock()
	return epoch, nil
}

// finishConnect declares the session connected: resets the backoff run
// and the path-cycle latch, resolves the debounced-disconnect notifier,
// emits the connect event unless suppressed, and schedules the
// subscription replay and queue flush.
func (s *Session) finishConnect(ctx context.Context, epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.transport == nil {
		// The connection was lost during the settle delay. Whoever
		// bumped the epoch released the connecting flag and scheduled
		// recovery, so this attempt just steps aside.
		s.mu.Unlock()
		s.log.Warn("connection lost during settle, reconnect loop takes over")
		return
	}

	s.attempts = 0
	s.delays.Reset()
	s.pathRotations = 0
	s.pathLatched = false

	suppressConnect := false
	if s.notifyTimer != nil {
		s.notifyTimer.Stop()
		s.notifyTimer = nil
	}
	if s.pendingDisconnect {
		// Recovered within the grace window: from the observers' point
		// of view the session never left. Suppress both notifications.
		s.pendingDisconnect = false
		suppressConnect = true
	}

	s.active = make(map[string]struct{})
	s.connecting = false
	s.mu.Unlock()

	_ = s.machine.Event(ctx, evSettled)
	s.log.Info("session connected", "suppressed_notification", suppressConnect)

	if !suppressConnect {
		s.events.emitConnect()
	}

	s.mu.Lock()
	s.replaySubscriptionsLocked()
	s.flushQueueLocked()
	s.mu.Unlock()
}

// handleLost reacts to an unexpected connection drop. Events from a
// torn-down transport generation are ignored.
func (s *Session) handleLost(epoch uint64, err error) {
	ctx := context.Background()

	s.mu.Lock()
	if epoch != s.epoch || s.intentional {
		s.mu.Unlock()
		return
	}

	wasEstablished := s.machine.Current() == StateConnected

	reason := classifyLost(err)
	s.log.Warn("connection lost", "error", err, "socket_closed", reason == reasonSocketClosed)

	if reason == reasonSocketClosed {
		s.rotatePathLocked(ctx)
	}

	s.teardownLocked()
	s.connecting = false

	// Start the disconnect grace: observers hear nothing unless the
	// session is still down when the timer expires. A loss during the
	// settle window never arms it, since no connect event was delivered
	// that a disconnect could pair with; if an earlier loss already
	// started the grace, its timer keeps running.
	if wasEstablished {
		s.pendingDisconnect = true
		s.notifyTimer = time.AfterFunc(s.cfg.GetDisconnectGrace(), s.notifyDisconnect)
	}

	_ = s.machine.Event(ctx, evLost)

	s.scheduleReconnectLocked()
	s.mu.Unlock()
}

// notifyDisconnect fires when the disconnect grace expires. Only if the
// session is still down do observers hear about the disconnection.
func (s *Session) notifyDisconnect() {
	s.mu.Lock()
	s.notifyTimer = nil
	if !s.pendingDisconnect || s.connectedLocked() {
		s.pendingDisconnect = false
		s.mu.Unlock()
		return
	}
	s.pendingDisconnect = false
	s.mu.Unlock()

	s.log.Info("disconnect notification delivered")
	s.events.emitDisconnect()
}

// rotatePathLocked advances the persisted WebSocket path through the
// candidate cycle. A complete rotation sets a latch that suppresses
// further mutation until the next successful connect.
func (s *Session) rotatePathLocked(ctx context.Context) {
	if s.pathLatched {
		return
	}

	next := nextPath(s.currentPath)
	if err := s.src.StorePath(ctx, next); err != nil {
		s.log.Error("persisting rotated websocket path", "error", err)
		return
	}

	s.log.Info("rotated websocket path", "from", s.currentPath, "to", next)
	s.currentPath = next
	s.pathRotations++
	if s.pathRotations >= len(pathCycle) {
		s.pathLatched = true
		s.log.Warn("websocket path cycle exhausted, latching until next successful connect")
	}
}

// teardownLocked invalidates the current session generation: bumps the
// epoch (so late lost-events and scheduled tasks become no-ops),
// cancels every pending task, and clears the per-session active set.
// The subscription registry, the pending queue, and the state cache
// survive for the next session.
func (s *Session) teardownLocked() {
	s.epoch++
	for id, timer := range s.tasks {
		timer.Stop()
		delete(s.tasks, id)
	}
	s.active = make(map[string]struct{})
	s.transport = nil
}

// scheduleReconnectLocked arms the next backoff attempt, or reports
// exhaustion once the attempt cap for this disconnection run is hit.
func (s *Session) scheduleReconnectLocked() {
	if s.intentional {
		return
	}
	if s.attempts >= s.cfg.Reconnect.MaxAttempts {
		s.log.Error("reconnect attempts exhausted", "attempts", s.attempts)
		s.scheduleTaskLocked(0, func() {
			_ = s.machine.Event(context.Background(), evExhaust)
			s.events.emitError(ErrReconnectExhausted)
		})
		return
	}

	s.attempts++
	delay := s.delays.NextBackOff()
	s.log.Info("scheduling reconnect", "attempt", s.attempts, "delay", delay)
	s.scheduleTaskLocked(delay, s.attemptReconnect)
}

// attemptReconnect is the backoff timer body.
func (s *Session) attemptReconnect() {
	ctx := context.Background()

	s.mu.Lock()
	if s.intentional || s.connectedLocked() {
		s.mu.Unlock()
		return
	}
	if s.connecting {
		// A caller-initiated attempt is still mid-flight. Check back
		// shortly rather than abandoning the loop.
		s.scheduleTaskLocked(100*time.Millisecond, s.attemptReconnect)
		s.mu.Unlock()
		return
	}
	s.connecting = true
	s.lastAttempt = time.Now()
	attempt := s.attempts
	s.mu.Unlock()

	_ = s.machine.Event(ctx, evRetry)

	if err := s.runConnect(ctx, false); err != nil {
		s.log.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		s.mu.Lock()
		s.scheduleReconnectLocked()
		s.mu.Unlock()
	}
}

// Disconnect intentionally tears the session down: the reconnect loop
// is suppressed, every pending task and notification is cancelled, and
// the state becomes disconnected until the next Connect. It cannot
// fail.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.log.Info("intentional disconnect")
	s.intentional = true
	if s.notifyTimer != nil {
		s.notifyTimer.Stop()
		s.notifyTimer = nil
	}
	s.pendingDisconnect = false
	transport := s.transport
	s.teardownLocked()
	s.connecting = false
	s.mu.Unlock()

	if transport != nil {
		transport.Disconnect(transportDisconnectQuiesce)
	}
	s.machine.SetState(StateDisconnected)
}

// ForceReconnect unconditionally clears the connect debounce, the
// in-flight mutex, the backoff counters, and reconnect suppression,
// then reconnects. Intended for the liveness supervisor.
//
// If the session was connected, the teardown is treated like a lost
// connection for notification purposes: a fast reconnect produces no
// observable events at all.
func (s *Session) ForceReconnect(ctx context.Context) error {
	s.mu.Lock()
	s.log.Info("forced reconnect")
	wasConnected := s.connectedLocked()
	transport := s.transport
	s.teardownLocked()
	s.intentional = false
	s.connecting = false
	s.lastAttempt = time.Time{}
	s.attempts = 0
	s.delays.Reset()
	if wasConnected && !s.pendingDisconnect {
		s.pendingDisconnect = true
		s.notifyTimer = time.AfterFunc(s.cfg.GetDisconnectGrace(), s.notifyDisconnect)
	}
	s.mu.Unlock()

	if transport != nil {
		transport.Disconnect(transportDisconnectQuiesce)
	}
	s.machine.SetState(StateDisconnected)

	return s.Connect(ctx)
}

// scheduleTaskLocked arms a cancellable task bound to the current
// session epoch. Teardown stops the timer; a task that still fires
// under a stale epoch is a no-op.
func (s *Session) scheduleTaskLocked(d time.Duration, fn func()) {
	id := s.nextTask
	s.nextTask++
	epoch := s.epoch

	s.tasks[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.tasks, id)
		if s.epoch != epoch {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		fn()
	})
}

// randomClientID generates a fresh broker client id for one attempt.
func randomClientID() string {
	b := make([]byte, clientIDLength)
	for i := range b {
		b[i] = clientIDAlphabet[rand.IntN(len(clientIDAlphabet))]
	}
	return "web_" + string(b)
}
