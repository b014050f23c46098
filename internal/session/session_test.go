package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumibot/lumibot-core/internal/infrastructure/config"
)

// =============================================================================
// Test Fakes
// =============================================================================

type fakePub struct {
	topic   string
	payload string
	at      time.Time
}

// fakeTransport records every broker-side operation and lets the test
// inject inbound frames and lost-connection events.
type fakeTransport struct {
	mu         sync.Mutex
	cfg        TransportConfig
	connectErr error
	connected  bool
	subs       []string
	unsubs     []string
	pubs       []fakePub
	onMessage  func(string, []byte)
	onLost     func(error)
}

func (t *fakeTransport) Connect() error {
	if t.connectErr != nil {
		return t.connectErr
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Disconnect(uint) {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) Subscribe(topic string, _ byte) error {
	t.mu.Lock()
	t.subs = append(t.subs, topic)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Unsubscribe(topics ...string) error {
	t.mu.Lock()
	t.unsubs = append(t.unsubs, topics...)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Publish(topic string, _ byte, _ bool, payload []byte) error {
	t.mu.Lock()
	t.pubs = append(t.pubs, fakePub{topic: topic, payload: string(payload), at: time.Now()})
	t.mu.Unlock()
	return nil
}

// lose simulates the transport reporting an unexpected drop.
func (t *fakeTransport) lose(err error) {
	t.mu.Lock()
	t.connected = false
	lost := t.onLost
	t.mu.Unlock()
	lost(err)
}

// deliver simulates one inbound frame.
func (t *fakeTransport) deliver(topic string, payload string) {
	t.onMessage(topic, []byte(payload))
}

func (t *fakeTransport) subscriptions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.subs))
	copy(out, t.subs)
	return out
}

func (t *fakeTransport) publishes() []fakePub {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]fakePub, len(t.pubs))
	copy(out, t.pubs)
	return out
}

// fakeFactory builds fakeTransports and records every construction.
type fakeFactory struct {
	mu       sync.Mutex
	failures int
	created  []*fakeTransport
	createdC chan *fakeTransport
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{createdC: make(chan *fakeTransport, 32)}
}

func (f *fakeFactory) new(cfg TransportConfig, onMessage func(string, []byte), onLost func(error)) Transport {
	t := &fakeTransport{cfg: cfg, onMessage: onMessage, onLost: onLost}

	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		t.connectErr = errors.New("dial refused")
	}
	f.created = append(f.created, t)
	f.mu.Unlock()

	select {
	case f.createdC <- t:
	default:
	}
	return t
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeFactory) transport(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i]
}

// awaitTransport blocks until the factory builds its next transport.
func (f *fakeFactory) awaitTransport(t *testing.T) *fakeTransport {
	t.Helper()
	select {
	case ft := <-f.createdC:
		return ft
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a transport to be built")
		return nil
	}
}

// =============================================================================
// Test Helpers
// =============================================================================

func testSessionConfig() config.Session {
	return config.Session{
		ConnectTimeout:  1,
		KeepAlive:       10,
		DebounceWindow:  1,
		DisconnectGrace: 2000,
		StaleThreshold:  30,
		Reconnect: config.Reconnect{
			InitialDelayMs: 20,
			Multiplier:     1.5,
			MaxDelayMs:     100,
			MaxAttempts:    15,
		},
	}
}

func newTestSession(cfg config.Session) (*Session, *fakeFactory, *StaticSource) {
	src := NewStaticSource(BrokerConfig{Host: "broker.test", Port: 443, Path: "/mqtt", TLS: true})
	f := newFakeFactory()
	s := New(cfg, src)
	s.SetTransportFactory(f.new)
	return s, f, src
}

// connectTestSession establishes the session, waits out the settle
// delay, and drains the factory channel for the transport that served
// it.
func connectTestSession(t *testing.T, s *Session, f *fakeFactory) *fakeTransport {
	t.Helper()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ft := f.awaitTransport(t)
	waitFor(t, 3*time.Second, s.Connected, "session never settled after Connect()")
	return ft
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// =============================================================================
// Connect Tests
// =============================================================================

func TestConnectLifecycle(t *testing.T) {
	s, f, _ := newTestSession(testSessionConfig())

	var connects atomic.Int32
	s.OnConnect(func() { connects.Add(1) })

	ft := connectTestSession(t, s, f)

	if s.ConnectionState() != StateConnected {
		t.Errorf("ConnectionState() = %q, want %q", s.ConnectionState(), StateConnected)
	}
	if got := connects.Load(); got != 1 {
		t.Errorf("connect callbacks = %d, want 1", got)
	}
	if !strings.HasPrefix(ft.cfg.ClientID, "web_") {
		t.Errorf("client id = %q, want web_ prefix", ft.cfg.ClientID)
	}
	if len(ft.cfg.ClientID) != len("web_")+clientIDLength {
		t.Errorf("client id length = %d, want %d", len(ft.cfg.ClientID), len("web_")+clientIDLength)
	}
	if ft.cfg.ProtocolVersion != ProtocolV311 {
		t.Errorf("protocol version = %d, want %d", ft.cfg.ProtocolVersion, ProtocolV311)
	}
	if ft.cfg.BrokerURL != "wss://broker.test:443/mqtt" {
		t.Errorf("broker url = %q", ft.cfg.BrokerURL)
	}

	waitFor(t, time.Second, func() bool {
		for _, topic := range ft.subscriptions() {
			if topic == DiscoveryWildcard() {
				return true
			}
		}
		return false
	}, "discovery wildcard never subscribed")
}

func TestConnectDebounce(t *testing.T) {
	s, f, _ := newTestSession(testSessionConfig())
	connectTestSession(t, s, f)

	// Within the debounce window of the first attempt.
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("debounced Connect() error = %v", err)
	}
	if got := f.count(); got != 1 {
		t.Errorf("transports built = %d, want 1", got)
	}
}

func TestConnectProtocolFallback(t *testing.T) {
	s, f, _ := newTestSession(testSessionConfig())
	f.failures = 1

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, 3*time.Second, s.Connected, "session never settled after fallback")

	if got := f.count(); got != 2 {
		t.Fatalf("transports built = %d, want 2", got)
	}
	if v := f.transport(0).cfg.ProtocolVersion; v != ProtocolV311 {
		t.Errorf("first attempt protocol = %d, want %d", v, ProtocolV311)
	}
	if v := f.transport(1).cfg.ProtocolVersion; v != ProtocolV31 {
		t.Errorf("fallback attempt protocol = %d, want %d", v, ProtocolV31)
	}
	if f.transport(0).cfg.ClientID == f.transport(1).cfg.ClientID {
		t.Error("fallback attempt reused the client id")
	}
}

func TestConnectFailsAfterFallback(t *testing.T) {
	s, f, _ := newTestSession(testSessionConfig())
	f.failures = 2

	var errs atomic.Int32
	s.OnError(func(error) { errs.Add(1) })

	err := s.Connect(context.Background())
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectFailed", err)
	}
	if s.ConnectionState() != StateDisconnected {
		t.Errorf("ConnectionState() = %q, want %q", s.ConnectionState(), StateDisconnected)
	}
	if got := errs.Load(); got != 1 {
		t.Errorf("error callbacks = %d, want 1", got)
	}
}

func TestConnectReturnsBeforeSettle(t *testing.T) {
	s, f, _ := newTestSession(testSessionConfig())

	start := time.Now()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed >= settleDelay {
		t.Errorf("Connect() blocked %v, want a return before the %v settle delay", elapsed, settleDelay)
	}
	if s.Connected() {
		t.Error("Connected() = true before the settle delay elapsed")
	}

	f.awaitTransport(t)
	waitFor(t, 3*time.Second, s.Connected, "session never settled")
}

// =============================================================================
// Reconnect and Notification Tests
// =============================================================================

func TestLossDuringSettleStaysSilent(t *testing.T) {
	cfg := testSessionConfig()
	cfg.DisconnectGrace = 100
	cfg.Reconnect.InitialDelayMs = 5000 // keep the session down past the grace
	s, f, _ := newTestSession(cfg)

	var connects, disconnects atomic.Int32
	s.OnConnect(func() { connects.Add(1) })
	s.OnDisconnect(func() { disconnects.Add(1) })

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ft := f.awaitTransport(t)

	// Drop the socket before the settle delay elapses: no connect event
	// was ever delivered, so no disconnect may be either.
	ft.lose(errors.New("pingresp not received, disconnecting"))

	time.Sleep(400 * time.Millisecond)
	if got := connects.Load(); got != 0 {
		t.Errorf("connect callbacks = %d, want 0", got)
	}
	if got := disconnects.Load(); got != 0 {
		t.Errorf("disconnect callbacks = %d, want 0 (nothing was ever announced)", got)
	}
	if s.Connected() {
		t.Error("Connected() = true after a loss during settle")
	}
}

func TestReconnectFailuresAreSilentUntilExhaustion(t *testing.T) {
	cfg := testSessionConfig()
	cfg.DisconnectGrace = 50
	cfg.Reconnect.MaxAttempts = 3
	s, f, _ := newTestSession(cfg)

	var errs, exhausted atomic.Int32
	s.OnError(func(err error) {
		errs.Add(1)
		if errors.Is(err, ErrReconnectExhausted) {
			exhausted.Add(1)
		}
	})

	ft := connectTestSession(t, s, f)

	f.mu.Lock()
	f.failures = 1000
	f.mu.Unlock()

	ft.lose(errors.New("pingresp not received, disconnecting"))

	waitFor(t, 5*time.Second, func() bool { return exhausted.Load() == 1 },
		"exhaustion error never reported")
	if got := errs.Load(); got != 1 {
		t.Errorf("error callbacks = %d, want 1 (transient attempts stay off the event bus)", got)
	}
}

func TestQuickBlipProducesNoEvents(t *testing.T) {
	s, f, _ := newTestSession(testSessionConfig())

	var connects, disconnects atomic.Int32
	s.OnConnect(func() { connects.Add(1) })
	s.OnDisconnect(func() { disconnects.Add(1) })

	ft := connectTestSession(t, s, f)
	ft.lose(errors.New("pingresp not received, disconnecting"))

	// The reconnect loop recovers well inside the grace window.
	waitFor(t, 3*time.Second, s.Connected, "session never reconnected")
	time.Sleep(300 * time.Millisecond)

	if got := connects.Load(); got != 1 {
		t.Errorf("connect callbacks = %d, want 1 (recovery must be silent)", got)
	}
	if got := disconnects.Load(); got != 0 {
		t.Errorf("disconnect callbacks = %d, want 0 (recovery must be silent)", got)
	}
	if got := f.count(); got != 2 {
		t.Errorf("transports built = %d, want 2", got)
	}
}

func TestDisconnectNotifiedAfterGrace(t *testing.T) {
	cfg := testSessionConfig()
	cfg.DisconnectGrace = 100
	cfg.Reconnect.InitialDelayMs = 5000 // recovery cannot beat the grace
	s, f, _ := newTestSession(cfg)

	var disconnects atomic.Int32
	s.OnDisconnect(func() { disconnects.Add(1) })

	ft := connectTestSession(t, s, f)
	ft.lose(errors.New("pingresp not received, disconnecting"))

	waitFor(t, time.Second, func() bool { return disconnects.Load() == 1 },
		"disconnect callback never fired")

	if s.Connected() {
		t.Error("Connected() = true after loss")
	}
}

func TestIntentionalDisconnectIsSilent(t *testing.T) {
	s, f, _ := newTestSession(testSessionConfig())

	var disconnects atomic.Int32
	s.OnDisconnect(func() { disconnects.Add(1) })

	ft := connectTestSession(t, s, f)
	s.Disconnect()

	if s.ConnectionState() != StateDisconnected {
		t.Errorf("ConnectionState() = %q, want %q", s.ConnectionState(), StateDisconnected)
	}
	if ft.IsConnected() {
		t.Error("transport still connected after Disconnect()")
	}

	// Long enough for a reconnect attempt or a notification to appear
	// if either were wrongly scheduled.
	time.Sleep(300 * time.Millisecond)
	if got := disconnects.Load(); got != 0 {
		t.Errorf("disconnect callbacks = %d, want 0", got)
	}
	if got := f.count(); got != 1 {
		t.Errorf("transports built = %d, want 1 (no reconnect loop)", got)
	}
}

func TestForceReconnectIsSilentWhenFast(t *testing.T) {
	s, f, _ := newTestSession(testSessionConfig())

	var connects, disconnects atomic.Int32
	s.OnConnect(func() { connects.Add(1) })
	s.OnDisconnect(func() { disconnects.Add(1) })

	connectTestSession(t, s, f)

	if err := s.ForceReconnect(context.Background()); err != nil {
		t.Fatalf("ForceReconnect() error = %v", err)
	}
	waitFor(t, 3*time.Second, s.Connected, "session never settled after ForceReconnect()")

	time.Sleep(300 * time.Millisecond)
	if got := f.count(); got != 2 {
		t.Errorf("transports built = %d, want 2", got)
	}
	if got := connects.Load(); got != 1 {
		t.Errorf("connect callbacks = %d, want 1", got)
	}
	if got := disconnects.Load(); got != 0 {
		t.Errorf("disconnect callbacks = %d, want 0", got)
	}
}

func TestForceReconnectBypassesDebounce(t *testing.T) {
	s, f, _ := newTestSession(testSessionConfig())
	connectTestSession(t, s, f)

	// A plain Connect here would be debounced; ForceReconnect must not be.
	if err := s.ForceReconnect(context.Background()); err != nil {
		t.Fatalf("ForceReconnect() error = %v", err)
	}
	if got := f.count(); got != 2 {
		t.Errorf("transports built = %d, want 2", got)
	}
}

func TestReconnectExhaustion(t *testing.T) {
	cfg := testSessionConfig()
	cfg.DisconnectGrace = 50
	cfg.Reconnect.MaxAttempts = 2
	s, f, _ := newTestSession(cfg)

	var exhausted atomic.Bool
	s.OnError(func(err error) {
		if errors.Is(err, ErrReconnectExhausted) {
			exhausted.Store(true)
		}
	})

	ft := connectTestSession(t, s, f)

	// Every further connect attempt fails.
	f.mu.Lock()
	f.failures = 1000
	f.mu.Unlock()

	ft.lose(errors.New("pingresp not received, disconnecting"))

	waitFor(t, 5*time.Second, exhausted.Load, "exhaustion error never reported")
	waitFor(t, time.Second, func() bool { return s.ConnectionState() == StateFailed },
		"ConnectionState() never reached failed")
}

// =============================================================================
// WebSocket Path Cycling Tests
// =============================================================================

func TestSocketClosedRotatesPath(t *testing.T) {
	s, f, src := newTestSession(testSessionConfig())

	ft := connectTestSession(t, s, f)
	ft.lose(errors.New("websocket: close 1006 (abnormal closure): unexpected EOF"))

	cfg, err := src.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Path != "/" {
		t.Errorf("path after socket-closed loss = %q, want /", cfg.Path)
	}

	waitFor(t, 3*time.Second, s.Connected, "session never reconnected")
}

func TestNonSocketErrorKeepsPath(t *testing.T) {
	s, f, src := newTestSession(testSessionConfig())

	ft := connectTestSession(t, s, f)
	ft.lose(errors.New("pingresp not received, disconnecting"))

	cfg, err := src.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Path != "/mqtt" {
		t.Errorf("path after keepalive loss = %q, want /mqtt", cfg.Path)
	}
}

func TestPathCycleLatches(t *testing.T) {
	cfg := testSessionConfig()
	cfg.DisconnectGrace = 10000
	s, f, src := newTestSession(cfg)

	sockErr := errors.New("websocket: close 1006 (abnormal closure): unexpected EOF")

	connectTestSession(t, s, f)
	ft := f.transport(0)

	// Each brief connect drops before settling, so the rotation count
	// accumulates across the run.
	wantPaths := []string{"/", "", "/mqtt"}
	for _, want := range wantPaths {
		ft.lose(sockErr)
		got, _ := src.Resolve(context.Background())
		if got.Path != want {
			t.Fatalf("path after loss = %q, want %q", got.Path, want)
		}
		ft = f.awaitTransport(t)
	}

	// The cycle is exhausted; a further socket-closed loss must not
	// move the path again.
	ft.lose(sockErr)
	got, _ := src.Resolve(context.Background())
	if got.Path != "/mqtt" {
		t.Errorf("path after latched loss = %q, want /mqtt", got.Path)
	}

	// A full successful connect clears the latch.
	waitFor(t, 5*time.Second, s.Connected, "session never reconnected")
	s.mu.Lock()
	latched := s.pathLatched
	s.mu.Unlock()
	if latched {
		t.Error("path latch survived a successful connect")
	}
}
