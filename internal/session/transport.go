package session

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTT protocol version constants as used on the wire and by the
// underlying client library.
const (
	// ProtocolV31 is MQTT 3.1.
	ProtocolV31 uint = 3

	// ProtocolV311 is MQTT 3.1.1, the preferred version.
	ProtocolV311 uint = 4
)

// transportDisconnectQuiesce is the time in milliseconds granted to
// in-flight operations when tearing down the transport.
const transportDisconnectQuiesce = 250

// TransportConfig carries everything needed to build one transport
// instance. A fresh instance is built for every connect attempt.
type TransportConfig struct {
	BrokerURL       string
	ClientID        string
	Username        string
	Password        string
	ProtocolVersion uint
	KeepAlive       time.Duration
	ConnectTimeout  time.Duration
}

// Transport is the session's view of the MQTT client library. The
// session owns exactly one instance at a time and is the only component
// that mutates it.
//
// All inbound frames are delivered to the single message handler given
// at construction, regardless of which subscription matched. Overlapping
// subscriptions (the discovery wildcard plus a per-device topic) must
// deliver a frame exactly once.
type Transport interface {
	// Connect blocks until the broker accepts the connection or the
	// configured timeout elapses.
	Connect() error

	// Disconnect tears the connection down, allowing quiesce
	// milliseconds for in-flight operations.
	Disconnect(quiesce uint)

	// IsConnected reports the transport's own view of the connection.
	IsConnected() bool

	// Subscribe issues a broker-side subscription at the given QoS.
	Subscribe(topic string, qos byte) error

	// Unsubscribe removes broker-side subscriptions for the topics.
	Unsubscribe(topics ...string) error

	// Publish sends one message.
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// TransportFactory builds a Transport for one connect attempt.
// onMessage receives every inbound frame; onLost is invoked when an
// established connection drops unexpectedly.
//
// Session tests substitute a fake here; production uses NewPahoTransport.
type TransportFactory func(cfg TransportConfig, onMessage func(topic string, payload []byte), onLost func(error)) Transport

// pahoTransport adapts paho.mqtt.golang to the Transport interface.
//
// Auto-reconnect is deliberately disabled: the session implements its
// own reconnect loop with backoff, path cycling, and protocol-version
// fallback, and the library's built-in loop would fight it.
type pahoTransport struct {
	client  pahomqtt.Client
	timeout time.Duration
}

// NewPahoTransport builds the production transport over secure
// WebSockets.
func NewPahoTransport(cfg TransportConfig, onMessage func(string, []byte), onLost func(error)) Transport {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetProtocolVersion(cfg.ProtocolVersion)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Clean session: the broker discards prior subscription and queue
	// state for this client id. The session replays its own registry.
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetResumeSubs(false)

	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetOrderMatters(true)

	if strings.HasPrefix(cfg.BrokerURL, "wss://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	// Subscriptions are issued without per-route callbacks, so every
	// inbound frame funnels through the default handler exactly once
	// even when the discovery wildcard overlaps a per-device topic.
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		onMessage(msg.Topic(), msg.Payload())
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		onLost(err)
	})

	return &pahoTransport{
		client:  pahomqtt.NewClient(opts),
		timeout: cfg.ConnectTimeout,
	}
}

func (t *pahoTransport) Connect() error {
	token := t.client.Connect()
	if !token.WaitTimeout(t.timeout) {
		return errors.New("connect timeout")
	}
	return token.Error()
}

func (t *pahoTransport) Disconnect(quiesce uint) {
	t.client.Disconnect(quiesce)
}

func (t *pahoTransport) IsConnected() bool {
	return t.client.IsConnected()
}

func (t *pahoTransport) Subscribe(topic string, qos byte) error {
	token := t.client.Subscribe(topic, qos, nil)
	if !token.WaitTimeout(t.timeout) {
		return errors.New("subscribe timeout")
	}
	return token.Error()
}

func (t *pahoTransport) Unsubscribe(topics ...string) error {
	token := t.client.Unsubscribe(topics...)
	if !token.WaitTimeout(t.timeout) {
		return errors.New("unsubscribe timeout")
	}
	return token.Error()
}

func (t *pahoTransport) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := t.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(t.timeout) {
		return errors.New("publish timeout")
	}
	return token.Error()
}

// lostReason classifies why an established connection dropped.
type lostReason int

const (
	// reasonUnknown covers keepalive timeouts, protocol errors, and
	// anything else the transport reports without detail.
	reasonUnknown lostReason = iota

	// reasonSocketClosed is the tunnelled-WebSocket signature: the
	// proxy closed the socket without a protocol-level cause. This is
	// the trigger for WebSocket-path cycling.
	reasonSocketClosed
)

// classifyLost maps a connection-lost error to a lostReason.
func classifyLost(err error) lostReason {
	if err == nil {
		return reasonUnknown
	}

	if errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return reasonSocketClosed
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "websocket: close"),
		strings.Contains(msg, "use of closed network connection"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"):
		return reasonSocketClosed
	}

	return reasonUnknown
}
