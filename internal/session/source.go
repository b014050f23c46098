package session

import (
	"context"
	"fmt"
	"sync"
)

// BrokerConfig is one resolved set of broker connection parameters.
type BrokerConfig struct {
	Host     string
	Port     int
	Path     string
	TLS      bool
	Username string
	Password string
}

// URL renders the WebSocket contact point for the broker.
//
// Example: wss://broker.example.com:443/mqtt
func (b BrokerConfig) URL() string {
	scheme := "ws"
	if b.TLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, b.Host, b.Port, b.Path)
}

// BrokerSource supplies broker parameters to the session. Resolve is
// called on every connect attempt, so a value changed in the backing
// store takes effect on the next connection without a restart.
//
// StorePath persists a new WebSocket path; the session calls it when
// cycling paths in response to repeated socket-closed disconnects.
type BrokerSource interface {
	Resolve(ctx context.Context) (BrokerConfig, error)
	StorePath(ctx context.Context, path string) error
}

// pathCycle is the ordered list of candidate WebSocket paths tried in
// response to repeated socket-closed errors. Public reverse proxies
// differ on where they mount the MQTT endpoint.
var pathCycle = []string{"/mqtt", "/", ""}

// nextPath returns the path following current in the cycle. Unknown
// paths restart the cycle from the beginning.
func nextPath(current string) string {
	for i, p := range pathCycle {
		if p == current {
			return pathCycle[(i+1)%len(pathCycle)]
		}
	}
	return pathCycle[0]
}

// StaticSource is a BrokerSource backed by an in-memory value. Used in
// tests and by hosts that manage broker parameters themselves.
type StaticSource struct {
	mu  sync.Mutex
	cfg BrokerConfig
}

// NewStaticSource returns a StaticSource seeded with cfg.
func NewStaticSource(cfg BrokerConfig) *StaticSource {
	return &StaticSource{cfg: cfg}
}

// Resolve returns the current parameters.
func (s *StaticSource) Resolve(context.Context) (BrokerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, nil
}

// StorePath records a new WebSocket path.
func (s *StaticSource) StorePath(_ context.Context, path string) error {
	s.mu.Lock()
	s.cfg.Path = path
	s.mu.Unlock()
	return nil
}
