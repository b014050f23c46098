package session

import (
	"context"
	"testing"
)

// =============================================================================
// Broker Source Tests
// =============================================================================

func TestBrokerConfigURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  BrokerConfig
		want string
	}{
		{
			name: "tls with path",
			cfg:  BrokerConfig{Host: "broker.test", Port: 443, Path: "/mqtt", TLS: true},
			want: "wss://broker.test:443/mqtt",
		},
		{
			name: "plain with root path",
			cfg:  BrokerConfig{Host: "127.0.0.1", Port: 9001, Path: "/", TLS: false},
			want: "ws://127.0.0.1:9001/",
		},
		{
			name: "empty path",
			cfg:  BrokerConfig{Host: "broker.test", Port: 443, Path: "", TLS: true},
			want: "wss://broker.test:443",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.URL(); got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNextPath(t *testing.T) {
	tests := []struct {
		current string
		want    string
	}{
		{current: "/mqtt", want: "/"},
		{current: "/", want: ""},
		{current: "", want: "/mqtt"},
		{current: "/custom", want: "/mqtt"},
	}

	for _, tt := range tests {
		if got := nextPath(tt.current); got != tt.want {
			t.Errorf("nextPath(%q) = %q, want %q", tt.current, got, tt.want)
		}
	}
}

func TestStaticSourceStorePath(t *testing.T) {
	src := NewStaticSource(BrokerConfig{Host: "broker.test", Port: 443, Path: "/mqtt", TLS: true})

	if err := src.StorePath(context.Background(), "/"); err != nil {
		t.Fatalf("StorePath() error = %v", err)
	}

	cfg, err := src.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Path != "/" {
		t.Errorf("Path = %q, want /", cfg.Path)
	}
}
