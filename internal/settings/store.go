package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lumibot/lumibot-core/internal/infrastructure/config"
	"github.com/lumibot/lumibot-core/internal/session"
)

// Persisted setting keys. The names are part of the stored data format
// and must not change.
const (
	KeyBrokerHost = "LumiBot-BrokerIP"
	KeyBrokerPort = "LumiBot-BrokerPort"
	KeyBrokerPath = "LumiBot-BrokerPath"
	KeyBrokerTLS  = "LumiBot-BrokerTLS"
	KeyDevices    = "LumiBot-Devices"
)

// Store is the SQLite-backed key-value store. It also implements
// session.BrokerSource: Resolve reads the live broker parameters,
// falling back to the configured defaults for any key never written.
type Store struct {
	db       *sql.DB
	defaults config.Broker
}

// NewStore creates a settings store over an open database connection.
// defaults supplies the broker parameters used for keys that have no
// stored value yet.
func NewStore(db *sql.DB, defaults config.Broker) *Store {
	return &Store{db: db, defaults: defaults}
}

// Get retrieves the value stored under key.
// Returns ErrKeyNotFound if the key has never been written.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("querying setting %s: %w", key, err)
	}
	return value, nil
}

// Set writes value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

// Delete removes key from the store. Unknown keys are a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting setting %s: %w", key, err)
	}
	return nil
}

// Resolve assembles the live broker parameters for the next connect
// attempt. Each parameter is read independently: a stored value wins,
// an absent one falls back to the configured default. Reading happens
// on every call, so runtime writes take effect on the next connection.
func (s *Store) Resolve(ctx context.Context) (session.BrokerConfig, error) {
	broker := session.BrokerConfig{
		Host:     s.defaults.Host,
		Port:     s.defaults.Port,
		Path:     s.defaults.Path,
		TLS:      s.defaults.TLS,
		Username: s.defaults.Username,
		Password: s.defaults.Password,
	}

	if v, err := s.Get(ctx, KeyBrokerHost); err == nil {
		broker.Host = v
	} else if !errors.Is(err, ErrKeyNotFound) {
		return session.BrokerConfig{}, err
	}

	if v, err := s.Get(ctx, KeyBrokerPort); err == nil {
		port, convErr := strconv.Atoi(v)
		if convErr != nil {
			return session.BrokerConfig{}, fmt.Errorf("stored broker port %q: %w", v, convErr)
		}
		broker.Port = port
	} else if !errors.Is(err, ErrKeyNotFound) {
		return session.BrokerConfig{}, err
	}

	if v, err := s.Get(ctx, KeyBrokerPath); err == nil {
		broker.Path = v
	} else if !errors.Is(err, ErrKeyNotFound) {
		return session.BrokerConfig{}, err
	}

	if v, err := s.Get(ctx, KeyBrokerTLS); err == nil {
		broker.TLS = v == "true"
	} else if !errors.Is(err, ErrKeyNotFound) {
		return session.BrokerConfig{}, err
	}

	return broker, nil
}

// StorePath persists a new WebSocket path. The session calls this when
// cycling paths in response to repeated socket-closed disconnects; the
// new value is picked up by the next Resolve.
func (s *Store) StorePath(ctx context.Context, path string) error {
	return s.Set(ctx, KeyBrokerPath, path)
}

// Devices returns the device-list mirror: the ids last written by
// SetDevices, in stored order. An absent mirror is an empty list.
func (s *Store) Devices(ctx context.Context) ([]string, error) {
	raw, err := s.Get(ctx, KeyDevices)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decoding device-list mirror: %w", err)
	}
	return ids, nil
}

// SetDevices replaces the device-list mirror.
func (s *Store) SetDevices(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding device-list mirror: %w", err)
	}
	return s.Set(ctx, KeyDevices, string(raw))
}
