package device

import (
	"context"
	"fmt"

	"github.com/lumibot/lumibot-core/internal/session"
)

// Mirror receives the full device-id list after every registry change.
// The settings store implements it: the mirror is what lets a fresh
// process recover its subscription set without walking the registry.
type Mirror interface {
	SetDevices(ctx context.Context, ids []string) error
}

// Subscriber is the slice of the session the registry drives: adding a
// device subscribes its topics, removing it unsubscribes them.
type Subscriber interface {
	SubscribeDevice(deviceID string) error
	UnsubscribeDevice(deviceID string) error
}

// Registry manages one user's device list. Every mutation validates and
// canonicalises the device id, persists the change, refreshes the
// device-list mirror, and keeps the live session's subscriptions in
// step.
type Registry struct {
	repo   Repository
	mirror Mirror
	subs   Subscriber
	userID string
	log    Logger
}

// Logger defines the logging interface used by the registry.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// NewRegistry creates a registry for one user. mirror and subs may be
// nil when no settings mirror or live session is attached.
func NewRegistry(repo Repository, mirror Mirror, subs Subscriber, userID string) *Registry {
	return &Registry{
		repo:   repo,
		mirror: mirror,
		subs:   subs,
		userID: userID,
		log:    noopLogger{},
	}
}

// SetLogger sets the registry logger.
func (g *Registry) SetLogger(log Logger) {
	if log != nil {
		g.log = log
	}
}

// List returns the user's devices in registration order.
func (g *Registry) List(ctx context.Context) ([]Device, error) {
	return g.repo.List(ctx, g.userID)
}

// Has reports whether the user has the device. Invalid ids are simply
// absent.
func (g *Registry) Has(ctx context.Context, rawID string) (bool, error) {
	id, err := session.NormalizeDeviceID(rawID)
	if err != nil {
		return false, nil
	}
	return g.repo.Exists(ctx, g.userID, id)
}

// Add registers a device, refreshes the mirror, and subscribes the live
// session to its topics.
//
// Returns:
//   - session.ErrInvalidDeviceID if rawID does not canonicalise
//   - ErrDeviceExists if the user already has the device
func (g *Registry) Add(ctx context.Context, rawID, name string) (Device, error) {
	id, err := session.NormalizeDeviceID(rawID)
	if err != nil {
		return Device{}, err
	}

	d := Device{UserID: g.userID, ID: id, Name: name}
	if err := g.repo.Create(ctx, &d); err != nil {
		return Device{}, err
	}
	g.log.Info("device added", "device_id", id, "name", name)

	if err := g.refreshMirror(ctx); err != nil {
		g.log.Warn("device-list mirror refresh failed", "error", err)
	}
	if g.subs != nil {
		if err := g.subs.SubscribeDevice(id); err != nil {
			g.log.Warn("subscribing new device failed", "device_id", id, "error", err)
		}
	}
	return d, nil
}

// Remove deletes a device, refreshes the mirror, and unsubscribes its
// topics. Reports whether the device was present; removing an absent or
// invalid id is not an error.
func (g *Registry) Remove(ctx context.Context, rawID string) (bool, error) {
	id, err := session.NormalizeDeviceID(rawID)
	if err != nil {
		return false, nil
	}

	removed, err := g.repo.Delete(ctx, g.userID, id)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	g.log.Info("device removed", "device_id", id)

	if err := g.refreshMirror(ctx); err != nil {
		g.log.Warn("device-list mirror refresh failed", "error", err)
	}
	if g.subs != nil {
		if err := g.subs.UnsubscribeDevice(id); err != nil {
			g.log.Warn("unsubscribing removed device failed", "device_id", id, "error", err)
		}
	}
	return true, nil
}

// Rename changes a device's display name. The mirror holds ids only, so
// no refresh is needed.
func (g *Registry) Rename(ctx context.Context, rawID, name string) error {
	id, err := session.NormalizeDeviceID(rawID)
	if err != nil {
		return err
	}
	return g.repo.Rename(ctx, g.userID, id, name)
}

// Restore replays the registry into the live session: every stored
// device gets its subscriptions registered. Called once at startup,
// before the first connect, so the post-connect replay covers the whole
// list.
func (g *Registry) Restore(ctx context.Context) error {
	devices, err := g.repo.List(ctx, g.userID)
	if err != nil {
		return fmt.Errorf("restoring device registry: %w", err)
	}

	for _, d := range devices {
		if g.subs == nil {
			continue
		}
		if err := g.subs.SubscribeDevice(d.ID); err != nil {
			g.log.Warn("restoring device subscription failed", "device_id", d.ID, "error", err)
		}
	}
	g.log.Info("device registry restored", "count", len(devices))
	return nil
}

// refreshMirror rewrites the device-list mirror from the registry.
func (g *Registry) refreshMirror(ctx context.Context) error {
	if g.mirror == nil {
		return nil
	}
	devices, err := g.repo.List(ctx, g.userID)
	if err != nil {
		return err
	}
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	return g.mirror.SetDevices(ctx, ids)
}
