package history

import (
	"sync"
	"time"

	"github.com/lumibot/lumibot-core/internal/session"
)

// Sink receives the points the recorder produces. The InfluxDB client
// implements it; tests substitute an in-memory fake.
type Sink interface {
	WriteStatePoint(deviceID string, fields map[string]float64, ts time.Time)
	WriteAvailabilityPoint(deviceID string, online bool, ts time.Time)
}

// Recorder turns the session's state updates into time-series points.
//
// Numeric attributes are written as-is and booleans as 0/1; string and
// structured attributes are skipped, since the sink stores numeric
// series only. Reachability is written separately, and only on
// transition, so the availability series records edges rather than a
// point per frame.
type Recorder struct {
	sink Sink

	mu     sync.Mutex
	online map[string]bool
}

// NewRecorder creates a recorder writing to sink.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{
		sink:   sink,
		online: make(map[string]bool),
	}
}

// Attach registers the recorder with the session's state-update event.
// The returned handle can be passed to RemoveCallback to detach.
func (r *Recorder) Attach(s *session.Session) session.Handle {
	return s.OnStateUpdate(r.record)
}

func (r *Recorder) record(deviceID string, state session.DeviceState) {
	now := time.Now()

	fields := numericFields(state)
	if len(fields) > 0 {
		r.sink.WriteStatePoint(deviceID, fields, now)
	}

	online := state.Online()
	r.mu.Lock()
	prev, seen := r.online[deviceID]
	r.online[deviceID] = online
	r.mu.Unlock()

	if !seen || prev != online {
		r.sink.WriteAvailabilityPoint(deviceID, online, now)
	}
}

// numericFields extracts the attributes the sink can store. The derived
// reachability attribute is excluded; it feeds the availability series.
func numericFields(state session.DeviceState) map[string]float64 {
	fields := make(map[string]float64)
	for k, v := range state {
		if k == session.OnlineKey {
			continue
		}
		switch n := v.(type) {
		case float64:
			fields[k] = n
		case int:
			fields[k] = float64(n)
		case bool:
			if n {
				fields[k] = 1
			} else {
				fields[k] = 0
			}
		}
	}
	return fields
}
