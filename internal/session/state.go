package session

// OnlineKey is the derived attribute recording device reachability.
// It is never absent once a cache entry exists.
const OnlineKey = "_online"

// DeviceState is the merged per-device attribute map. Attributes are
// free-form JSON fields delivered on the state topic, plus the derived
// OnlineKey boolean.
type DeviceState map[string]any

// Online reports whether the device is currently considered reachable.
func (s DeviceState) Online() bool {
	v, ok := s[OnlineKey].(bool)
	return ok && v
}

// clone returns a shallow copy so callers can never mutate the cache.
func (s DeviceState) clone() DeviceState {
	cpy := make(DeviceState, len(s))
	for k, v := range s {
		cpy[k] = v
	}
	return cpy
}

// newDeviceState returns the initial entry for a device that has just
// produced its first frame.
func newDeviceState() DeviceState {
	return DeviceState{OnlineKey: false}
}
