// Package history records device state changes as time-series points.
//
// The Recorder observes the session's state-update events and forwards
// numeric attributes to a Sink, normally the InfluxDB client. It is
// entirely optional: when the sink is disabled the recorder is simply
// never attached, and the session runs unchanged.
package history
