// Package influxdb provides the InfluxDB v2 client for the optional
// device state-history sink.
//
// Writes are non-blocking: points are batched in memory and flushed on
// an interval, so a slow or unreachable InfluxDB never stalls the MQTT
// session. Asynchronous write failures surface through an error
// callback rather than return values.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history recording is off; carry on without it
//	}
//	client.WriteStatePoint("A1B2", map[string]float64{"brightness": 80}, time.Now())
package influxdb
