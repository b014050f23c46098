package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteStatePoint records numeric device attributes at ts.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Attributes are tagged by device id under the device_state measurement.
//
// Example:
//
//	client.WriteStatePoint("A1B2", map[string]float64{"brightness": 80}, time.Now())
func (c *Client) WriteStatePoint(deviceID string, fields map[string]float64, ts time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"device_id": deviceID,
		},
		values,
		ts,
	)

	c.writeAPI.WritePoint(point)
}

// WriteAvailabilityPoint records a reachability transition at ts.
func (c *Client) WriteAvailabilityPoint(deviceID string, online bool, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	value := 0.0
	if online {
		value = 1.0
	}

	point := write.NewPoint(
		"device_availability",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"online": value,
		},
		ts,
	)

	c.writeAPI.WritePoint(point)
}
