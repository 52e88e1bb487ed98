package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint writes a point stamped with the current time.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WritePoint("bridge",
//	    map[string]string{"team_id": "its_ace"},
//	    map[string]any{"messages_forwarded": 120})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with a specific timestamp.
// Points with no fields are dropped; line protocol cannot represent them.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
