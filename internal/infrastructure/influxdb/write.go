package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementControllerEvents = "controller_events"
	MeasurementMastership       = "mastership"
)

// WriteControllerEvent records one dispatched subscription event.
//
// Every event writes an integer "events" field of 1 so counts can be summed.
// Event fields that parse as numbers or booleans are written as fields of
// their own; text fields are dropped, since they belong in the journal.
//
// Example:
//
//	client.WriteControllerEvent("/rw/iosystem/signals/DO1;state",
//	    map[string]string{"lvalue": "1"}, 1, time.Now())
func (c *Client) WriteControllerEvent(resource string, fields map[string]string, subscribers int, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementControllerEvents,
		map[string]string{"resource": resource},
		eventFields(fields, subscribers),
		ts,
	))
}

// WriteMastership records a mastership transition and the resulting holder count.
func (c *Client) WriteMastership(kind, transition string, holders int, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementMastership,
		map[string]string{"kind": kind, "transition": transition},
		map[string]any{"holders": holders},
		ts,
	))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

func eventFields(fields map[string]string, subscribers int) map[string]any {
	out := map[string]any{
		"events":      1,
		"subscribers": subscribers,
	}
	for k, v := range fields {
		if k == "events" || k == "subscribers" {
			continue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
		}
	}
	return out
}
