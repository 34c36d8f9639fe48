// Package influxdb writes controller metrics to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Two measurements are
// written:
//   - controller_events: one point per dispatched subscription event, tagged
//     by resource, with the numeric and boolean event fields
//   - mastership: one point per lock transition, tagged by kind and transition
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteMastership("motion", "acquired", 1, time.Now())
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; failures are reported through SetOnError.
package influxdb
