// Package influxdb provides the optional telemetry sink for the RFID bridge.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring, and adds a
// Reporter that periodically samples bridge and session counters.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	reporter := influxdb.NewReporter(client, cfg.InfluxDB.ReportInterval, log,
//	    func() influxdb.Sample { ... })
//	go reporter.Run(ctx)
//
// # Error Handling
//
// Write errors are delivered asynchronously through SetOnError, wrapped in
// ErrWriteFailed. Connection and health check errors are returned directly.
package influxdb
