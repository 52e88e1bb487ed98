package influxdb

import (
	"context"
	"time"

	"github.com/nerrad567/rfid-bridge/internal/infrastructure/logging"
)

const defaultReportInterval = 30 * time.Second

// Sample is one measurement taken at report time.
type Sample struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
}

// Collector returns the current value of one measurement.
type Collector func() Sample

// PointWriter accepts timestamped points. Satisfied by *Client.
type PointWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time)
}

// Reporter samples its collectors on a fixed interval and writes each
// sample to a PointWriter.
type Reporter struct {
	writer     PointWriter
	interval   time.Duration
	collectors []Collector
	logger     *logging.Logger
}

// NewReporter creates a Reporter. intervalSeconds <= 0 uses 30s.
func NewReporter(writer PointWriter, intervalSeconds int, logger *logging.Logger, collectors ...Collector) *Reporter {
	interval := time.Duration(intervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultReportInterval
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reporter{
		writer:     writer,
		interval:   interval,
		collectors: collectors,
		logger:     logger,
	}
}

// Run reports until ctx is cancelled. A final report is written on the way
// out so the last counters are not lost at shutdown.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("telemetry reporter started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.Report(time.Now())
			r.logger.Debug("telemetry reporter stopped")
			return
		case t := <-ticker.C:
			r.Report(t)
		}
	}
}

// Report writes one point per collector, all stamped with at.
func (r *Reporter) Report(at time.Time) {
	for _, collect := range r.collectors {
		s := collect()
		if s.Measurement == "" {
			continue
		}
		r.writer.WritePointWithTime(s.Measurement, s.Tags, s.Fields, at)
	}
}
