package warmgo

import "time"

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordSave is called after every shutdown-time save pass.
	// pages is the number of resident pages recorded, files the number of
	// save-files written; err is nil on success.
	RecordSave(pages, files int, duration time.Duration, err error)

	// RecordReplay is called after every replay worker finishes.
	// restored is the number of blocks actually fetched.
	RecordReplay(id int, restored uint32, duration time.Duration, err error)

	// RecordDispatch is called after every worker dispatch attempt.
	RecordDispatch(id int, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSave(int, int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordReplay(int, uint32, time.Duration, error) {}
func (NoopMetricsCollector) RecordDispatch(int, error)                      {}
