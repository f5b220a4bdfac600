// Package telemetry fans out run statistics sampled once per flush to
// zero or more reporters. Grounded on the teacher's hub/reporter
// shape (internal/telemetry/hub.go, stdout.go) but rewritten around
// pulse/error/flush counts instead of monopulse angle/peak.
package telemetry

import "time"

// RunStats is an immutable snapshot of RunState's counters, taken
// after a flush. It never feeds back into the pipeline.
type RunStats struct {
	PulsesScheduled     int64
	PulsesReceived      int64
	ErrorCount          int64
	LastPulseNumWritten int64
	Timestamp           time.Time
}
