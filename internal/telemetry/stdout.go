package telemetry

import "github.com/rjboer/pulseradar/internal/logging"

// StdoutReporter logs each RunStats sample through internal/logging.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger}
}

func (r StdoutReporter) Report(stats RunStats) {
	r.logger.Info("run stats",
		logging.Field{Key: "subsystem", Value: "telemetry"},
		logging.Field{Key: "pulses_scheduled", Value: stats.PulsesScheduled},
		logging.Field{Key: "pulses_received", Value: stats.PulsesReceived},
		logging.Field{Key: "error_count", Value: stats.ErrorCount},
		logging.Field{Key: "last_pulse_num_written", Value: stats.LastPulseNumWritten},
	)
}
