// Package radio implements C2 and its concrete adapters: the radio
// device contract both the TX scheduler and RX accumulator drive, a
// synthetic Mock used by tests, an IIOD-backed adapter for a real
// libiio network daemon, and a setup-time-only GPIO amplifier gate.
package radio

import (
	"context"
	"time"
)

// ErrorCode classifies a RecvRX outcome. OK means the requested number
// of samples arrived with no transport complaint.
type ErrorCode int

const (
	OK ErrorCode = iota
	ErrorTimeout
	ErrorOverflow
	ErrorLateCommand
	ErrorOther
)

func (c ErrorCode) String() string {
	switch c {
	case OK:
		return "OK"
	case ErrorTimeout:
		return "timeout"
	case ErrorOverflow:
		return "overflow"
	case ErrorLateCommand:
		return "late command"
	case ErrorOther:
		return "other"
	default:
		return "unknown"
	}
}

// EpochSeconds converts a wall-clock time.Time to the seconds-since-
// epoch representation ChirpParams.TimeOffset and the scheduler's
// per-pulse rx_time are expressed in.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Metadata accompanies a RecvRX call's returned samples.
type Metadata struct {
	Code      ErrorCode
	Timestamp time.Time
}

// Device is the radio abstraction C5 and C6 drive. Only the fc32
// (complex64) CPU sample format is supported; callers reject any
// other format before starting either worker. The interface carries a
// single sample stream: channel selection happens only when an adapter
// is built (DialIIOD's channelMask), and the pipeline only ever drives
// channel 0.
type Device interface {
	// Now returns the radio's wall-clock time base.
	Now(ctx context.Context) (time.Time, error)

	// SendTX transmits buf starting at startTime, returning the number
	// of samples actually accepted by the transport.
	SendTX(ctx context.Context, buf []complex64, startTime time.Time, timeout time.Duration) (int, error)

	// IssueRX schedules a one-shot receive of exactly numSamps samples
	// starting at startTime.
	IssueRX(ctx context.Context, startTime time.Time, numSamps int) error

	// RecvRX blocks (bounded by timeout) for the next scheduled receive
	// and copies up to len(buf) samples into buf.
	RecvRX(ctx context.Context, buf []complex64, numSamps int, timeout time.Duration) (int, Metadata, error)
}
