// Package scheduler implements C5: the TX scheduler that keeps the
// radio's TX/RX command queue fed ahead of real time, throttled by a
// look-ahead window against the RX side, and recovers from errors by
// shifting the schedule forward. Grounded literally on
// transmit_worker in the original uhd_radar main loop.
package scheduler

import (
	"context"
	"fmt"
	"math/cmplx"
	"runtime"
	"time"

	"github.com/rjboer/pulseradar/internal/logging"
	"github.com/rjboer/pulseradar/internal/osprio"
	"github.com/rjboer/pulseradar/internal/params"
	"github.com/rjboer/pulseradar/internal/phase"
	"github.com/rjboer/pulseradar/internal/radio"
	"github.com/rjboer/pulseradar/internal/runstate"
)

// lookAhead (K) is how many pulses the scheduler may run ahead of
// pulses_received before it waits; each pulse queues two radio
// commands (TX + RX).
const lookAhead = 6

// sendTimeout bounds each SendTX call and is generous; the
// steady-state cadence comes from PulseRepInt, not from this bound.
const sendTimeout = 60 * time.Second

// Run drives the TX loop until num_pulses-many pulses have been
// scheduled (net of errors) or stop is observed. It owns waveform and
// must not be called concurrently with another Run sharing the same
// state. waveform must already be exactly numTxSamps long (the length
// the radio's TX stream buffer was dialed with) — waveform.Load
// enforces this at load time, but Run checks again rather than trust
// a mis-sized buffer silently desyncing TX from the dialed device.
func Run(ctx context.Context, dev radio.Device, gen *phase.Generator, waveform []complex64, chirp params.ChirpParams, device params.DeviceParams, numTxSamps, numRxSamps int, state *runstate.State, log logging.Logger) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	osprio.Elevate(log)

	if log == nil {
		log = logging.Default()
	}

	if len(waveform) != numTxSamps {
		return fmt.Errorf("scheduler: waveform has %d samples, want num_tx_samps=%d", len(waveform), numTxSamps)
	}

	txBuf := make([]complex64, numTxSamps)
	lastErrorCount := int64(0)

	for chirp.NumPulses < 0 || (state.PulsesScheduled()-state.ErrorCount()) < chirp.NumPulses {
		if chirp.PhaseDither {
			phi := gen.Next(phase.TX)
			rot := complex64(cmplx.Exp(complex(0, phi)))
			for i, s := range waveform {
				txBuf[i] = s * rot
			}
		} else {
			copy(txBuf, waveform)
		}

		for (state.PulsesScheduled()-lookAhead) > state.PulsesReceived() {
			if state.StopRequested() {
				log.Info("stop signal observed while waiting on look-ahead window")
				break
			}
			time.Sleep(10 * time.Nanosecond)
		}

		errorCount := state.ErrorCount()
		if errorCount > lastErrorCount {
			delay := float64(errorCount-lastErrorCount) * 2 * chirp.PulseRepInt
			chirp.TimeOffset += delay
			log.Info("time_offset increased", logging.Field{Key: "chirp", Value: state.PulsesScheduled()}, logging.Field{Key: "delay_s", Value: delay})
			lastErrorCount = errorCount
		}

		rxTime := chirp.TimeOffset + chirp.PulseRepInt*float64(state.PulsesScheduled())
		txTime := epochToTime(rxTime - chirp.TxLead)
		rxStart := epochToTime(rxTime)

		if device.Transmit {
			if _, err := dev.SendTX(ctx, txBuf, txTime, sendTimeout); err != nil {
				log.Warn("tx send error", logging.Field{Key: "chirp", Value: state.PulsesScheduled()}, logging.Field{Key: "err", Value: err.Error()})
			}
		}

		if err := dev.IssueRX(ctx, rxStart, numRxSamps); err != nil {
			log.Warn("issue rx error", logging.Field{Key: "chirp", Value: state.PulsesScheduled()}, logging.Field{Key: "err", Value: err.Error()})
		}

		state.IncPulsesScheduled()

		if state.StopRequested() {
			log.Info("stop signal observed, scheduler exiting")
			break
		}
	}

	return nil
}

// epochToTime interprets a chirp-relative time_offset value (seconds
// since the radio's epoch, already promoted to an absolute value by
// C7 adding the radio's current time at startup) as a wall-clock
// time.Time.
func epochToTime(seconds float64) time.Time {
	return time.Unix(0, int64(seconds*float64(time.Second)))
}
