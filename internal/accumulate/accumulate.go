// Package accumulate implements C6: the RX accumulator that pulls
// received buffers, de-dithers and coherently sums them, flushes
// completed sums to disk, and tracks the error accounting the
// scheduler's time-shift recovery depends on. Grounded literally on
// the main RX loop in the original uhd_radar main().
package accumulate

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
	"github.com/rjboer/pulseradar/internal/telemetry"
	"github.com/rjboer/pulseradar/internal/writer"
)

const recvTimeout = 60 * time.Second

// Summary is the final totals C7 prints on exit.
type Summary struct {
	ErrorCount          int64
	LastPulseNumWritten int64
	PulsesReceived      int64
}

// Run drives the RX loop until last_pulse_num_written reaches
// chirp.NumPulses (for a non-negative target) or stop is observed. It
// owns out and the running sum exclusively.
func Run(ctx context.Context, dev radio.Device, gen *phase.Generator, chirp params.ChirpParams, numRxSamps int, out *writer.Writer, state *runstate.State, reporter telemetry.Reporter, log logging.Logger) Summary {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	osprio.Elevate(log)

	if log == nil {
		log = logging.Default()
	}

	sum := make([]complex64, numRxSamps)
	scratch := make([]complex64, numRxSamps)

	for chirp.NumPulses < 0 || state.LastPulseNumWritten() < chirp.NumPulses {
		n, meta, err := dev.RecvRX(ctx, scratch, numRxSamps, recvTimeout)
		if err != nil {
			log.Error("recv_rx failed", logging.Field{Key: "err", Value: err.Error()})
		}

		var invPhase float64
		if chirp.PhaseDither {
			// Drawn unconditionally, even on errors, to keep the TX
			// and RX sequences aligned across failures.
			invPhase = -gen.Next(phase.RX)
		}

		switch {
		case meta.Code != radio.OK:
			pulsesReceived := state.IncPulsesReceived()
			state.AddErrorCount(1)
			out.Marker(fmt.Sprintf("[ERROR] (Chirp %d) Receiver error: %s", pulsesReceived, meta.Code.String()))
			log.Error("receiver error",
				logging.Field{Key: "chirp", Value: pulsesReceived},
				logging.Field{Key: "code", Value: meta.Code.String()},
			)
		case n != numRxSamps:
			pulsesReceived := state.IncPulsesReceived()
			state.AddErrorCount(1)
			out.Marker(fmt.Sprintf("[ERROR] (Chirp %d) Receiver error: got %d samples, want %d", pulsesReceived, n, numRxSamps))
			log.Error("unexpected number of samples in rx buffer",
				logging.Field{Key: "chirp", Value: pulsesReceived},
				logging.Field{Key: "got", Value: n},
				logging.Field{Key: "want", Value: numRxSamps},
			)
		default:
			state.IncPulsesReceived()
			if chirp.PhaseDither {
				rot := complex64(cmplx.Exp(complex(0, invPhase))) / complex64(complex(float64(chirp.NumPresums), 0))
				for i := range scratch {
					scratch[i] *= rot
				}
			} else if chirp.NumPresums != 1 {
				scale := complex64(complex(1/float64(chirp.NumPresums), 0))
				for i := range scratch {
					scratch[i] *= scale
				}
			}
			for i := range sum {
				sum[i] += scratch[i]
			}
		}

		good := state.PulsesReceived() - state.ErrorCount()
		if good > state.LastPulseNumWritten() && good%int64(chirp.NumPresums) == 0 {
			if err := out.WriteSum(sum, good); err != nil {
				log.Error("cannot write to outfile, aborting", logging.Field{Key: "err", Value: err.Error()})
				return summaryFrom(state)
			}
			for i := range sum {
				sum[i] = 0
			}
			state.SetLastPulseNumWritten(good)

			if reporter != nil {
				reporter.Report(telemetry.RunStats{
					PulsesScheduled:     state.PulsesScheduled(),
					PulsesReceived:      state.PulsesReceived(),
					ErrorCount:          state.ErrorCount(),
					LastPulseNumWritten: state.LastPulseNumWritten(),
					Timestamp:           time.Now(),
				})
			}
		}

		if state.StopRequested() {
			log.Info("stop signal observed, accumulator exiting")
			break
		}
	}

	_ = out.Close()
	return summaryFrom(state)
}

func summaryFrom(state *runstate.State) Summary {
	return Summary{
		ErrorCount:          state.ErrorCount(),
		LastPulseNumWritten: state.LastPulseNumWritten(),
		PulsesReceived:      state.PulsesReceived(),
	}
}
