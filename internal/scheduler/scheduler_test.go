package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rjboer/pulseradar/internal/params"
	"github.com/rjboer/pulseradar/internal/phase"
	"github.com/rjboer/pulseradar/internal/radio"
	"github.com/rjboer/pulseradar/internal/runstate"
)

// recordingDevice wraps a Mock to capture every TX time handed to
// SendTX, so a test can observe the time_offset shift the scheduler
// applies on its own without needing a real RX consumer.
type recordingDevice struct {
	*radio.Mock
	sendTimes []time.Time
}

func (d *recordingDevice) SendTX(ctx context.Context, buf []complex64, txTime time.Time, timeout time.Duration) (int, error) {
	d.sendTimes = append(d.sendTimes, txTime)
	return d.Mock.SendTX(ctx, buf, txTime, timeout)
}

// TestRunShiftsTimeOffsetOnceForPriorErrors exercises spec.md §8
// scenario 4: an error folded into error_count before a pulse is
// scheduled must shift time_offset by exactly 2*pulse_rep_int, once,
// not repeatedly for as long as error_count stays elevated.
func TestRunShiftsTimeOffsetOnceForPriorErrors(t *testing.T) {
	dev := &recordingDevice{Mock: radio.NewMock()}
	state := runstate.New()
	state.AddErrorCount(1)

	gen := phase.New(1)
	waveform := []complex64{1, 1}
	chirp := params.ChirpParams{PulseRepInt: 1, NumPresums: 1, NumPulses: 1}
	device := params.DeviceParams{Transmit: true}

	if err := Run(context.Background(), dev, gen, waveform, chirp, device, len(waveform), len(waveform), state, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(dev.sendTimes) != 2 {
		t.Fatalf("got %d TX sends, want 2", len(dev.sendTimes))
	}

	want0 := epochToTime(2 * chirp.PulseRepInt)
	want1 := epochToTime(3 * chirp.PulseRepInt)
	if !dev.sendTimes[0].Equal(want0) {
		t.Errorf("first tx time = %v, want %v (time_offset shifted by 2*pulse_rep_int)", dev.sendTimes[0], want0)
	}
	if !dev.sendTimes[1].Equal(want1) {
		t.Errorf("second tx time = %v, want %v (no further shift once error_count stops growing)", dev.sendTimes[1], want1)
	}
}

// TestRunStopsPromptlyAndBoundsScheduleAheadOfReceive exercises spec.md
// §8 scenario 6: raising the stop signal partway through a long run
// must terminate the scheduler promptly, with pulses_scheduled never
// running away far ahead of pulses_received (bounded by the look-ahead
// window, K=6).
func TestRunStopsPromptlyAndBoundsScheduleAheadOfReceive(t *testing.T) {
	dev := radio.NewMock()
	state := runstate.New()
	gen := phase.New(1)
	waveform := []complex64{1, 1}
	chirp := params.ChirpParams{PulseRepInt: 0, NumPresums: 1, NumPulses: 1000}
	device := params.DeviceParams{Transmit: true}
	numSamps := len(waveform)

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), dev, gen, waveform, chirp, device, numSamps, numSamps, state, nil)
	}()

	buf := make([]complex64, numSamps)
	for state.PulsesReceived() < 50 {
		if _, _, err := dev.RecvRX(context.Background(), buf, numSamps, time.Second); err != nil {
			t.Fatalf("recv_rx: %v", err)
		}
		state.IncPulsesReceived()
	}
	state.RequestStop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after stop signal")
	}

	if got := state.PulsesReceived(); got != 50 {
		t.Fatalf("pulses_received = %d, want 50", got)
	}
	if sched := state.PulsesScheduled(); sched > 50+lookAhead+4 {
		t.Fatalf("pulses_scheduled = %d, want <= %d (look-ahead bound)", sched, 50+lookAhead+4)
	}
}
