package radio

import (
	"context"
	"fmt"
	"time"

	"github.com/rjboer/pulseradar/iiod"
)

// IIOD adapts the libiio network daemon protocol to the Device
// contract. Unlike UHD/USRP, IIOD has no hardware command queue with
// absolute-time TX/RX scheduling, so SendTX and IssueRX emulate it by
// blocking locally until the requested wall-clock time. SendTX then
// writes the TX buffer immediately; IssueRX issues nothing, and the RX
// buffer read happens when RecvRX is called. This is a deliberate, documented
// simplification of the hardware abstraction spec.md leaves as an
// interface only; the contract callers see (timestamps in, timestamp
// and error code out) is unchanged.
type IIOD struct {
	client *iiod.Client
	txBuf  *iiod.Buffer
	rxBuf  *iiod.Buffer
}

// DialIIOD connects to addr and opens streaming TX/RX buffers of the
// given sample counts on txDevice/rxDevice. channelMask selects which
// device channels to enable (bit 0 = channel 0).
func DialIIOD(ctx context.Context, addr, txDevice, rxDevice string, numTxSamps, numRxSamps int, channelMask uint8) (*IIOD, error) {
	client, err := iiod.DialWithContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("radio: dial iiod %s: %w", addr, err)
	}

	txBuf, err := client.CreateStreamBuffer(txDevice, numTxSamps, channelMask)
	if err != nil {
		return nil, fmt.Errorf("radio: open tx stream on %s: %w", txDevice, err)
	}
	rxBuf, err := client.CreateStreamBuffer(rxDevice, numRxSamps, channelMask)
	if err != nil {
		txBuf.Close()
		return nil, fmt.Errorf("radio: open rx stream on %s: %w", rxDevice, err)
	}

	return &IIOD{client: client, txBuf: txBuf, rxBuf: rxBuf}, nil
}

// Now returns the host clock, standing in for the radio's time base.
func (d *IIOD) Now(_ context.Context) (time.Time, error) {
	return time.Now(), nil
}

func (d *IIOD) SendTX(ctx context.Context, buf []complex64, startTime time.Time, _ time.Duration) (int, error) {
	if err := sleepUntil(ctx, startTime); err != nil {
		return 0, err
	}
	I, Q := splitIQ(buf)
	data, err := iiod.InterleaveIQ(I, Q)
	if err != nil {
		return 0, fmt.Errorf("radio: interleave tx buffer: %w", err)
	}
	if err := d.txBuf.WriteSamples(data); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (d *IIOD) IssueRX(ctx context.Context, startTime time.Time, _ int) error {
	return sleepUntil(ctx, startTime)
}

func (d *IIOD) RecvRX(_ context.Context, buf []complex64, numSamps int, _ time.Duration) (int, Metadata, error) {
	raw, err := d.rxBuf.ReadSamples()
	if err != nil {
		return 0, Metadata{Code: ErrorOther, Timestamp: time.Now()}, err
	}
	I, Q, err := iiod.DeinterleaveIQ(raw)
	if err != nil {
		return 0, Metadata{Code: ErrorOther, Timestamp: time.Now()}, err
	}
	n := len(I)
	if n > numSamps {
		n = numSamps
	}
	if n > len(buf) {
		n = len(buf)
	}
	for i := 0; i < n; i++ {
		buf[i] = complex(I[i], Q[i])
	}
	return n, Metadata{Code: OK, Timestamp: time.Now()}, nil
}

// Close releases both streaming buffers.
func (d *IIOD) Close() error {
	errTx := d.txBuf.Close()
	errRx := d.rxBuf.Close()
	if errTx != nil {
		return errTx
	}
	return errRx
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func splitIQ(buf []complex64) ([]float32, []float32) {
	I := make([]float32, len(buf))
	Q := make([]float32, len(buf))
	for i, s := range buf {
		I[i] = real(s)
		Q[i] = imag(s)
	}
	return I, Q
}
