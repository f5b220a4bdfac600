// Package gps implements C11: an independent collector that reads
// NMEA sentences from a serial GPS receiver and appends position
// fixes to the configured gps_loc file. It runs on its own goroutine,
// entirely decoupled from the TX/RX pipeline; a lost or absent GPS
// receiver never affects acquisition.
//
// NMEA framing and talker-ID handling are grounded on
// dwgpsnmea_init/read_gpsnmea_thread/dwgpsnmea_gpgga (direwolf).
// The UBX CFG-RATE/CFG-MSG configuration frames and the CSV output
// line shape are grounded on the original implementation's
// gps_test.cpp.
package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/term"

	"github.com/rjboer/pulseradar/internal/logging"
)

// Fix is a single parsed GGA position report.
type Fix struct {
	TimestampMicros int64
	Lat             float64
	Lon             float64
	Alt             float64
}

// sentenceMaxLen matches the NMEA_MAX_LEN guard in read_gpsnmea_thread.
const sentenceMaxLen = 160

// Collector reads bytes from a serial connection, reassembles NMEA
// sentences, and emits Fix values parsed from any talker's GGA
// sentence ($GPGGA, $GNGGA, $GLGGA, ...).
type Collector struct {
	conn io.ReadWriteCloser
	log  logging.Logger
}

// Open opens portPath at baud and returns a Collector reading from it.
func Open(portPath string, baud int) (*Collector, error) {
	t, err := term.Open(portPath, term.Speed(baud))
	if err != nil {
		return nil, fmt.Errorf("gps: open %s: %w", portPath, err)
	}
	return &Collector{conn: t}, nil
}

// NewCollector wraps an already-open connection (used by tests with
// an in-memory pipe instead of a real serial port).
func NewCollector(conn io.ReadWriteCloser, log logging.Logger) *Collector {
	if log == nil {
		log = logging.Default()
	}
	return &Collector{conn: conn, log: log}
}

// Configure sends UBX messages asking a u-blox-compatible receiver to
// report at rateHz and to emit only GGA sentences. Best-effort: many
// receivers ignore or reject these, which is not fatal to collection.
func (c *Collector) Configure(rateHz int) error {
	if rateHz <= 0 {
		rateHz = 1
	}
	measRateMs := uint16(1000 / rateHz)
	if _, err := c.conn.Write(ubxCfgRate(measRateMs)); err != nil {
		return fmt.Errorf("gps: cfg-rate: %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	for _, frame := range ubxCfgMsgGGAOnly() {
		if _, err := c.conn.Write(frame); err != nil {
			return fmt.Errorf("gps: cfg-msg: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

// Run reads sentences until the connection errors or closes, writing
// one CSV line per GGA fix to out: "<timestamp_us>,<lat>,<lon>,<alt>".
// A read error is returned to the caller; the connection is left for
// the caller to close.
func (c *Collector) Run(out io.Writer) error {
	r := bufio.NewReaderSize(c.conn, sentenceMaxLen)
	var sentence strings.Builder

	for {
		b, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("gps: lost communication with receiver: %w", err)
		}

		switch b {
		case '$':
			sentence.Reset()
			sentence.WriteByte(b)
		case '\r', '\n':
			if s := sentence.String(); len(s) >= 6 && s[0] == '$' {
				c.handleSentence(s, out)
			}
			sentence.Reset()
		default:
			if sentence.Len() > 0 && sentence.Len() < sentenceMaxLen-1 {
				sentence.WriteByte(b)
			}
		}
	}
}

func (c *Collector) handleSentence(sentence string, out io.Writer) {
	if !isGGA(sentence) {
		return
	}
	fix, err := ParseGGA(sentence, time.Now())
	if err != nil {
		if c.log != nil {
			c.log.Warn("gps: parse error", logging.Field{Key: "err", Value: err.Error()}, logging.Field{Key: "sentence", Value: sentence})
		}
		return
	}
	fmt.Fprintf(out, "%d,%.9f,%.9f,%.9f\n", fix.TimestampMicros, fix.Lat, fix.Lon, fix.Alt)
}

// isGGA reports whether sentence is a GGA sentence from any talker ID
// ($GPGGA, $GNGGA, $GLGGA, $GAGGA, $GBGGA, ...).
func isGGA(sentence string) bool {
	return len(sentence) >= 6 && sentence[0] == '$' && sentence[3:6] == "GGA"
}

// ParseGGA extracts latitude, longitude, and altitude from a GGA
// sentence, stamping the fix with now. It rejects a sentence reporting
// no fix (quality indicator "0").
func ParseGGA(sentence string, now time.Time) (Fix, error) {
	body, err := removeChecksum(sentence)
	if err != nil {
		return Fix{}, err
	}

	fields := strings.Split(body, ",")
	// $--GGA,time,lat,N/S,lon,E/W,quality,numSat,hdop,altitude,M,...
	if len(fields) < 10 {
		return Fix{}, fmt.Errorf("gps: short GGA sentence: %q", sentence)
	}

	quality := fields[6]
	if quality == "0" || quality == "" {
		return Fix{}, fmt.Errorf("gps: no fix: %q", sentence)
	}

	lat, err := coordFromNMEA(fields[2], fields[3])
	if err != nil {
		return Fix{}, fmt.Errorf("gps: latitude: %w", err)
	}
	lon, err := coordFromNMEA(fields[4], fields[5])
	if err != nil {
		return Fix{}, fmt.Errorf("gps: longitude: %w", err)
	}
	alt, err := strconv.ParseFloat(fields[9], 64)
	if err != nil {
		return Fix{}, fmt.Errorf("gps: altitude: %w", err)
	}

	return Fix{
		TimestampMicros: now.UnixMicro(),
		Lat:             lat,
		Lon:             lon,
		Alt:             alt,
	}, nil
}

// removeChecksum validates the trailing *hh checksum and returns the
// sentence with it stripped.
func removeChecksum(sentence string) (string, error) {
	body, checksumStr, found := strings.Cut(sentence, "*")
	if !found {
		return "", fmt.Errorf("gps: missing checksum: %q", sentence)
	}
	var calculated int64
	for _, r := range body[1:] {
		calculated ^= int64(r)
	}
	checksumStr = strings.TrimSpace(checksumStr)
	want, err := strconv.ParseInt(checksumStr, 16, 0)
	if err != nil {
		return "", fmt.Errorf("gps: malformed checksum %q: %w", checksumStr, err)
	}
	if calculated != want {
		return "", fmt.Errorf("gps: checksum mismatch: got %02x want %s", calculated, checksumStr)
	}
	return body, nil
}

// coordFromNMEA converts a ddmm.mmmm (or dddmm.mmmm) NMEA coordinate
// plus hemisphere letter into signed decimal degrees.
func coordFromNMEA(raw, hemisphere string) (float64, error) {
	if raw == "" || hemisphere == "" {
		return 0, fmt.Errorf("empty coordinate field")
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	degrees := float64(int(value / 100))
	minutes := value - degrees*100
	decimal := degrees + minutes/60
	if hemisphere == "S" || hemisphere == "W" {
		decimal = -decimal
	}
	return decimal, nil
}

// Close closes the underlying connection.
func (c *Collector) Close() error {
	return c.conn.Close()
}

// RunUntilCancel runs the collector until ctx is canceled or the
// connection errors, whichever comes first. Cancellation closes the
// connection to unblock the in-progress read, matching the
// stop_requested polling the TX/RX pipeline uses elsewhere — GPS has
// no suspension point finer than the next byte, so closing the
// connection is the only way to observe cancellation promptly.
func (c *Collector) RunUntilCancel(ctx context.Context, out io.Writer) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.Close()
		case <-done:
		}
	}()

	err := c.Run(out)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
