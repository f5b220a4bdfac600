// Package waveform loads the pre-generated complex-baseband chirp
// buffer C5 transmits. Generation of the waveform itself is out of
// scope; this package only reads the raw little-endian complex-float32
// pairs a generator tool would have written.
package waveform

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// Load reads path as contiguous little-endian (real, imag) float32
// pairs and returns exactly numTxSamps complex64 samples, matching the
// original's fixed-size tx_buff read (main.cpp reads
// num_tx_samps*bytes_per_item bytes from chirp_loc regardless of the
// file's own length). A file shorter than numTxSamps is an error
// rather than a silent zero-pad: num_tx_samps is derived from tx_rate
// and tx_duration and must match the buffer the radio was dialed with,
// or TX silently desyncs from the dialed device buffer size. A file
// longer than numTxSamps is truncated to the first numTxSamps samples.
func Load(path string, numTxSamps int) ([]complex64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("waveform: open %s: %w", path, err)
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("waveform: %s length %d is not a multiple of 8 bytes", path, len(raw))
	}
	n := len(raw) / 8
	if n < numTxSamps {
		return nil, fmt.Errorf("waveform: %s has %d samples, need %d (num_tx_samps)", path, n, numTxSamps)
	}
	buf := make([]complex64, numTxSamps)
	for i := 0; i < numTxSamps; i++ {
		off := i * 8
		re := math.Float32frombits(binary.LittleEndian.Uint32(raw[off : off+4]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		buf[i] = complex(re, im)
	}
	return buf, nil
}

// Save writes samples in the same layout Load expects; used by tests
// and by tooling that prepares fixture waveforms.
func Save(path string, samples []complex64) error {
	buf := make([]byte, len(samples)*8)
	for i, s := range samples {
		off := i * 8
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], math.Float32bits(imag(s)))
	}
	return os.WriteFile(path, buf, 0o644)
}
