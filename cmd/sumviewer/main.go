// Command sumviewer is C14: an offline, human-invoked inspector for
// rotated sum files the RX accumulator wrote. It reshapes each file
// into fixed-length complex-float32 records and runs each record
// through the kept FFT/Hamming-window/dBFS pipeline, printing a peak
// bin and level per record. It never runs inside the acquisition loop
// (real-time processing of sums is out of scope).
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/rjboer/pulseradar/internal/dsp"
)

func main() {
	recordLen := flag.Int("num-rx-samps", 0, "number of complex samples per record (must match the run's num_rx_samps)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s -num-rx-samps N file [file ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	files := flag.Args()
	if *recordLen <= 0 || len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	proc := dsp.NewCachedDSP(*recordLen)

	for _, path := range files {
		if err := inspectFile(path, *recordLen, proc); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			os.Exit(1)
		}
	}
}

// inspectFile reads path as contiguous little-endian (real, imag)
// float32 records of recordLen samples each and prints one line per
// record: its index, peak bin, and peak dBFS level.
func inspectFile(path string, recordLen int, proc *dsp.CachedDSP) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	recordBytes := recordLen * 8
	if recordBytes == 0 || len(raw)%recordBytes != 0 {
		return fmt.Errorf("length %d is not a multiple of %d bytes (num_rx_samps=%d)", len(raw), recordBytes, recordLen)
	}
	numRecords := len(raw) / recordBytes

	fmt.Printf("%s: %d record(s) of %d samples\n", path, numRecords, recordLen)
	samples := make([]complex64, recordLen)
	for r := 0; r < numRecords; r++ {
		base := r * recordBytes
		for i := 0; i < recordLen; i++ {
			off := base + i*8
			re := math.Float32frombits(binary.LittleEndian.Uint32(raw[off : off+4]))
			im := math.Float32frombits(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
			samples[i] = complex(re, im)
		}

		_, dbfs := proc.FFTAndDBFS(samples)
		peakBin, peakLevel := peak(dbfs)
		fmt.Printf("  record %d: peak_bin=%d peak_dbfs=%.2f\n", r, peakBin, peakLevel)
	}
	return nil
}

func peak(dbfs []float64) (bin int, level float64) {
	level = math.Inf(-1)
	for i, v := range dbfs {
		if v > level {
			level = v
			bin = i
		}
	}
	return bin, level
}
