package main

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rjboer/pulseradar/internal/dsp"
)

func writeRecord(t *testing.T, w *os.File, samples []complex64) {
	t.Helper()
	buf := make([]byte, len(samples)*8)
	for i, s := range samples {
		off := i * 8
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], math.Float32bits(imag(s)))
	}
	if _, err := w.Write(buf); err != nil {
		t.Fatalf("write record: %v", err)
	}
}

func TestInspectFileRejectsMisalignedLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "samples.dat.0")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	proc := dsp.NewCachedDSP(4)
	if err := inspectFile(path, 4, proc); err == nil {
		t.Fatal("expected error for misaligned file, got nil")
	}
}

func TestInspectFileReadsMultipleRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "samples.dat.0")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	writeRecord(t, f, []complex64{1, 1, 1, 1})
	writeRecord(t, f, []complex64{0, 0, 0, 0})
	f.Close()

	proc := dsp.NewCachedDSP(4)
	if err := inspectFile(path, 4, proc); err != nil {
		t.Fatalf("inspectFile: %v", err)
	}
}

func TestPeakFindsMaximum(t *testing.T) {
	bin, level := peak([]float64{-10, -3, -50, -1, -20})
	if bin != 3 {
		t.Errorf("got bin %d, want 3", bin)
	}
	if level != -1 {
		t.Errorf("got level %v, want -1", level)
	}
}
