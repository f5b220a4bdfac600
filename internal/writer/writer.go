// Package writer implements C4: an append-only binary sink for
// flushed presum sums, with file rotation aligned to sum boundaries.
// Owned exclusively by the RX accumulator; nothing else touches it.
package writer

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
)

// Writer appends raw complex-float32 sum records to the current
// output file, rotating to a new file when the rotation threshold is
// crossed. OPEN/CLOSE markers are written verbatim to markers (not
// through the structured logger) since post-processing tooling
// expects the exact "[OPEN FILE] <path>" / "[CLOSE FILE] <path>" text.
type Writer struct {
	saveLoc   string
	maxChirps int // -1 disables rotation
	index     int
	f         *os.File
	markers   io.Writer
	markerMu  sync.Mutex
}

// New opens the initial output file: save_loc if rotation is
// disabled, otherwise save_loc.0. markers may be nil, in which case
// open/close lines go to os.Stdout.
func New(saveLoc string, maxChirpsPerFile int, markers io.Writer) (*Writer, error) {
	if markers == nil {
		markers = os.Stdout
	}
	w := &Writer{saveLoc: saveLoc, maxChirps: maxChirpsPerFile, index: 0, markers: markers}
	if err := w.openCurrent(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) currentPath() string {
	if w.maxChirps <= 0 {
		return w.saveLoc
	}
	return fmt.Sprintf("%s.%d", w.saveLoc, w.index)
}

func (w *Writer) openCurrent() error {
	path := w.currentPath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("writer: open %s: %w", path, err)
	}
	w.f = f
	w.Marker(fmt.Sprintf("[OPEN FILE] %s", path))
	return nil
}

// Marker writes line verbatim to the markers sink, guarded by a mutex
// so composite marker lines (e.g. C6's "[ERROR] (Chirp n) ...") cannot
// interleave with OPEN/CLOSE lines or with each other.
func (w *Writer) Marker(line string) {
	w.markerMu.Lock()
	defer w.markerMu.Unlock()
	fmt.Fprintln(w.markers, line)
}

// WriteSum appends sum as raw little-endian (real, imag) float32
// pairs, then rotates if lastPulseNumWritten has crossed the next
// file-boundary multiple of maxChirps.
func (w *Writer) WriteSum(sum []complex64, lastPulseNumWritten int64) error {
	buf := make([]byte, len(sum)*8)
	for i, s := range sum {
		off := i * 8
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], math.Float32bits(imag(s)))
	}
	if _, err := w.f.Write(buf); err != nil {
		return fmt.Errorf("writer: write sum: %w", err)
	}

	if w.maxChirps > 0 {
		wantIndex := int(lastPulseNumWritten / int64(w.maxChirps))
		if wantIndex > w.index {
			if err := w.rotate(wantIndex); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) rotate(newIndex int) error {
	closedPath := w.currentPath()
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("writer: close %s: %w", closedPath, err)
	}
	w.Marker(fmt.Sprintf("[CLOSE FILE] %s", closedPath))
	w.index = newIndex
	return w.openCurrent()
}

// Close closes the current file. Safe to call once at shutdown.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	path := w.currentPath()
	err := w.f.Close()
	w.f = nil
	w.Marker(fmt.Sprintf("[CLOSE FILE] %s", path))
	if err != nil {
		return fmt.Errorf("writer: close %s: %w", path, err)
	}
	return nil
}
