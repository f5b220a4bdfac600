package phase

import "testing"

func TestTXAndRXAgreeAtSameIndex(t *testing.T) {
	g := New(7)
	var tx, rx []float64
	for i := 0; i < 20; i++ {
		tx = append(tx, g.Next(TX))
	}
	for i := 0; i < 20; i++ {
		rx = append(rx, g.Next(RX))
	}
	for i := range tx {
		if tx[i] != rx[i] {
			t.Fatalf("index %d: tx=%v rx=%v", i, tx[i], rx[i])
		}
	}
}

func TestInterleavedDrawsStillAgree(t *testing.T) {
	g := New(42)
	var tx, rx []float64
	for i := 0; i < 10; i++ {
		tx = append(tx, g.Next(TX))
		tx = append(tx, g.Next(TX))
		rx = append(rx, g.Next(RX))
	}
	for i := range rx {
		if tx[i] != rx[i] {
			t.Fatalf("index %d: tx=%v rx=%v", i, tx[i], rx[i])
		}
	}
}

func TestNextNMatchesNext(t *testing.T) {
	g := New(3)
	batch, err := g.NextN(TX, 5)
	if err != nil {
		t.Fatalf("NextN failed: %v", err)
	}
	g2 := New(3)
	for i, want := range batch {
		got := g2.Next(TX)
		if got != want {
			t.Fatalf("index %d: got=%v want=%v", i, got, want)
		}
	}
}

func TestNextNRejectsNegative(t *testing.T) {
	g := New(1)
	if _, err := g.NextN(TX, -1); err == nil {
		t.Fatalf("expected error for negative n")
	}
}

func TestPhaseRange(t *testing.T) {
	g := New(99)
	for i := 0; i < 1000; i++ {
		p := g.Next(TX)
		if p < 0 || p >= 2*3.141592653589793 {
			t.Fatalf("phase out of range: %v", p)
		}
	}
}
