package window

import (
	"math"
	"testing"
)

func TestBlackmanShape(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		size     int
		peakAt   int
		lastZero bool
	}{
		{name: "symmetric", size: 65, peakAt: 32, lastZero: true},
		{name: "periodic", opts: []Option{WithPeriodic()}, size: 64, peakAt: 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := Blackman(tt.size, tt.opts...)
			if err != nil {
				t.Fatal(err)
			}
			if len(w) != tt.size {
				t.Fatalf("len=%d, want %d", len(w), tt.size)
			}
			if math.Abs(w[0]) > 1e-12 {
				t.Fatalf("w[0] = %v, want 0", w[0])
			}
			if math.Abs(w[tt.peakAt]-1) > 1e-12 {
				t.Fatalf("w[%d] = %v, want 1", tt.peakAt, w[tt.peakAt])
			}
			if last := w[tt.size-1]; (math.Abs(last) < 1e-12) != tt.lastZero {
				t.Fatalf("w[last] = %v, lastZero=%v", last, tt.lastZero)
			}
			for i := 1; i < tt.size/2; i++ {
				j := len(w) - i
				if tt.lastZero {
					j--
				}
				if math.Abs(w[i]-w[j]) > 1e-12 {
					t.Fatalf("w[%d] = %v, mirror w[%d] = %v", i, w[i], j, w[j])
				}
			}
		})
	}
}

func TestBlackmanRejectsEmpty(t *testing.T) {
	if _, err := Blackman(0); err == nil {
		t.Fatal("expected error for size=0")
	}
}

func TestCoherentGain(t *testing.T) {
	w, err := Blackman(1024, WithPeriodic())
	if err != nil {
		t.Fatal(err)
	}
	g, err := CoherentGain(w)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(g-0.42) > 1e-9 {
		t.Fatalf("coherent gain = %v, want 0.42", g)
	}

	if _, err := CoherentGain(nil); err == nil {
		t.Fatal("expected error for empty coefficients")
	}
}

func TestApplyCoefficientsInPlace(t *testing.T) {
	samples := []float64{1, 2, 3, 4}
	if err := ApplyCoefficientsInPlace(samples, []float64{0, 0.5, 1, 2}); err != nil {
		t.Fatal(err)
	}
	want := []float64{0, 1, 3, 8}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("samples[%d] = %v, want %v", i, samples[i], want[i])
		}
	}

	if err := ApplyCoefficientsInPlace(samples, []float64{1}); err == nil {
		t.Fatal("expected length mismatch error")
	}
}
