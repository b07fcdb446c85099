package core

import (
	"math"
	"testing"
)

func TestClamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		value, lo, hi float64
		want          float64
	}{
		{name: "inside", value: 0.5, lo: 0, hi: 1, want: 0.5},
		{name: "below", value: -1, lo: 0, hi: 1, want: 0},
		{name: "above", value: 2, lo: 0, hi: 1, want: 1},
		{name: "swapped", value: 2, lo: 1, hi: 0, want: 1},
		{name: "gain range", value: 2.5, lo: 0, hi: 2, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Clamp(tt.value, tt.lo, tt.hi); got != tt.want {
				t.Fatalf("Clamp(%v, %v, %v) = %v, want %v", tt.value, tt.lo, tt.hi, got, tt.want)
			}
		})
	}
}

func TestFinite(t *testing.T) {
	t.Parallel()

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if got := Finite(v, 3); got != 3 {
			t.Fatalf("Finite(%v) = %v, want 3", v, got)
		}
	}
	if got := Finite(1.5, 3); got != 1.5 {
		t.Fatalf("Finite(1.5) = %v, want 1.5", got)
	}
}

func TestDBConversions(t *testing.T) {
	t.Parallel()

	if db := LinearToDB(DBToLinear(-6)); math.Abs(db+6) > 1e-10 {
		t.Fatalf("LinearToDB(DBToLinear(-6)) = %v, want -6", db)
	}
	if got := DBToLinear(0); got != 1 {
		t.Fatalf("DBToLinear(0) = %v, want 1", got)
	}
	if !math.IsInf(LinearToDB(0), -1) {
		t.Fatal("expected -Inf for zero")
	}
	if !math.IsNaN(LinearToDB(-1)) {
		t.Fatal("expected NaN for negative amplitude")
	}
}

func TestOnePoleCoeff(t *testing.T) {
	t.Parallel()

	if got := OnePoleCoeff(0, 48000); got != 0 {
		t.Fatalf("OnePoleCoeff(0) = %v, want 0", got)
	}

	const sr = 48000.0
	c := OnePoleCoeff(0.01, sr)
	y := 0.0
	for range int(0.01 * sr) {
		y = 1 + c*(y-1)
	}
	if want := 1 - math.Exp(-1); math.Abs(y-want) > 1e-3 {
		t.Fatalf("step after one time constant = %v, want %v", y, want)
	}
}
