package reverb

import (
	"math"
	"testing"
)

func impulse(t *testing.T, r *Reverberator, n int) (left, right []float64) {
	t.Helper()
	left = make([]float64, n)
	right = make([]float64, n)
	left[0], right[0] = 1, 1
	r.Process(left, right)
	return left, right
}

func TestTailDecays(t *testing.T) {
	t.Parallel()

	const sr = 48000.0
	r, err := New(sr)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.SetDecay(0.5); err != nil {
		t.Fatal(err)
	}
	if err := r.SetMix(1); err != nil {
		t.Fatal(err)
	}

	left, _ := impulse(t, r, int(2*sr))

	early := energy(left[:int(0.3*sr)])
	late := energy(left[int(1.5*sr):])
	if early == 0 {
		t.Fatal("expected a reverb tail")
	}
	if late >= early*1e-3 {
		t.Fatalf("tail did not decay: early=%g late=%g", early, late)
	}
	for i, v := range left {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("non-finite output at %d", i)
		}
	}
}

func TestOutputsAreDecorrelated(t *testing.T) {
	t.Parallel()

	r, err := New(48000)
	if err != nil {
		t.Fatal(err)
	}
	_ = r.SetMix(1)

	left, right := impulse(t, r, 24000)
	for i := range left {
		if left[i] != right[i] {
			return
		}
	}
	t.Fatal("left and right outputs are identical")
}

func TestDryMixPassesInput(t *testing.T) {
	t.Parallel()

	r, err := New(48000)
	if err != nil {
		t.Fatal(err)
	}
	_ = r.SetMix(0)

	left, right := impulse(t, r, 4800)
	if left[0] != 1 || right[0] != 1 {
		t.Fatalf("first sample = %v/%v, want 1/1", left[0], right[0])
	}
	if e := energy(left[1:]); e != 0 {
		t.Fatalf("dry output has a tail, energy %g", e)
	}
}

func TestPreDelayHoldsOffTheTail(t *testing.T) {
	t.Parallel()

	const sr = 48000.0
	r, err := New(sr)
	if err != nil {
		t.Fatal(err)
	}
	_ = r.SetMix(1)
	_ = r.SetPreDelay(0.1)

	// The shortest line is about 35 ms, so nothing arrives before 100 ms.
	left, _ := impulse(t, r, int(0.2*sr))
	if e := energy(left[:int(0.1*sr)]); e > 1e-20 {
		t.Fatalf("energy %g before the pre-delay", e)
	}
}

func TestResetSilences(t *testing.T) {
	t.Parallel()

	r, err := New(48000)
	if err != nil {
		t.Fatal(err)
	}
	_ = r.SetMix(1)
	impulse(t, r, 4800)
	r.Reset()

	left := make([]float64, 48000)
	right := make([]float64, 48000)
	r.Process(left, right)
	if e := energy(left) + energy(right); e != 0 {
		t.Fatalf("energy %g after Reset", e)
	}
}

func TestHadamard(t *testing.T) {
	t.Parallel()

	x := [lines]float64{1, 0, 0, 0, 0, 0, 0, 0}
	hadamard(&x)
	for i, v := range x {
		if v != 1 {
			t.Fatalf("H·e0[%d] = %v, want 1", i, v)
		}
	}

	// Applying it twice scales by the size.
	y := [lines]float64{1, 2, 3, 4, 5, 6, 7, 8}
	want := y
	hadamard(&y)
	hadamard(&y)
	for i := range y {
		if y[i] != lines*want[i] {
			t.Fatalf("H·H·y[%d] = %v, want %v", i, y[i], lines*want[i])
		}
	}
}

func TestSetters(t *testing.T) {
	t.Parallel()

	r, err := New(48000)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "mix negative", err: r.SetMix(-1), wantErr: true},
		{name: "mix above one", err: r.SetMix(1.5), wantErr: true},
		{name: "damping one", err: r.SetDamping(1), wantErr: true},
		{name: "damping above max", err: r.SetDamping(MaxDamping + 0.01), wantErr: true},
		{name: "damping max", err: r.SetDamping(MaxDamping)},
		{name: "predelay too long", err: r.SetPreDelay(1), wantErr: true},
		{name: "predelay ok", err: r.SetPreDelay(0.05)},
		{name: "decay zero", err: r.SetDecay(0), wantErr: true},
		{name: "decay above max", err: r.SetDecay(MaxDecay * 2), wantErr: true},
		{name: "decay ok", err: r.SetDecay(3)},
	}
	for _, tt := range tests {
		if (tt.err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, tt.err, tt.wantErr)
		}
	}
	if r.PreDelay() != 0.05 || r.Decay() != 3 {
		t.Fatalf("PreDelay, Decay = %v, %v", r.PreDelay(), r.Decay())
	}

	if _, err := New(0); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

func energy(x []float64) float64 {
	var e float64
	for _, v := range x {
		e += v * v
	}
	return e
}
