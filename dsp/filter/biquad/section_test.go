package biquad

import (
	"math"
	"testing"
)

func TestIdentityPassesSignal(t *testing.T) {
	s := NewSection(Identity())
	buf := []float64{1, -0.5, 0.25, 0}
	want := append([]float64(nil), buf...)

	s.ProcessBlock(buf)

	for i := range buf {
		if buf[i] != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, buf[i], want[i])
		}
	}
}

func TestProcessBlockMatchesProcessSample(t *testing.T) {
	c := Coefficients{B0: 0.2, B1: 0.4, B2: 0.2, A1: -0.6, A2: 0.2}
	a := NewSection(c)
	b := NewSection(c)

	buf := make([]float64, 64)
	for i := range buf {
		buf[i] = math.Sin(float64(i) * 0.3)
	}

	want := make([]float64, len(buf))
	for i, x := range buf {
		want[i] = a.ProcessSample(x)
	}

	b.ProcessBlock(buf)

	for i := range buf {
		if math.Abs(buf[i]-want[i]) > 1e-12 {
			t.Fatalf("sample %d = %v, want %v", i, buf[i], want[i])
		}
	}
}

func TestResetClearsState(t *testing.T) {
	s := NewSection(Coefficients{B0: 0.5, B1: 0.5, A1: -0.5})
	s.ProcessSample(1)
	if s.Idle() {
		t.Fatal("expected state after processing")
	}

	s.Reset()

	if !s.Idle() {
		t.Fatal("state not cleared by Reset")
	}
}

func TestStereoKeepsStateAcrossCoefficientChange(t *testing.T) {
	t.Parallel()

	lp := Coefficients{B0: 0.25, B1: 0.5, B2: 0.25}
	st := NewStereo(lp)
	ref := NewSection(lp)

	l := []float64{1, 0, 0, 0}
	r := []float64{0, 0, 0, 0}
	want := make([]float64, len(l))
	for i, x := range l {
		want[i] = ref.ProcessSample(x)
	}

	st.Process(l[:1], r[:1])
	st.SetCoefficients(lp)
	st.Process(l[1:], r[1:])

	for i := range l {
		if math.Abs(l[i]-want[i]) > 1e-15 {
			t.Fatalf("left[%d] = %v, want %v", i, l[i], want[i])
		}
	}
	if !st.R.Idle() {
		t.Fatal("silent right channel picked up state")
	}
}

func TestPowerGain(t *testing.T) {
	t.Parallel()

	// Two-tap average: unity at DC, a null at Nyquist.
	c := Coefficients{B0: 0.5, B1: 0.5}
	if g := c.PowerGain(0, 48000); math.Abs(g-1) > 1e-12 {
		t.Fatalf("PowerGain(DC) = %v, want 1", g)
	}
	if g := c.PowerGain(24000, 48000); g > 1e-12 {
		t.Fatalf("PowerGain(Nyquist) = %v, want 0", g)
	}
	if g := c.PowerGain(12000, 48000); math.Abs(g-0.5) > 1e-12 {
		t.Fatalf("PowerGain(fs/4) = %v, want 0.5", g)
	}
}

func TestIdentityResponseIsFlat(t *testing.T) {
	c := Identity()
	for _, f := range []float64{20, 1000, 20000} {
		if db := c.MagnitudeDB(f, 48000); math.Abs(db) > 1e-9 {
			t.Fatalf("MagnitudeDB(%v) = %v, want 0", f, db)
		}
	}
}
