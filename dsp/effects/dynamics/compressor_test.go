package dynamics

import (
	"math"
	"testing"
)

const testSampleRate = 48000.0

func TestNewCompressorRejectsBadSampleRate(t *testing.T) {
	for _, sr := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := NewCompressor(sr); err == nil {
			t.Fatalf("NewCompressor(%v) expected error", sr)
		}
	}
}

func TestCompressorSetters(t *testing.T) {
	c, err := NewCompressor(testSampleRate)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		set     func(float64) error
		value   float64
		wantErr bool
	}{
		{name: "threshold ok", set: c.SetThreshold, value: -30},
		{name: "threshold high", set: c.SetThreshold, value: 3, wantErr: true},
		{name: "ratio ok", set: c.SetRatio, value: 8},
		{name: "ratio low", set: c.SetRatio, value: 0.5, wantErr: true},
		{name: "knee nan", set: c.SetKnee, value: math.NaN(), wantErr: true},
		{name: "attack ok", set: c.SetAttack, value: 5},
		{name: "release low", set: c.SetRelease, value: 0.5, wantErr: true},
		{name: "ceiling ok", set: c.SetCeiling, value: -1},
		{name: "ceiling high", set: c.SetCeiling, value: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.set(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompressorReducesLoudSignal(t *testing.T) {
	c, err := NewCompressor(testSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetThreshold(-30); err != nil {
		t.Fatal(err)
	}
	if err := c.SetRatio(4); err != nil {
		t.Fatal(err)
	}

	n := int(testSampleRate / 2)
	left := make([]float64, n)
	right := make([]float64, n)
	for i := range left {
		s := 0.9 * math.Sin(2*math.Pi*220*float64(i)/testSampleRate)
		left[i], right[i] = s, s
	}

	c.Process(left, right)

	gr := c.TakeGainReduction()
	if gr <= 3 {
		t.Fatalf("TakeGainReduction() = %v, want > 3 dB", gr)
	}
	if again := c.TakeGainReduction(); again != 0 {
		t.Fatalf("second TakeGainReduction() = %v, want 0", again)
	}

	for i := n - 100; i < n; i++ {
		if left[i] != right[i] {
			t.Fatalf("linked channels diverged at %d: %v vs %v", i, left[i], right[i])
		}
	}
}

func TestCompressorQuietSignalUntouched(t *testing.T) {
	c, err := NewCompressor(testSampleRate)
	if err != nil {
		t.Fatal(err)
	}

	left := make([]float64, 1024)
	right := make([]float64, 1024)
	for i := range left {
		left[i] = 0.01 * math.Sin(float64(i)*0.05)
		right[i] = left[i]
	}
	want := append([]float64(nil), left...)

	c.Process(left, right)

	for i := range left {
		if math.Abs(left[i]-want[i]) > 1e-12 {
			t.Fatalf("sample %d changed: %v -> %v", i, want[i], left[i])
		}
	}
	if gr := c.GainReduction(); gr > 1e-9 {
		t.Fatalf("GainReduction() = %v, want 0", gr)
	}
}

func TestCompressorCeiling(t *testing.T) {
	c, err := NewCompressor(testSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetCeiling(-6); err != nil {
		t.Fatal(err)
	}

	left := []float64{1, -1, 1}
	right := []float64{0.5, 0.5, -1}
	c.Process(left, right)

	limit := math.Pow(10, -6.0/20) + 1e-12
	for i := range left {
		if math.Abs(left[i]) > limit || math.Abs(right[i]) > limit {
			t.Fatalf("sample %d exceeds ceiling: %v %v", i, left[i], right[i])
		}
	}
}

func TestCompressorReset(t *testing.T) {
	c, err := NewCompressor(testSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	left := []float64{1, 1, 1, 1}
	right := []float64{1, 1, 1, 1}
	c.Process(left, right)

	c.Reset()

	if c.GainReduction() != 0 || c.TakeGainReduction() != 0 {
		t.Fatal("expected zero gain reduction after Reset")
	}
}

func TestCurveDB(t *testing.T) {
	c, err := NewCompressor(testSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetKnee(0); err != nil {
		t.Fatal(err)
	}
	if err := c.SetRatio(4); err != nil {
		t.Fatal(err)
	}
	if err := c.SetThreshold(-20); err != nil {
		t.Fatal(err)
	}

	if got := c.CurveDB(-40); math.Abs(got+40) > 1e-6 {
		t.Fatalf("CurveDB(-40) = %v, want -40", got)
	}
	if got := c.CurveDB(0); math.Abs(got+15) > 1e-6 {
		t.Fatalf("CurveDB(0) = %v, want -15", got)
	}
}
