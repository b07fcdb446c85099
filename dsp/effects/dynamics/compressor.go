package dynamics

import (
	"fmt"
	"math"
)

const (
	defaultCompressorThresholdDB = -18.0
	defaultCompressorRatio       = 3.0
	defaultCompressorKneeDB      = 6.0
	defaultCompressorAttackMs    = 10.0
	defaultCompressorReleaseMs   = 150.0
	defaultCompressorCeilingDB   = 0.0

	minCompressorThresholdDB = -60.0
	maxCompressorThresholdDB = 0.0
	minCompressorRatio       = 1.0
	maxCompressorRatio       = 20.0
	minCompressorAttackMs    = 0.1
	maxCompressorAttackMs    = 1000.0
	minCompressorReleaseMs   = 1.0
	maxCompressorReleaseMs   = 5000.0
	minCompressorKneeDB      = 0.0
	maxCompressorKneeDB      = 24.0
	minCompressorCeilingDB   = -24.0
	maxCompressorCeilingDB   = 0.0

	// log2(10) / 20, converts dB to the log2 domain.
	log2Of10Div20 = 0.166096404744
)

// Compressor is a stereo-linked soft-knee compressor followed by a sample
// ceiling. Gain is computed in the log2 domain from a peak envelope of the
// louder channel, so both channels receive identical gain and the stereo
// image does not shift.
//
// Compressor is not safe for concurrent use. Parameter changes must happen
// on the goroutine that calls Process.
type Compressor struct {
	thresholdDB float64
	ratio       float64
	kneeDB      float64
	attackMs    float64
	releaseMs   float64
	ceilingDB   float64

	sampleRate float64

	envelope float64

	attackCoeff      float64
	releaseCoeff     float64
	thresholdLog2    float64
	kneeWidthLog2    float64
	invKneeWidthLog2 float64
	ceilingLin       float64

	// Largest reduction in dB (positive) since the last TakeGainReduction.
	peakReductionDB float64
	reductionDB     float64
}

// NewCompressor creates a compressor with default settings:
// threshold -18 dB, ratio 3:1, knee 6 dB, attack 10 ms, release 150 ms,
// ceiling 0 dBFS.
func NewCompressor(sampleRate float64) (*Compressor, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("compressor sample rate must be positive and finite: %f", sampleRate)
	}

	c := &Compressor{
		thresholdDB: defaultCompressorThresholdDB,
		ratio:       defaultCompressorRatio,
		kneeDB:      defaultCompressorKneeDB,
		attackMs:    defaultCompressorAttackMs,
		releaseMs:   defaultCompressorReleaseMs,
		ceilingDB:   defaultCompressorCeilingDB,
		sampleRate:  sampleRate,
	}

	c.updateCoefficients()
	return c, nil
}

// SetThreshold sets the compression threshold in dB, range -60 to 0.
func (c *Compressor) SetThreshold(dB float64) error {
	if err := checkRange("threshold", dB, minCompressorThresholdDB, maxCompressorThresholdDB); err != nil {
		return err
	}
	c.thresholdDB = dB
	c.updateCoefficients()
	return nil
}

// SetRatio sets the compression ratio, range 1 to 20.
func (c *Compressor) SetRatio(ratio float64) error {
	if err := checkRange("ratio", ratio, minCompressorRatio, maxCompressorRatio); err != nil {
		return err
	}
	c.ratio = ratio
	return nil
}

// SetKnee sets the soft-knee width in dB, range 0 (hard knee) to 24.
func (c *Compressor) SetKnee(kneeDB float64) error {
	if err := checkRange("knee", kneeDB, minCompressorKneeDB, maxCompressorKneeDB); err != nil {
		return err
	}
	c.kneeDB = kneeDB
	c.updateCoefficients()
	return nil
}

// SetAttack sets the attack time in milliseconds, range 0.1 to 1000.
func (c *Compressor) SetAttack(ms float64) error {
	if err := checkRange("attack", ms, minCompressorAttackMs, maxCompressorAttackMs); err != nil {
		return err
	}
	c.attackMs = ms
	c.updateTimeConstants()
	return nil
}

// SetRelease sets the release time in milliseconds, range 1 to 5000.
func (c *Compressor) SetRelease(ms float64) error {
	if err := checkRange("release", ms, minCompressorReleaseMs, maxCompressorReleaseMs); err != nil {
		return err
	}
	c.releaseMs = ms
	c.updateTimeConstants()
	return nil
}

// SetCeiling sets the output sample ceiling in dBFS, range -24 to 0.
func (c *Compressor) SetCeiling(dB float64) error {
	if err := checkRange("ceiling", dB, minCompressorCeilingDB, maxCompressorCeilingDB); err != nil {
		return err
	}
	c.ceilingDB = dB
	c.ceilingLin = math.Pow(10, dB/20)
	return nil
}

// Threshold returns the current threshold in dB.
func (c *Compressor) Threshold() float64 { return c.thresholdDB }

// Ratio returns the current compression ratio.
func (c *Compressor) Ratio() float64 { return c.ratio }

// Knee returns the current knee width in dB.
func (c *Compressor) Knee() float64 { return c.kneeDB }

// Attack returns the current attack time in milliseconds.
func (c *Compressor) Attack() float64 { return c.attackMs }

// Release returns the current release time in milliseconds.
func (c *Compressor) Release() float64 { return c.releaseMs }

// Ceiling returns the output ceiling in dBFS.
func (c *Compressor) Ceiling() float64 { return c.ceilingDB }

// Process compresses left and right in place. Both slices must have the same
// length.
func (c *Compressor) Process(left, right []float64) {
	right = right[:len(left)]
	peakReduction := c.peakReductionDB

	for i := range left {
		l, r := left[i], right[i]
		level := math.Max(math.Abs(l), math.Abs(r))

		if level > c.envelope {
			c.envelope += (level - c.envelope) * c.attackCoeff
		} else {
			c.envelope = level + (c.envelope-level)*c.releaseCoeff
		}

		gainLog2 := c.gainLog2(c.envelope)
		gain := mathPower2(gainLog2)

		l *= gain
		r *= gain

		// Hard ceiling catches the peaks the envelope is too slow for.
		if peak := math.Max(math.Abs(l), math.Abs(r)); peak > c.ceilingLin {
			scale := c.ceilingLin / peak
			l *= scale
			r *= scale
			gainLog2 += mathLog2(scale)
		}

		left[i], right[i] = l, r

		reduction := -gainLog2 / log2Of10Div20
		if reduction > peakReduction {
			peakReduction = reduction
		}
		c.reductionDB = reduction
	}

	if c.envelope < 1e-30 {
		c.envelope = 0
	}
	c.peakReductionDB = peakReduction
}

// GainReduction returns the gain reduction in dB (positive) applied to the
// most recent sample.
func (c *Compressor) GainReduction() float64 {
	return c.reductionDB
}

// TakeGainReduction returns the largest gain reduction in dB since the
// previous call and restarts the measurement window.
func (c *Compressor) TakeGainReduction() float64 {
	gr := c.peakReductionDB
	c.peakReductionDB = 0
	return gr
}

// CurveDB returns the static output level in dB for a steady input level,
// ignoring the ceiling. Useful for drawing the transfer curve.
func (c *Compressor) CurveDB(inputDB float64) float64 {
	return inputDB + c.gainLog2(math.Pow(10, inputDB/20))/log2Of10Div20
}

// Reset clears the envelope follower and gain-reduction readings.
func (c *Compressor) Reset() {
	c.envelope = 0
	c.peakReductionDB = 0
	c.reductionDB = 0
}

func (c *Compressor) updateCoefficients() {
	c.thresholdLog2 = c.thresholdDB * log2Of10Div20
	c.kneeWidthLog2 = c.kneeDB * log2Of10Div20

	if c.kneeDB > 0 {
		c.invKneeWidthLog2 = 1.0 / c.kneeWidthLog2
	} else {
		c.invKneeWidthLog2 = 0
	}

	c.ceilingLin = math.Pow(10, c.ceilingDB/20)
	c.updateTimeConstants()
}

func (c *Compressor) updateTimeConstants() {
	c.attackCoeff = 1.0 - math.Exp(-math.Ln2/(c.attackMs*0.001*c.sampleRate))
	c.releaseCoeff = math.Exp(-math.Ln2 / (c.releaseMs * 0.001 * c.sampleRate))
}

// gainLog2 returns the gain in the log2 domain (<= 0) for an envelope level.
func (c *Compressor) gainLog2(level float64) float64 {
	if level <= 0 {
		return 0
	}

	overshoot := mathLog2(level) - c.thresholdLog2

	if c.kneeDB <= 0 {
		if overshoot <= 0 {
			return 0
		}
		return -overshoot * (1.0 - 1.0/c.ratio)
	}

	halfWidth := c.kneeWidthLog2 * 0.5
	var effective float64

	switch {
	case overshoot < -halfWidth:
		return 0
	case overshoot > halfWidth:
		effective = overshoot
	default:
		// (overshoot + w/2)^2 / (2w)
		scratch := overshoot + halfWidth
		effective = scratch * scratch * 0.5 * c.invKneeWidthLog2
	}

	return -effective * (1.0 - 1.0/c.ratio)
}

func checkRange(name string, v, lo, hi float64) error {
	if v < lo || v > hi || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("compressor %s must be in [%g, %g]: %f", name, lo, hi, v)
	}
	return nil
}
