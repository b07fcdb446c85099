package biquad

// Coefficients holds one second-order section normalized to a0 = 1.
//
// Processing is Direct Form II Transposed:
//
//	y  = B0*x + s1
//	s1 = B1*x - A1*y + s2
//	s2 = B2*x - A2*y
type Coefficients struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// Identity returns pass-through coefficients.
func Identity() Coefficients {
	return Coefficients{B0: 1}
}

// Section is one biquad channel: coefficients plus its two state variables.
// The zero value is silent; set Coefficients or use NewSection.
type Section struct {
	Coefficients

	s1, s2 float64
}

// NewSection returns a section with the given coefficients and cleared
// state.
func NewSection(c Coefficients) *Section {
	return &Section{Coefficients: c}
}

// ProcessSample filters one sample.
func (s *Section) ProcessSample(x float64) float64 {
	y := s.B0*x + s.s1
	s.s1 = s.B1*x - s.A1*y + s.s2
	s.s2 = s.B2*x - s.A2*y
	return y
}

// ProcessBlock filters buf in place. State below the denormal range is
// flushed to zero at the end of the block.
func (s *Section) ProcessBlock(buf []float64) {
	c := s.Coefficients
	s1, s2 := s.s1, s.s2
	for i, x := range buf {
		y := c.B0*x + s1
		s1 = c.B1*x - c.A1*y + s2
		s2 = c.B2*x - c.A2*y
		buf[i] = y
	}
	s.s1, s.s2 = flush(s1), flush(s2)
}

// Reset clears the filter state.
func (s *Section) Reset() {
	s.s1, s.s2 = 0, 0
}

// Idle reports whether the section holds no state.
func (s *Section) Idle() bool {
	return s.s1 == 0 && s.s2 == 0
}

// Stereo runs the same coefficients on a left and a right channel.
type Stereo struct {
	L, R Section
}

// NewStereo returns a stereo pair with cleared state.
func NewStereo(c Coefficients) Stereo {
	return Stereo{L: Section{Coefficients: c}, R: Section{Coefficients: c}}
}

// SetCoefficients replaces the coefficients of both channels and keeps
// their state, so a parameter sweep does not click.
func (s *Stereo) SetCoefficients(c Coefficients) {
	s.L.Coefficients = c
	s.R.Coefficients = c
}

// Process filters both channels in place.
func (s *Stereo) Process(l, r []float64) {
	s.L.ProcessBlock(l)
	s.R.ProcessBlock(r)
}

func flush(x float64) float64 {
	if x > -1e-30 && x < 1e-30 {
		return 0
	}
	return x
}
