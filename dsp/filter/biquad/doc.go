// Package biquad provides the second-order IIR section used by the engine's
// filter nodes.
//
// A [Section] implements Direct Form II Transposed processing for the
// [Coefficients] produced by dsp/filter/design. Coefficients can be swapped
// between blocks without resetting the delay line, which keeps parameter
// sweeps click-free.
package biquad
