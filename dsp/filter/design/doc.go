// Package design computes biquad coefficients for the filter shapes the
// player exposes: lowpass and highpass for per-stem cleanup, and the
// shelf/peak shapes of the master equalizer.
//
// All designs follow the RBJ Audio EQ Cookbook. Out-of-range frequencies
// yield pass-through coefficients rather than silence.
package design
