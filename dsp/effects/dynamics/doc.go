// Package dynamics provides the stereo-linked compressor used on stem
// chains and on the master bus.
//
// Building with -tags fastmath swaps the per-sample log2 and exp2 for the
// approximations from algo-approx.
package dynamics
