// Package resample converts decoded audio to the engine sample rate with a
// Kaiser-windowed polyphase FIR.
//
// Conversion is offline: [Convert] evaluates every output sample directly
// against the whole input and removes the filter delay, so stems recorded
// at different rates still start on the same frame.
package resample
