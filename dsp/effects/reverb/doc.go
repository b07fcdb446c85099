// Package reverb provides an algorithmic stereo reverberator built on an
// eight-line feedback delay network.
package reverb
