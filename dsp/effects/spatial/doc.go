// Package spatial provides stereo image processing for the master bus.
package spatial
