// Package modules registers the custom processing kernels used by the stem
// chains and the master effects bus: a stereo-linked compressor with
// gain-reduction telemetry, a mid/side stereo expander and an FDN
// reverberator.
package modules

import (
	"fmt"

	"github.com/cwbudde/algo-stems/engine"
)

// Module names.
const (
	Compressor     = "compressor"
	StereoExpander = "stereo-expander"
	Reverberator   = "reverberator"
)

// GainReduction is posted by compressor kernels at roughly ReportInterval.
// DB is the largest reduction since the previous report, as a positive
// number.
type GainReduction struct {
	DB float64
}

// Reset asks a kernel to clear its internal state (envelopes, tails).
type Reset struct{}

// ReportInterval is the target spacing of GainReduction reports in seconds.
const ReportInterval = 0.05

// Descriptors returns every module this package provides.
func Descriptors() []engine.ModuleDescriptor {
	return []engine.ModuleDescriptor{
		compressorDescriptor(),
		stereoExpanderDescriptor(),
		reverberatorDescriptor(),
	}
}

// Register adds every module not yet known to ctx. It is safe to call more
// than once per context.
func Register(ctx *engine.Context) error {
	for _, desc := range Descriptors() {
		if ctx.HasModule(desc.Name) {
			continue
		}
		if err := ctx.RegisterModule(desc); err != nil {
			return fmt.Errorf("modules: %w", err)
		}
	}
	return nil
}

// last returns the final value of a parameter block.
func last(values []float64) float64 {
	return values[len(values)-1]
}
