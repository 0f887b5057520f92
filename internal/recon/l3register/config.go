package l3register

import (
	"fmt"
	"runtime"

	"github.com/dreamseal/facerecon/internal/config"
)

// Alignment methods.
const (
	MethodPointToPoint = config.ICPPointToPoint
	MethodPointToPlane = config.ICPPointToPlane
)

// Config holds ICP parameters.
type Config struct {
	Method        string
	MaxIterations int
	// RotationEpsilon and TranslationEpsilon stop the loop once an
	// iteration's incremental motion falls below both.
	RotationEpsilon    float64
	TranslationEpsilon float64
	// MaxCorrespondence rejects pairs farther apart than this (meters).
	MaxCorrespondence float64
	// MaxResidual is the largest final RMS residual that counts as converged.
	MaxResidual float64
	// SamplePoints caps the number of source points used per iteration.
	SamplePoints int
	// OutlierPercentile keeps only the closest fraction of pairs.
	OutlierPercentile float64
	// ReferenceVoxel is the model's downsampling cell size.
	ReferenceVoxel float64
	Workers        int
}

// DefaultConfig returns the registration defaults.
func DefaultConfig() Config {
	return Config{
		Method:             config.DefaultICPMethod,
		MaxIterations:      config.DefaultICPMaxIterations,
		RotationEpsilon:    config.DefaultICPRotationEpsilonRad,
		TranslationEpsilon: config.DefaultICPTranslationEpsilonM,
		MaxCorrespondence:  config.DefaultICPMaxCorrespondenceM,
		MaxResidual:        config.DefaultICPMaxResidualM,
		SamplePoints:       config.DefaultICPSamplePoints,
		OutlierPercentile:  config.DefaultICPOutlierPercentile,
		ReferenceVoxel:     config.DefaultICPReferenceVoxelM,
		Workers:            runtime.NumCPU(),
	}
}

// Validate reports an unusable configuration.
func (c Config) Validate() error {
	if c.Method != MethodPointToPoint && c.Method != MethodPointToPlane {
		return fmt.Errorf("unknown ICP method %q", c.Method)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be >= 1, got %d", c.MaxIterations)
	}
	if !(c.MaxCorrespondence > 0) || !(c.MaxResidual > 0) || !(c.ReferenceVoxel > 0) {
		return fmt.Errorf("correspondence, residual and voxel sizes must be positive")
	}
	if c.RotationEpsilon < 0 || c.TranslationEpsilon < 0 {
		return fmt.Errorf("convergence thresholds must not be negative")
	}
	if c.OutlierPercentile <= 0 || c.OutlierPercentile > 1 {
		return fmt.Errorf("outlier percentile must be in (0, 1], got %v", c.OutlierPercentile)
	}
	if c.SamplePoints < MinCorrespondences {
		return fmt.Errorf("sample points must be >= %d, got %d", MinCorrespondences, c.SamplePoints)
	}
	return nil
}
