package l4volume

import (
	"fmt"
	"runtime"

	"github.com/dreamseal/facerecon/internal/config"
)

// Config holds volumetric fusion parameters.
type Config struct {
	VoxelSize  float64
	Truncation float64
	// MaxWeight caps a cell's accumulated weight so late frames still count.
	MaxWeight float64
	// MinExtractWeight is the smallest weight a cell needs to take part in
	// surface extraction.
	MinExtractWeight float64
	// UnconvergedWeightScale multiplies observations from frames whose
	// registration did not converge.
	UnconvergedWeightScale float64
	Workers                int
}

// DefaultConfig returns the volume defaults.
func DefaultConfig() Config {
	return Config{
		VoxelSize:              config.DefaultVoxelSizeMeters,
		Truncation:             config.DefaultTruncationMeters,
		MaxWeight:              config.DefaultMaxWeight,
		MinExtractWeight:       config.DefaultMinExtractWeight,
		UnconvergedWeightScale: config.DefaultUnconvergedWeightScale,
		Workers:                runtime.NumCPU(),
	}
}

// Validate reports an unusable configuration.
func (c Config) Validate() error {
	if !(c.VoxelSize > 0) {
		return fmt.Errorf("voxel size must be positive, got %v", c.VoxelSize)
	}
	if c.Truncation < c.VoxelSize {
		return fmt.Errorf("truncation %v must be at least one voxel (%v)", c.Truncation, c.VoxelSize)
	}
	if !(c.MaxWeight > 0) {
		return fmt.Errorf("max weight must be positive, got %v", c.MaxWeight)
	}
	if c.MinExtractWeight < 0 {
		return fmt.Errorf("min extract weight must not be negative, got %v", c.MinExtractWeight)
	}
	if c.UnconvergedWeightScale < 0 || c.UnconvergedWeightScale > 1 {
		return fmt.Errorf("unconverged weight scale must be in [0, 1], got %v", c.UnconvergedWeightScale)
	}
	return nil
}
