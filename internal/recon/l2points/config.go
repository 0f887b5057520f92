package l2points

import (
	"fmt"

	"github.com/dreamseal/facerecon/internal/config"
)

// Config holds projector parameters.
type Config struct {
	// Stride samples every Stride-th pixel in both directions (1 = all).
	Stride int
	// MaxRange discards samples farther than this many meters.
	MaxRange float64
	// RangeFalloff is the distance at which the range weight halves.
	RangeFalloff float64
	// ObliqueMinCos zeroes the weight of samples whose surface normal makes
	// a smaller cosine than this with the viewing ray.
	ObliqueMinCos float64
}

// DefaultConfig returns the projector defaults.
func DefaultConfig() Config {
	return Config{
		Stride:        config.DefaultStride,
		MaxRange:      config.DefaultMaxRangeMeters,
		RangeFalloff:  config.DefaultRangeFalloffMeters,
		ObliqueMinCos: config.DefaultObliqueMinCos,
	}
}

// Validate reports an unusable configuration.
func (c Config) Validate() error {
	if c.Stride < 1 {
		return fmt.Errorf("stride must be >= 1, got %d", c.Stride)
	}
	if !(c.MaxRange > 0) {
		return fmt.Errorf("max range must be positive, got %v", c.MaxRange)
	}
	if !(c.RangeFalloff > 0) {
		return fmt.Errorf("range falloff must be positive, got %v", c.RangeFalloff)
	}
	if c.ObliqueMinCos < 0 || c.ObliqueMinCos >= 1 {
		return fmt.Errorf("oblique min cos must be in [0, 1), got %v", c.ObliqueMinCos)
	}
	return nil
}
