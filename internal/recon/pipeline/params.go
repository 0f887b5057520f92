package pipeline

import (
	"fmt"

	"github.com/dreamseal/facerecon/internal/config"
	"github.com/dreamseal/facerecon/internal/recon/export"
	"github.com/dreamseal/facerecon/internal/recon/fusion"
	"github.com/dreamseal/facerecon/internal/recon/l2points"
)

// Params are the stage configurations derived from one
// ReconstructionConfig.
type Params struct {
	MinFrames int
	Workers   int
	OutputDir string
	Projector l2points.Config
	Fusion    fusion.Config
	Export    export.Options
}

// ParamsFromConfig validates cfg and derives every stage configuration from
// it. A nil cfg means all defaults.
func ParamsFromConfig(cfg *config.ReconstructionConfig) (Params, error) {
	if cfg == nil {
		cfg = config.EmptyReconstructionConfig()
	}
	if err := cfg.Validate(); err != nil {
		return Params{}, fmt.Errorf("invalid reconstruction config: %w", err)
	}

	p := Params{
		MinFrames: cfg.GetMinFrames(),
		Workers:   cfg.GetWorkers(),
		OutputDir: cfg.GetOutputDir(),
		Projector: l2points.Config{
			Stride:        cfg.GetStride(),
			MaxRange:      cfg.GetMaxRangeMeters(),
			RangeFalloff:  cfg.GetRangeFalloffMeters(),
			ObliqueMinCos: cfg.GetObliqueMinCos(),
		},
		Fusion: fusion.DefaultConfig(),
		Export: export.Options{
			Format:       cfg.GetOutputFormat(),
			IncludeColor: cfg.GetIncludeColor(),
		},
	}
	p.Fusion.AnchorPolicy = cfg.GetAnchorPolicy()
	p.Fusion.Mode = cfg.GetOutputMode()

	r := &p.Fusion.Register
	r.Method = cfg.GetICPMethod()
	r.MaxIterations = cfg.GetICPMaxIterations()
	r.RotationEpsilon = cfg.GetICPRotationEpsilonRad()
	r.TranslationEpsilon = cfg.GetICPTranslationEpsilonMeters()
	r.MaxCorrespondence = cfg.GetICPMaxCorrespondenceMeters()
	r.MaxResidual = cfg.GetICPMaxResidualMeters()
	r.SamplePoints = cfg.GetICPSamplePoints()
	r.OutlierPercentile = cfg.GetICPOutlierPercentile()
	r.ReferenceVoxel = cfg.GetICPReferenceVoxelMeters()
	r.Workers = p.Workers

	v := &p.Fusion.Volume
	v.VoxelSize = cfg.GetVoxelSizeMeters()
	v.Truncation = cfg.GetTruncationMeters()
	v.MaxWeight = cfg.GetMaxWeight()
	v.MinExtractWeight = cfg.GetMinExtractWeight()
	v.UnconvergedWeightScale = cfg.GetUnconvergedWeightScale()
	v.Workers = p.Workers

	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks every stage configuration.
func (p Params) Validate() error {
	if p.MinFrames < 1 {
		return fmt.Errorf("min frames must be >= 1, got %d", p.MinFrames)
	}
	if p.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", p.Workers)
	}
	if err := p.Projector.Validate(); err != nil {
		return fmt.Errorf("projector: %w", err)
	}
	if err := p.Fusion.Validate(); err != nil {
		return fmt.Errorf("fusion: %w", err)
	}
	return nil
}
