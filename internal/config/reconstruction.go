package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"
)

// DefaultConfigPath is the path to the canonical reconstruction defaults file.
const DefaultConfigPath = "config/reconstruction.defaults.json"

// Anchor policies.
const (
	AnchorFirst = "first"
	AnchorFront = "front"
)

// ICP error metrics.
const (
	ICPPointToPoint = "point_to_point"
	ICPPointToPlane = "point_to_plane"
)

// Output modes and formats.
const (
	OutputMesh   = "mesh"
	OutputPoints = "points"

	FormatASCII              = "ascii"
	FormatBinaryLittleEndian = "binary_little_endian"
)

// Named defaults. These are the values the Get* accessors fall back to and
// the values shipped in config/reconstruction.defaults.json.
const (
	DefaultMinFrames                = 3
	DefaultMaxRangeMeters           = 2.0
	DefaultStride                   = 4
	DefaultAnchorPolicy             = AnchorFront
	DefaultICPMaxIterations         = 30
	DefaultICPRotationEpsilonRad    = 1e-4
	DefaultICPTranslationEpsilonM   = 1e-5
	DefaultICPMaxCorrespondenceM    = 0.02
	DefaultICPMaxResidualM          = 0.005
	DefaultICPSamplePoints          = 4000
	DefaultICPOutlierPercentile     = 0.9
	DefaultICPMethod                = ICPPointToPlane
	DefaultICPReferenceVoxelM       = 0.002
	DefaultVoxelSizeMeters          = 0.003
	DefaultTruncationMeters         = 0.012
	DefaultMaxWeight                = 64.0
	DefaultMinExtractWeight         = 0.1
	DefaultUnconvergedWeightScale   = 0.5
	DefaultObliqueMinCos            = 0.1
	DefaultRangeFalloffMeters       = 1.0
	DefaultOutputMode               = OutputMesh
	DefaultOutputFormat             = FormatASCII
	DefaultIncludeColor             = true
	maxConfigFileSize         int64 = 1 * 1024 * 1024
)

// ReconstructionConfig holds every tunable of the reconstruction pipeline.
// Fields are pointers so a partial file only overrides what it names; the
// Get* accessors supply the named defaults for everything else.
type ReconstructionConfig struct {
	// Frame loader
	MinFrames *int `json:"min_frames,omitempty" toml:"min_frames,omitempty"`
	Workers   *int `json:"workers,omitempty" toml:"workers,omitempty"`

	// Projector
	MaxRangeMeters *float64 `json:"max_range_m,omitempty" toml:"max_range_m,omitempty"`
	Stride         *int     `json:"stride,omitempty" toml:"stride,omitempty"`

	// Registration
	AnchorPolicy                *string  `json:"anchor_policy,omitempty" toml:"anchor_policy,omitempty"`
	ICPMethod                   *string  `json:"icp_method,omitempty" toml:"icp_method,omitempty"`
	ICPMaxIterations            *int     `json:"icp_max_iterations,omitempty" toml:"icp_max_iterations,omitempty"`
	ICPRotationEpsilonRad       *float64 `json:"icp_rotation_epsilon_rad,omitempty" toml:"icp_rotation_epsilon_rad,omitempty"`
	ICPTranslationEpsilonMeters *float64 `json:"icp_translation_epsilon_m,omitempty" toml:"icp_translation_epsilon_m,omitempty"`
	ICPMaxCorrespondenceMeters  *float64 `json:"icp_max_correspondence_m,omitempty" toml:"icp_max_correspondence_m,omitempty"`
	ICPMaxResidualMeters        *float64 `json:"icp_max_residual_m,omitempty" toml:"icp_max_residual_m,omitempty"`
	ICPSamplePoints             *int     `json:"icp_sample_points,omitempty" toml:"icp_sample_points,omitempty"`
	ICPOutlierPercentile        *float64 `json:"icp_outlier_percentile,omitempty" toml:"icp_outlier_percentile,omitempty"`
	ICPReferenceVoxelMeters     *float64 `json:"icp_reference_voxel_m,omitempty" toml:"icp_reference_voxel_m,omitempty"`

	// Volumetric fusion
	VoxelSizeMeters        *float64 `json:"voxel_size_m,omitempty" toml:"voxel_size_m,omitempty"`
	TruncationMeters       *float64 `json:"truncation_m,omitempty" toml:"truncation_m,omitempty"`
	MaxWeight              *float64 `json:"max_weight,omitempty" toml:"max_weight,omitempty"`
	MinExtractWeight       *float64 `json:"min_extract_weight,omitempty" toml:"min_extract_weight,omitempty"`
	UnconvergedWeightScale *float64 `json:"unconverged_weight_scale,omitempty" toml:"unconverged_weight_scale,omitempty"`
	ObliqueMinCos          *float64 `json:"oblique_min_cos,omitempty" toml:"oblique_min_cos,omitempty"`
	RangeFalloffMeters     *float64 `json:"range_falloff_m,omitempty" toml:"range_falloff_m,omitempty"`

	// Export
	OutputMode   *string `json:"output_mode,omitempty" toml:"output_mode,omitempty"`
	OutputFormat *string `json:"output_format,omitempty" toml:"output_format,omitempty"`
	IncludeColor *bool   `json:"include_color,omitempty" toml:"include_color,omitempty"`
	OutputDir    *string `json:"output_dir,omitempty" toml:"output_dir,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyReconstructionConfig returns a config with all fields nil, so every
// accessor yields its named default.
func EmptyReconstructionConfig() *ReconstructionConfig {
	return &ReconstructionConfig{}
}

// DefaultReconstructionConfig returns a config with every field populated
// from the named defaults.
func DefaultReconstructionConfig() *ReconstructionConfig {
	return &ReconstructionConfig{
		MinFrames:                   ptrInt(DefaultMinFrames),
		MaxRangeMeters:              ptrFloat64(DefaultMaxRangeMeters),
		Stride:                      ptrInt(DefaultStride),
		AnchorPolicy:                ptrString(DefaultAnchorPolicy),
		ICPMethod:                   ptrString(DefaultICPMethod),
		ICPMaxIterations:            ptrInt(DefaultICPMaxIterations),
		ICPRotationEpsilonRad:       ptrFloat64(DefaultICPRotationEpsilonRad),
		ICPTranslationEpsilonMeters: ptrFloat64(DefaultICPTranslationEpsilonM),
		ICPMaxCorrespondenceMeters:  ptrFloat64(DefaultICPMaxCorrespondenceM),
		ICPMaxResidualMeters:        ptrFloat64(DefaultICPMaxResidualM),
		ICPSamplePoints:             ptrInt(DefaultICPSamplePoints),
		ICPOutlierPercentile:        ptrFloat64(DefaultICPOutlierPercentile),
		ICPReferenceVoxelMeters:     ptrFloat64(DefaultICPReferenceVoxelM),
		VoxelSizeMeters:             ptrFloat64(DefaultVoxelSizeMeters),
		TruncationMeters:            ptrFloat64(DefaultTruncationMeters),
		MaxWeight:                   ptrFloat64(DefaultMaxWeight),
		MinExtractWeight:            ptrFloat64(DefaultMinExtractWeight),
		UnconvergedWeightScale:      ptrFloat64(DefaultUnconvergedWeightScale),
		ObliqueMinCos:               ptrFloat64(DefaultObliqueMinCos),
		RangeFalloffMeters:          ptrFloat64(DefaultRangeFalloffMeters),
		OutputMode:                  ptrString(DefaultOutputMode),
		OutputFormat:                ptrString(DefaultOutputFormat),
		IncludeColor:                ptrBool(DefaultIncludeColor),
	}
}

// LoadReconstructionConfig loads a config from a .json or .toml file.
// Fields omitted from the file keep their defaults, so partial configs are
// safe. The loaded config is validated before it is returned.
func LoadReconstructionConfig(path string) (*ReconstructionConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyReconstructionConfig()
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *ReconstructionConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/recon/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadReconstructionConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *ReconstructionConfig) Validate() error {
	if c.MinFrames != nil && *c.MinFrames < 1 {
		return fmt.Errorf("min_frames must be at least 1, got %d", *c.MinFrames)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.MaxRangeMeters != nil && *c.MaxRangeMeters <= 0 {
		return fmt.Errorf("max_range_m must be positive, got %f", *c.MaxRangeMeters)
	}
	if c.Stride != nil && *c.Stride < 1 {
		return fmt.Errorf("stride must be at least 1, got %d", *c.Stride)
	}
	if c.AnchorPolicy != nil && *c.AnchorPolicy != AnchorFirst && *c.AnchorPolicy != AnchorFront {
		return fmt.Errorf("anchor_policy must be %q or %q, got %q", AnchorFirst, AnchorFront, *c.AnchorPolicy)
	}
	if c.ICPMethod != nil && *c.ICPMethod != ICPPointToPoint && *c.ICPMethod != ICPPointToPlane {
		return fmt.Errorf("icp_method must be %q or %q, got %q", ICPPointToPoint, ICPPointToPlane, *c.ICPMethod)
	}
	if c.ICPMaxIterations != nil && *c.ICPMaxIterations < 1 {
		return fmt.Errorf("icp_max_iterations must be at least 1, got %d", *c.ICPMaxIterations)
	}
	if c.ICPSamplePoints != nil && *c.ICPSamplePoints < 3 {
		return fmt.Errorf("icp_sample_points must be at least 3, got %d", *c.ICPSamplePoints)
	}
	if c.ICPOutlierPercentile != nil && (*c.ICPOutlierPercentile <= 0 || *c.ICPOutlierPercentile > 1) {
		return fmt.Errorf("icp_outlier_percentile must be in (0, 1], got %f", *c.ICPOutlierPercentile)
	}
	positive := []struct {
		name string
		v    *float64
	}{
		{"icp_rotation_epsilon_rad", c.ICPRotationEpsilonRad},
		{"icp_translation_epsilon_m", c.ICPTranslationEpsilonMeters},
		{"icp_max_correspondence_m", c.ICPMaxCorrespondenceMeters},
		{"icp_max_residual_m", c.ICPMaxResidualMeters},
		{"voxel_size_m", c.VoxelSizeMeters},
		{"truncation_m", c.TruncationMeters},
		{"max_weight", c.MaxWeight},
		{"range_falloff_m", c.RangeFalloffMeters},
	}
	for _, p := range positive {
		if p.v != nil && *p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", p.name, *p.v)
		}
	}
	if c.ICPReferenceVoxelMeters != nil && *c.ICPReferenceVoxelMeters < 0 {
		return fmt.Errorf("icp_reference_voxel_m must be non-negative, got %f", *c.ICPReferenceVoxelMeters)
	}
	if c.MinExtractWeight != nil && *c.MinExtractWeight < 0 {
		return fmt.Errorf("min_extract_weight must be non-negative, got %f", *c.MinExtractWeight)
	}
	if c.UnconvergedWeightScale != nil && (*c.UnconvergedWeightScale < 0 || *c.UnconvergedWeightScale > 1) {
		return fmt.Errorf("unconverged_weight_scale must be in [0, 1], got %f", *c.UnconvergedWeightScale)
	}
	if c.ObliqueMinCos != nil && (*c.ObliqueMinCos < 0 || *c.ObliqueMinCos >= 1) {
		return fmt.Errorf("oblique_min_cos must be in [0, 1), got %f", *c.ObliqueMinCos)
	}
	if c.TruncationMeters != nil && *c.TruncationMeters < c.GetVoxelSizeMeters()*2 {
		return fmt.Errorf("truncation_m (%f) must be at least twice voxel_size_m (%f)", *c.TruncationMeters, c.GetVoxelSizeMeters())
	}
	if c.OutputMode != nil && *c.OutputMode != OutputMesh && *c.OutputMode != OutputPoints {
		return fmt.Errorf("output_mode must be %q or %q, got %q", OutputMesh, OutputPoints, *c.OutputMode)
	}
	if c.OutputFormat != nil && *c.OutputFormat != FormatASCII && *c.OutputFormat != FormatBinaryLittleEndian {
		return fmt.Errorf("output_format must be %q or %q, got %q", FormatASCII, FormatBinaryLittleEndian, *c.OutputFormat)
	}
	return nil
}

// GetMinFrames returns the min_frames value or the default.
func (c *ReconstructionConfig) GetMinFrames() int {
	if c.MinFrames == nil {
		return DefaultMinFrames
	}
	return *c.MinFrames
}

// GetWorkers returns the worker pool size; zero or unset means one worker
// per available CPU.
func (c *ReconstructionConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetMaxRangeMeters returns the max_range_m value or the default.
func (c *ReconstructionConfig) GetMaxRangeMeters() float64 {
	if c.MaxRangeMeters == nil {
		return DefaultMaxRangeMeters
	}
	return *c.MaxRangeMeters
}

// GetStride returns the stride value or the default.
func (c *ReconstructionConfig) GetStride() int {
	if c.Stride == nil {
		return DefaultStride
	}
	return *c.Stride
}

// GetAnchorPolicy returns the anchor_policy value or the default.
func (c *ReconstructionConfig) GetAnchorPolicy() string {
	if c.AnchorPolicy == nil || *c.AnchorPolicy == "" {
		return DefaultAnchorPolicy
	}
	return *c.AnchorPolicy
}

// GetICPMethod returns the icp_method value or the default.
func (c *ReconstructionConfig) GetICPMethod() string {
	if c.ICPMethod == nil || *c.ICPMethod == "" {
		return DefaultICPMethod
	}
	return *c.ICPMethod
}

// GetICPMaxIterations returns the icp_max_iterations value or the default.
func (c *ReconstructionConfig) GetICPMaxIterations() int {
	if c.ICPMaxIterations == nil {
		return DefaultICPMaxIterations
	}
	return *c.ICPMaxIterations
}

// GetICPRotationEpsilonRad returns the icp_rotation_epsilon_rad value or the default.
func (c *ReconstructionConfig) GetICPRotationEpsilonRad() float64 {
	if c.ICPRotationEpsilonRad == nil {
		return DefaultICPRotationEpsilonRad
	}
	return *c.ICPRotationEpsilonRad
}

// GetICPTranslationEpsilonMeters returns the icp_translation_epsilon_m value or the default.
func (c *ReconstructionConfig) GetICPTranslationEpsilonMeters() float64 {
	if c.ICPTranslationEpsilonMeters == nil {
		return DefaultICPTranslationEpsilonM
	}
	return *c.ICPTranslationEpsilonMeters
}

// GetICPMaxCorrespondenceMeters returns the icp_max_correspondence_m value or the default.
func (c *ReconstructionConfig) GetICPMaxCorrespondenceMeters() float64 {
	if c.ICPMaxCorrespondenceMeters == nil {
		return DefaultICPMaxCorrespondenceM
	}
	return *c.ICPMaxCorrespondenceMeters
}

// GetICPMaxResidualMeters returns the icp_max_residual_m value or the default.
func (c *ReconstructionConfig) GetICPMaxResidualMeters() float64 {
	if c.ICPMaxResidualMeters == nil {
		return DefaultICPMaxResidualM
	}
	return *c.ICPMaxResidualMeters
}

// GetICPSamplePoints returns the icp_sample_points value or the default.
func (c *ReconstructionConfig) GetICPSamplePoints() int {
	if c.ICPSamplePoints == nil {
		return DefaultICPSamplePoints
	}
	return *c.ICPSamplePoints
}

// GetICPOutlierPercentile returns the icp_outlier_percentile value or the default.
func (c *ReconstructionConfig) GetICPOutlierPercentile() float64 {
	if c.ICPOutlierPercentile == nil {
		return DefaultICPOutlierPercentile
	}
	return *c.ICPOutlierPercentile
}

// GetICPReferenceVoxelMeters returns the icp_reference_voxel_m value or the default.
func (c *ReconstructionConfig) GetICPReferenceVoxelMeters() float64 {
	if c.ICPReferenceVoxelMeters == nil {
		return DefaultICPReferenceVoxelM
	}
	return *c.ICPReferenceVoxelMeters
}

// GetVoxelSizeMeters returns the voxel_size_m value or the default.
func (c *ReconstructionConfig) GetVoxelSizeMeters() float64 {
	if c.VoxelSizeMeters == nil {
		return DefaultVoxelSizeMeters
	}
	return *c.VoxelSizeMeters
}

// GetTruncationMeters returns the truncation_m value or the default.
func (c *ReconstructionConfig) GetTruncationMeters() float64 {
	if c.TruncationMeters == nil {
		return DefaultTruncationMeters
	}
	return *c.TruncationMeters
}

// GetMaxWeight returns the max_weight value or the default.
func (c *ReconstructionConfig) GetMaxWeight() float64 {
	if c.MaxWeight == nil {
		return DefaultMaxWeight
	}
	return *c.MaxWeight
}

// GetMinExtractWeight returns the min_extract_weight value or the default.
func (c *ReconstructionConfig) GetMinExtractWeight() float64 {
	if c.MinExtractWeight == nil {
		return DefaultMinExtractWeight
	}
	return *c.MinExtractWeight
}

// GetUnconvergedWeightScale returns the unconverged_weight_scale value or the default.
func (c *ReconstructionConfig) GetUnconvergedWeightScale() float64 {
	if c.UnconvergedWeightScale == nil {
		return DefaultUnconvergedWeightScale
	}
	return *c.UnconvergedWeightScale
}

// GetObliqueMinCos returns the oblique_min_cos value or the default.
func (c *ReconstructionConfig) GetObliqueMinCos() float64 {
	if c.ObliqueMinCos == nil {
		return DefaultObliqueMinCos
	}
	return *c.ObliqueMinCos
}

// GetRangeFalloffMeters returns the range_falloff_m value or the default.
func (c *ReconstructionConfig) GetRangeFalloffMeters() float64 {
	if c.RangeFalloffMeters == nil {
		return DefaultRangeFalloffMeters
	}
	return *c.RangeFalloffMeters
}

// GetOutputMode returns the output_mode value or the default.
func (c *ReconstructionConfig) GetOutputMode() string {
	if c.OutputMode == nil || *c.OutputMode == "" {
		return DefaultOutputMode
	}
	return *c.OutputMode
}

// GetOutputFormat returns the output_format value or the default.
func (c *ReconstructionConfig) GetOutputFormat() string {
	if c.OutputFormat == nil || *c.OutputFormat == "" {
		return DefaultOutputFormat
	}
	return *c.OutputFormat
}

// GetIncludeColor returns the include_color value or the default.
func (c *ReconstructionConfig) GetIncludeColor() bool {
	if c.IncludeColor == nil {
		return DefaultIncludeColor
	}
	return *c.IncludeColor
}

// GetOutputDir returns the output directory; empty means the system temp dir.
func (c *ReconstructionConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return os.TempDir()
	}
	return *c.OutputDir
}
