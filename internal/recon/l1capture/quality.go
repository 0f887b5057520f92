package l1capture

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/dreamseal/facerecon/internal/recon"
)

// DepthQuality represents the assessed quality of a frame's depth map.
type DepthQuality string

const (
	// DepthQualityExcellent indicates full resolution and dense valid samples
	DepthQualityExcellent DepthQuality = "excellent"
	// DepthQualityGood indicates usable resolution with at most one issue
	DepthQualityGood DepthQuality = "good"
	// DepthQualityFair indicates low resolution or a noticeably sparse map
	DepthQualityFair DepthQuality = "fair"
	// DepthQualityPoor indicates too few valid samples to contribute much
	DepthQualityPoor DepthQuality = "poor"
)

// Resolution and density thresholds for depth quality.
const (
	LowResolutionPixels  = 100_000
	FullResolutionPixels = 300_000
	PoorValidFraction    = 0.25
	SparseValidFraction  = 0.6
)

// DepthReport summarises one depth map. Depth statistics cover only valid
// samples (finite, positive, within maxRange).
type DepthReport struct {
	FrameIndex    int          `json:"frame_index"`
	Resolution    string       `json:"resolution"`
	TotalPixels   int          `json:"total_pixels"`
	ValidSamples  int          `json:"valid_samples"`
	ValidFraction float64      `json:"valid_fraction"`
	MinDepth      float64      `json:"min_depth_m"`
	MaxDepth      float64      `json:"max_depth_m"`
	MeanDepth     float64      `json:"mean_depth_m"`
	StdDepth      float64      `json:"std_depth_m"`
	Quality       DepthQuality `json:"quality"`
	Issues        []string     `json:"issues,omitempty"`
}

// AssessDepth grades the depth map of frame.
func AssessDepth(frame *recon.CaptureFrame, maxRange float64) DepthReport {
	d := frame.Depth
	r := DepthReport{
		FrameIndex: frame.Index,
		Quality:    DepthQualityPoor,
	}
	if d == nil || len(d.Values) == 0 {
		r.Issues = append(r.Issues, "no depth data")
		return r
	}
	r.TotalPixels = d.Width * d.Height
	r.Resolution = fmt.Sprintf("%dx%d", d.Width, d.Height)

	valid := make([]float64, 0, len(d.Values))
	r.MinDepth = math.Inf(1)
	r.MaxDepth = math.Inf(-1)
	for _, v := range d.Values {
		f := float64(v)
		if !(f > 0) || math.IsInf(f, 0) || f > maxRange {
			continue
		}
		valid = append(valid, f)
		r.MinDepth = math.Min(r.MinDepth, f)
		r.MaxDepth = math.Max(r.MaxDepth, f)
	}
	r.ValidSamples = len(valid)
	r.ValidFraction = float64(len(valid)) / float64(r.TotalPixels)
	if len(valid) == 0 {
		r.MinDepth, r.MaxDepth = 0, 0
		r.Issues = append(r.Issues, "no valid depth samples")
		return r
	}
	r.MeanDepth, r.StdDepth = stat.MeanStdDev(valid, nil)
	if len(valid) == 1 {
		r.StdDepth = 0
	}

	r.Quality = DepthQualityExcellent
	switch {
	case r.TotalPixels < LowResolutionPixels:
		r.Issues = append(r.Issues, "low depth resolution")
		r.Quality = DepthQualityFair
	case r.TotalPixels < FullResolutionPixels:
		r.Quality = DepthQualityGood
	}
	switch {
	case r.ValidFraction < PoorValidFraction:
		r.Issues = append(r.Issues, fmt.Sprintf("only %.0f%% of depth samples are valid", 100*r.ValidFraction))
		r.Quality = DepthQualityPoor
	case r.ValidFraction < SparseValidFraction:
		r.Issues = append(r.Issues, "sparse depth map")
		r.Quality = worse(r.Quality, DepthQualityFair)
	}
	return r
}

var qualityRank = map[DepthQuality]int{
	DepthQualityExcellent: 0,
	DepthQualityGood:      1,
	DepthQualityFair:      2,
	DepthQualityPoor:      3,
}

func worse(a, b DepthQuality) DepthQuality {
	if qualityRank[b] > qualityRank[a] {
		return b
	}
	return a
}

// IsDegraded reports whether the report should flag the reconstruction as
// built from weak input.
func (r DepthReport) IsDegraded() bool {
	return r.Quality == DepthQualityPoor
}
