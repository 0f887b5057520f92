package pipeline

import (
	"math"

	"github.com/dreamseal/facerecon/internal/recon"
	"github.com/dreamseal/facerecon/internal/recon/l1capture"
	"github.com/dreamseal/facerecon/internal/recon/l3register"
)

// ReconstructionResult is the outcome of one request. On failure Success is
// false, OutputPath is empty and ErrorKind names the failure.
type ReconstructionResult struct {
	Success          bool            `json:"success"`
	OutputPath       string          `json:"output_path"`
	VertexCount      int             `json:"vertex_count"`
	FaceCount        int             `json:"face_count"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	ErrorKind        recon.ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail      string          `json:"error_detail,omitempty"`

	SessionID     string            `json:"session_id"`
	FrameCount    int               `json:"frame_count"`
	AnchorIndex   int               `json:"anchor_index"`
	AlignedFrames int               `json:"aligned_frames"`
	Degraded      bool              `json:"degraded"`
	DepthMean     float64           `json:"fused_depth_mean_m"`
	DepthStd      float64           `json:"fused_depth_std_m"`
	Frames        []FrameDiagnostic `json:"frames,omitempty"`
}

// FrameDiagnostic summarises how one input frame fared.
type FrameDiagnostic struct {
	Index      int                   `json:"index"`
	Angle      recon.AngleLabel      `json:"angle"`
	Depth      l1capture.DepthReport `json:"depth"`
	Projection ProjectionSummary     `json:"projection"`
	// Registration is nil when fusion did not get as far as this frame.
	Registration *RegistrationSummary `json:"registration,omitempty"`
}

// ProjectionSummary counts emitted and rejected samples.
type ProjectionSummary struct {
	Sampled             int `json:"sampled"`
	Emitted             int `json:"emitted"`
	RejectedNonPositive int `json:"rejected_non_positive"`
	RejectedNonFinite   int `json:"rejected_non_finite"`
	RejectedOutOfRange  int `json:"rejected_out_of_range"`
}

// RegistrationSummary is the JSON form of an ICP result.
type RegistrationSummary struct {
	Anchor          bool       `json:"anchor,omitempty"`
	Converged       bool       `json:"converged"`
	Iterations      int        `json:"iterations"`
	RMS             *float64   `json:"rms_m,omitempty"`
	RotationDeg     float64    `json:"rotation_deg"`
	Translation     [3]float64 `json:"translation_m"`
	Correspondences int        `json:"correspondences"`
	ResidualHistory []float64  `json:"residual_history,omitempty"`
	Note            string     `json:"note,omitempty"`
}

func summarizeProjection(s recon.ProjectionStats) ProjectionSummary {
	return ProjectionSummary{
		Sampled:             s.Sampled,
		Emitted:             s.Emitted,
		RejectedNonPositive: s.RejectedNonPositive,
		RejectedNonFinite:   s.RejectedNonFinite,
		RejectedOutOfRange:  s.RejectedOutOfRange,
	}
}

func summarizeRegistration(r l3register.Result, anchor bool) *RegistrationSummary {
	t := r.Pose.TranslationVec()
	s := &RegistrationSummary{
		Anchor:          anchor,
		Converged:       r.Converged,
		Iterations:      r.Iterations,
		RotationDeg:     r.Pose.RotationAngle() * 180 / math.Pi,
		Translation:     [3]float64{t.X, t.Y, t.Z},
		Correspondences: r.Correspondences,
		ResidualHistory: r.ResidualHistory,
	}
	// encoding/json cannot represent Inf.
	if !math.IsInf(r.RMS, 0) && !math.IsNaN(r.RMS) {
		rms := r.RMS
		s.RMS = &rms
	}
	if r.Err != nil {
		s.Note = r.Err.Error()
	}
	return s
}
