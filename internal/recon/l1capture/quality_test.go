package l1capture

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dreamseal/facerecon/internal/recon"
)

func TestAssessDepth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		w, h        int
		fill        func(i int) float32
		wantQuality DepthQuality
		wantIssues  int
	}{
		{"full resolution dense", 640, 480, func(int) float32 { return 0.5 }, DepthQualityExcellent, 0},
		{"vga minus a row", 640, 460, func(int) float32 { return 0.5 }, DepthQualityGood, 0},
		{"low resolution", 100, 100, func(int) float32 { return 0.5 }, DepthQualityFair, 1},
		{"sparse", 640, 480, func(i int) float32 {
			if i%2 == 0 {
				return 0
			}
			return 0.5
		}, DepthQualityFair, 1},
		{"mostly invalid", 640, 480, func(i int) float32 {
			if i%10 == 0 {
				return 0.5
			}
			return float32(math.NaN())
		}, DepthQualityPoor, 1},
		{"all invalid", 64, 48, func(int) float32 { return 0 }, DepthQualityPoor, 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			values := make([]float32, tt.w*tt.h)
			for i := range values {
				values[i] = tt.fill(i)
			}
			frame := &recon.CaptureFrame{Depth: &recon.DepthMap{Width: tt.w, Height: tt.h, Values: values}}
			r := AssessDepth(frame, 2.0)
			assert.Equal(t, tt.wantQuality, r.Quality)
			assert.Len(t, r.Issues, tt.wantIssues, "issues: %v", r.Issues)
		})
	}
}

func TestAssessDepthStatistics(t *testing.T) {
	t.Parallel()
	frame := &recon.CaptureFrame{Index: 2, Depth: &recon.DepthMap{
		Width: 4, Height: 1, Values: []float32{0.4, 0.6, 5.0, -1},
	}}
	r := AssessDepth(frame, 2.0)
	assert.Equal(t, 2, r.FrameIndex)
	assert.Equal(t, "4x1", r.Resolution)
	assert.Equal(t, 2, r.ValidSamples)
	assert.InDelta(t, 0.5, r.ValidFraction, 1e-12)
	assert.InDelta(t, 0.4, r.MinDepth, 1e-6)
	assert.InDelta(t, 0.6, r.MaxDepth, 1e-6)
	assert.InDelta(t, 0.5, r.MeanDepth, 1e-6)
	assert.True(t, r.IsDegraded() || r.Quality == DepthQualityFair)
}
