package pipeline

import (
	"github.com/dreamseal/facerecon/internal/config"
	"github.com/dreamseal/facerecon/internal/version"
)

// CapabilityReport describes what this build can do.
type CapabilityReport struct {
	Version       string   `json:"version"`
	OutputModes   []string `json:"output_modes"`
	OutputFormats []string `json:"output_formats"`
	ImageFormats  []string `json:"image_formats"`
	ICPMethods    []string `json:"icp_methods"`
	Features      []string `json:"features"`
	MinFrames     int      `json:"min_frames"`
}

// Capabilities reports the supported modes, formats and features.
func Capabilities() CapabilityReport {
	return CapabilityReport{
		Version:       version.String(),
		OutputModes:   []string{config.OutputMesh, config.OutputPoints},
		OutputFormats: []string{config.FormatASCII, config.FormatBinaryLittleEndian},
		ImageFormats:  []string{"png", "jpeg", "gif", "bmp", "tiff", "webp"},
		ICPMethods:    []string{config.ICPPointToPlane, config.ICPPointToPoint},
		Features:      []string{"icp", "tsdf_fusion", "marching_tetrahedra", "depth_quality"},
		MinFrames:     config.DefaultMinFrames,
	}
}
