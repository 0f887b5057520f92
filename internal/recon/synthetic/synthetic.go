// Package synthetic renders deterministic depth+color captures of a flat
// rectangular patch seen from several head angles. It backs the pipeline
// tests and the gen-capture tool.
package synthetic

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dreamseal/facerecon/internal/fsutil"
	"github.com/dreamseal/facerecon/internal/recon"
	"github.com/dreamseal/facerecon/internal/recon/l1capture"
)

// Scene is a planar patch facing the camera at PlaneDepth, rotated about
// Pivot for each view.
type Scene struct {
	Width, Height int
	Intrinsics    recon.Intrinsics
	PlaneDepth    float64
	// HalfWidth and HalfHeight bound the patch in its own plane; pixels
	// outside it read as zero depth.
	HalfWidth, HalfHeight float64
	// CheckerSize is the edge length of the color pattern squares.
	CheckerSize float64
}

// View is one capture angle. Yaw turns about the camera Y axis, Pitch about
// the X axis, both through the scene pivot.
type View struct {
	Angle     recon.AngleLabel
	Yaw       float64
	Pitch     float64
	Timestamp float64
}

// DefaultScene is a 640x480 camera with fx=fy=500 looking at a plane 0.5m
// away.
func DefaultScene() Scene {
	return Scene{
		Width:  640,
		Height: 480,
		Intrinsics: recon.Intrinsics{
			Fx: 500, Fy: 500, Cx: 320, Cy: 240,
			ReferenceWidth: 640, ReferenceHeight: 480,
		},
		PlaneDepth:  0.5,
		HalfWidth:   0.12,
		HalfHeight:  0.16,
		CheckerSize: 0.02,
	}
}

// FiveAngles returns front, left, right, top and bottom views turned by deg
// degrees, one second apart.
func FiveAngles(deg float64) []View {
	r := deg * math.Pi / 180
	return []View{
		{Angle: recon.AngleFront, Timestamp: 0},
		{Angle: recon.AngleLeft, Yaw: -r, Timestamp: 1},
		{Angle: recon.AngleRight, Yaw: r, Timestamp: 2},
		{Angle: recon.AngleTop, Pitch: r, Timestamp: 3},
		{Angle: recon.AngleBottom, Pitch: -r, Timestamp: 4},
	}
}

// Pivot is the point the patch turns about, at the centre of the patch.
func (s Scene) Pivot() r3.Vec { return r3.Vec{Z: s.PlaneDepth} }

// Pose returns the view's rotation about the pivot.
func (s Scene) Pose(v View) recon.Transform {
	rot := recon.AxisAngle(r3.Vec{Y: 1}, v.Yaw).Mul(recon.AxisAngle(r3.Vec{X: 1}, v.Pitch))
	pivot := s.Pivot()
	return recon.Translation(pivot).Mul(rot).Mul(recon.Translation(r3.Scale(-1, pivot)))
}

// Render ray-casts the patch for view v.
func (s Scene) Render(v View) (*recon.DepthMap, *image.RGBA) {
	pose := s.Pose(v)
	inv := pose.Inverse()
	normal := pose.Rotate(r3.Vec{Z: -1})
	pivot := s.Pivot()
	in := s.Intrinsics

	depth := &recon.DepthMap{Width: s.Width, Height: s.Height, Values: make([]float32, s.Width*s.Height)}
	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	background := color.RGBA{R: 20, G: 20, B: 24, A: 255}
	for row := 0; row < s.Height; row++ {
		for col := 0; col < s.Width; col++ {
			img.SetRGBA(col, row, background)
			dir := r3.Vec{X: (float64(col) - in.Cx) / in.Fx, Y: (float64(row) - in.Cy) / in.Fy, Z: 1}
			denom := r3.Dot(normal, dir)
			if math.Abs(denom) < 1e-9 {
				continue
			}
			t := r3.Dot(normal, pivot) / denom
			if t <= 0 {
				continue
			}
			hit := r3.Scale(t, dir)
			local := inv.Apply(hit)
			if math.Abs(local.X) > s.HalfWidth || math.Abs(local.Y) > s.HalfHeight {
				continue
			}
			depth.Values[row*s.Width+col] = float32(t)
			img.SetRGBA(col, row, s.texture(local))
		}
	}
	return depth, img
}

func (s Scene) texture(local r3.Vec) color.RGBA {
	cx := int(math.Floor(local.X / s.CheckerSize))
	cy := int(math.Floor(local.Y / s.CheckerSize))
	if (cx+cy)%2 == 0 {
		return color.RGBA{R: 224, G: 172, B: 150, A: 255}
	}
	return color.RGBA{R: 190, G: 130, B: 110, A: 255}
}

// Frames renders every view into in-memory capture frames.
func (s Scene) Frames(views []View) []*recon.CaptureFrame {
	frames := make([]*recon.CaptureFrame, len(views))
	for i, v := range views {
		depth, img := s.Render(v)
		frames[i] = &recon.CaptureFrame{
			Index:      i,
			Angle:      v.Angle,
			Timestamp:  v.Timestamp,
			Color:      img,
			Depth:      depth,
			Intrinsics: s.Intrinsics,
		}
	}
	return frames
}

// WriteCaptureSet renders every view and writes a PNG color image and a raw
// float32 depth file per view under dir, returning matching descriptors.
func WriteCaptureSet(fs fsutil.FileSystem, dir string, s Scene, views []View) ([]l1capture.FrameDescriptor, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	descs := make([]l1capture.FrameDescriptor, 0, len(views))
	for i, v := range views {
		depth, img := s.Render(v)
		colorPath := filepath.Join(dir, fmt.Sprintf("%02d_%s_color.png", i, v.Angle))
		depthPath := filepath.Join(dir, fmt.Sprintf("%02d_%s_depth.bin", i, v.Angle))

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode %s: %w", colorPath, err)
		}
		if err := fs.WriteFile(colorPath, buf.Bytes(), 0644); err != nil {
			return nil, fmt.Errorf("write %s: %w", colorPath, err)
		}
		if err := fs.WriteFile(depthPath, l1capture.EncodeDepth(depth), 0644); err != nil {
			return nil, fmt.Errorf("write %s: %w", depthPath, err)
		}
		descs = append(descs, l1capture.FrameDescriptor{
			ColorPath:       colorPath,
			DepthPath:       depthPath,
			DepthWidth:      s.Width,
			DepthHeight:     s.Height,
			Fx:              s.Intrinsics.Fx,
			Fy:              s.Intrinsics.Fy,
			Cx:              s.Intrinsics.Cx,
			Cy:              s.Intrinsics.Cy,
			IntrinsicWidth:  int(s.Intrinsics.ReferenceWidth),
			IntrinsicHeight: int(s.Intrinsics.ReferenceHeight),
			Timestamp:       v.Timestamp,
			AngleID:         string(v.Angle),
		})
	}
	return descs, nil
}

// ManifestName is the manifest file WriteManifest creates.
const ManifestName = "manifest.json"

// WriteManifest writes a capture set under dir plus a manifest.json whose
// frame paths are relative to dir, so the set can be moved as a unit. It
// returns the manifest path.
func WriteManifest(fs fsutil.FileSystem, dir string, s Scene, views []View) (string, error) {
	descs, err := WriteCaptureSet(fs, dir, s, views)
	if err != nil {
		return "", err
	}
	for i := range descs {
		descs[i].ColorPath = filepath.Base(descs[i].ColorPath)
		descs[i].DepthPath = filepath.Base(descs[i].DepthPath)
	}
	data, err := json.MarshalIndent(descs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestName)
	if _, err := fsutil.WriteAtomic(fs, path, func(w *bufio.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}
