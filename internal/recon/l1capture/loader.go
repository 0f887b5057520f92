package l1capture

import (
	"encoding/binary"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/dreamseal/facerecon/internal/fsutil"
	"github.com/dreamseal/facerecon/internal/recon"
)

// bytesPerDepthSample is the size of one little-endian float32 depth value.
const bytesPerDepthSample = 4

// Loader decodes frame descriptors into CaptureFrames.
type Loader struct {
	fs     fsutil.FileSystem
	logger *recon.Logger
}

// NewLoader creates a Loader reading through fs. A nil fs means the OS
// filesystem.
func NewLoader(fs fsutil.FileSystem, logger *recon.Logger) *Loader {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &Loader{fs: fs, logger: logger}
}

// Load validates and decodes the descriptor at position index. The color
// raster is resampled to the depth map's resolution so both share pixel
// coordinates.
func (l *Loader) Load(index int, d FrameDescriptor) (*recon.CaptureFrame, error) {
	if err := d.Validate(index); err != nil {
		return nil, err
	}

	depth, err := l.readDepth(index, d)
	if err != nil {
		return nil, err
	}
	color, err := l.readColor(index, d)
	if err != nil {
		return nil, err
	}

	frame := &recon.CaptureFrame{
		Index:      index,
		Angle:      recon.ParseAngleLabel(d.AngleID),
		Timestamp:  d.Timestamp,
		ColorPath:  d.ColorPath,
		DepthPath:  d.DepthPath,
		Color:      color,
		Depth:      depth,
		Intrinsics: d.Intrinsics(),
	}
	l.logger.Tracef("frame %d loaded: %s color=%s depth=%s", index, d, d.ColorPath, d.DepthPath)
	return frame, nil
}

func (l *Loader) readDepth(index int, d FrameDescriptor) (*recon.DepthMap, error) {
	data, err := l.fs.ReadFile(d.DepthPath)
	if err != nil {
		return nil, recon.DepthReadFailed(index, d.DepthPath, err)
	}
	return DecodeDepth(index, d.DepthPath, data, d.DepthWidth, d.DepthHeight)
}

// DecodeDepth interprets data as a row-major little-endian float32 grid of
// width x height meters.
func DecodeDepth(index int, path string, data []byte, width, height int) (*recon.DepthMap, error) {
	want := int64(width) * int64(height) * bytesPerDepthSample
	if int64(len(data)) != want {
		return nil, recon.DepthSizeMismatch(index, path, int64(len(data)), want)
	}
	values := make([]float32, width*height)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*bytesPerDepthSample:]))
	}
	return &recon.DepthMap{Width: width, Height: height, Values: values}, nil
}

// EncodeDepth is the inverse of DecodeDepth.
func EncodeDepth(d *recon.DepthMap) []byte {
	out := make([]byte, len(d.Values)*bytesPerDepthSample)
	for i, v := range d.Values {
		binary.LittleEndian.PutUint32(out[i*bytesPerDepthSample:], math.Float32bits(v))
	}
	return out
}

func (l *Loader) readColor(index int, d FrameDescriptor) (*image.RGBA, error) {
	f, err := l.fs.Open(d.ColorPath)
	if err != nil {
		return nil, recon.ColorImageLoadFailed(index, d.ColorPath, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, recon.ColorImageLoadFailed(index, d.ColorPath, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, recon.ColorImageLoadFailed(index, d.ColorPath, fmt.Errorf("empty %s image", format))
	}
	if b.Dx() != d.DepthWidth || b.Dy() != d.DepthHeight {
		l.logger.Diagf("frame %d: resampling %s color %dx%d to depth resolution %dx%d",
			index, format, b.Dx(), b.Dy(), d.DepthWidth, d.DepthHeight)
	}
	return ResampleColor(img, d.DepthWidth, d.DepthHeight), nil
}

// ResampleColor returns img as an RGBA raster of exactly width x height.
func ResampleColor(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
