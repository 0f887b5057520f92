package synthetic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamseal/facerecon/internal/fsutil"
	"github.com/dreamseal/facerecon/internal/recon/l1capture"
)

func TestRenderFrontViewIsFlat(t *testing.T) {
	t.Parallel()
	s := DefaultScene()
	depth, img := s.Render(View{})

	assert.InDelta(t, 0.5, float64(depth.At(320, 240)), 1e-6)
	assert.Zero(t, depth.At(0, 0), "corner lies outside the patch")
	// 0.12m half-width at 0.5m and fx=500 is 120 pixels.
	assert.NotZero(t, depth.At(320+119, 240))
	assert.Zero(t, depth.At(320+121, 240))
	assert.NotEqual(t, img.RGBAAt(0, 0), img.RGBAAt(320, 240))
}

func TestRenderYawTiltsDepth(t *testing.T) {
	t.Parallel()
	s := DefaultScene()
	views := FiveAngles(4)
	depth, _ := s.Render(views[2])
	left := float64(depth.At(270, 240))
	right := float64(depth.At(370, 240))
	assert.NotEqual(t, left, right)
	assert.InDelta(t, 0.5, float64(depth.At(320, 240)), 1e-6, "pivot stays put")
}

func TestWriteCaptureSetLoadsBack(t *testing.T) {
	t.Parallel()
	mfs := fsutil.NewMemoryFileSystem()
	s := DefaultScene()
	s.Width, s.Height = 64, 48
	s.Intrinsics.Cx, s.Intrinsics.Cy = 32, 24
	s.Intrinsics.ReferenceWidth, s.Intrinsics.ReferenceHeight = 64, 48

	descs, err := WriteCaptureSet(mfs, "/captures", s, FiveAngles(3))
	require.NoError(t, err)
	require.Len(t, descs, 5)
	require.NoError(t, l1capture.ValidateDescriptors(descs, 3))

	loader := l1capture.NewLoader(mfs, nil)
	for i, d := range descs {
		frame, err := loader.Load(i, d)
		require.NoError(t, err)
		assert.Equal(t, 64, frame.Depth.Width)
		assert.Equal(t, string(frame.Angle), d.AngleID)
	}
}

func TestWriteManifestUsesRelativePaths(t *testing.T) {
	t.Parallel()
	m := fsutil.NewMemoryFileSystem()
	path, err := WriteManifest(m, "/cap", DefaultScene(), FiveAngles(4)[:2])
	require.NoError(t, err)
	assert.Equal(t, "/cap/"+ManifestName, path)

	data, err := m.ReadFile(path)
	require.NoError(t, err)
	descs, err := l1capture.ParseDescriptors(data)
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, "00_front_depth.bin", descs[0].DepthPath)
	assert.True(t, m.Exists("/cap/01_left_color.png"))
}
