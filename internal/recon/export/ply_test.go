package export

import (
	"bufio"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dreamseal/facerecon/internal/fsutil"
	"github.com/dreamseal/facerecon/internal/recon"
)

func tetraSurface() *recon.Surface {
	return &recon.Surface{
		Vertices: []r3.Vec{{X: 0, Y: 0, Z: 0.5}, {X: 0.01, Y: 0, Z: 0.5}, {X: 0, Y: 0.01, Z: 0.5}, {X: 0, Y: 0, Z: 0.51}},
		Colors: []color.RGBA{
			{R: 255, A: 255}, {G: 255, A: 255}, {B: 255, A: 255}, {R: 1, G: 2, B: 3, A: 255},
		},
		Faces: [][3]int32{{0, 1, 2}, {0, 3, 1}, {0, 2, 3}, {1, 3, 2}},
	}
}

func TestWriteASCII(t *testing.T) {
	t.Parallel()
	mfs := fsutil.NewMemoryFileSystem()
	path := "/out/face.ply"

	c, err := NewExporter(mfs, nil).Write(path, tetraSurface(), Options{Format: FormatASCII, IncludeColor: true, Comment: "facerecon test\nsecond"})
	require.NoError(t, err)
	assert.Equal(t, Counts{Vertices: 4, Faces: 4, Bytes: c.Bytes}, c)

	data, err := mfs.ReadFile(path)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), c.Bytes)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "ply\nformat ascii 1.0\ncomment facerecon test second\nelement vertex 4\n"))
	assert.Contains(t, text, "property uchar red\n")
	assert.Contains(t, text, "element face 4\nproperty list uchar int vertex_indices\nend_header\n")
	assert.Contains(t, text, "\n0.01 0 0.5 0 255 0\n")
	assert.Contains(t, text, "\n3 0 1 2\n")

	h, err := Verify(mfs, path)
	require.NoError(t, err)
	assert.Equal(t, Header{Format: FormatASCII, Comments: []string{"facerecon test second"}, Vertices: 4, Faces: 4, HasColor: true}, h)
	assert.Equal(t, []string{path}, mfs.Files())
}

func TestWriteBinary(t *testing.T) {
	t.Parallel()
	mfs := fsutil.NewMemoryFileSystem()
	path := "/out/face.ply"

	c, err := NewExporter(mfs, nil).Write(path, tetraSurface(), Options{Format: FormatBinaryLittleEndian, IncludeColor: true})
	require.NoError(t, err)

	h, err := Verify(mfs, path)
	require.NoError(t, err)
	assert.Equal(t, c.Vertices, h.Vertices)
	assert.Equal(t, c.Faces, h.Faces)
	assert.Equal(t, FormatBinaryLittleEndian, h.Format)
	assert.True(t, h.HasColor)
}

func TestWritePointCloudWithoutColor(t *testing.T) {
	t.Parallel()
	mfs := fsutil.NewMemoryFileSystem()
	s := tetraSurface()
	s.Faces = nil

	c, err := NewExporter(mfs, nil).Write("/out/points.ply", s, Options{IncludeColor: false})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Faces)

	data, err := mfs.ReadFile("/out/points.ply")
	require.NoError(t, err)
	assert.NotContains(t, string(data), "element face")
	assert.NotContains(t, string(data), "red")

	h, err := Verify(mfs, "/out/points.ply")
	require.NoError(t, err)
	assert.Equal(t, 4, h.Vertices)
	assert.Equal(t, 0, h.Faces)
}

func TestWriteFailureLeavesNoFile(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		fail func(*fsutil.MemoryFileSystem)
	}{
		{"disk full", func(m *fsutil.MemoryFileSystem) { m.FailWritesAfter = 64 }},
		{"rename refused", func(m *fsutil.MemoryFileSystem) { m.FailRename = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mfs := fsutil.NewMemoryFileSystem()
			tt.fail(mfs)

			_, err := NewExporter(mfs, nil).Write("/out/face.ply", tetraSurface(), Options{Format: FormatASCII, IncludeColor: true})
			require.Error(t, err)
			assert.ErrorIs(t, err, recon.ErrMeshExportFailed)
			assert.ErrorIs(t, err, fsutil.ErrInjected)
			assert.False(t, mfs.Exists("/out/face.ply"))
			assert.Empty(t, mfs.Files(), "temporary file must be cleaned up")
		})
	}
}

func TestWriteRejectsUnknownFormat(t *testing.T) {
	t.Parallel()
	_, err := NewExporter(fsutil.NewMemoryFileSystem(), nil).Write("/out/x.ply", tetraSurface(), Options{Format: "binary_big_endian"})
	assert.ErrorIs(t, err, recon.ErrMeshExportFailed)
}

func TestWriteOnDisk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := OutputPath(dir, uuid.MustParse("00000000-0000-0000-0000-000000000001"), "mesh")
	assert.Equal(t, filepath.Join(dir, "face_mesh_00000000-0000-0000-0000-000000000001.ply"), path)

	_, err := NewExporter(nil, nil).Write(path, tetraSurface(), Options{Format: FormatASCII})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(path), entries[0].Name())
}

func TestReadHeaderErrors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{
		"",
		"plx\nformat ascii 1.0\nend_header\n",
		"ply\nformat utf8 1.0\nend_header\n",
		"ply\nelement vertex -1\nend_header\n",
		"ply\nformat ascii 1.0\n",
		"ply\nend_header\n",
	} {
		_, err := ReadHeader(bufio.NewReader(strings.NewReader(in)))
		assert.ErrorIs(t, err, ErrMalformedPLY, "input %q", in)
	}
}

func TestVerifyDetectsTruncatedBody(t *testing.T) {
	t.Parallel()
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/x.ply", []byte("ply\nformat ascii 1.0\nelement vertex 2\nproperty float x\nproperty float y\nproperty float z\nend_header\n0 0 0\n"), 0644))
	_, err := Verify(mfs, "/x.ply")
	assert.ErrorIs(t, err, ErrMalformedPLY)
}
