package recon

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("load: %w", DepthSizeMismatch(2, "/tmp/d.bin", 100, 128))

	assert.True(t, errors.Is(err, ErrDepthSizeMismatch))
	assert.False(t, errors.Is(err, ErrInvalidFrameData))
	assert.Equal(t, KindDepthSizeMismatch, KindOf(err))

	var re *Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 2, re.FrameIndex)
	assert.EqualValues(t, 100, re.Got)
	assert.EqualValues(t, 128, re.Want)
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  *Error
		want string
	}{
		{FrameCountTooLow(2, 3), "insufficient frames: got 2, need at least 3"},
		{InvalidFrameData(1, "missing %s", "fx"), "invalid frame data at index 1: missing fx"},
		{DepthSizeMismatch(0, "d.bin", 10, 16), "depth data size mismatch for d.bin: got 10 bytes, expected 16"},
		{FusionFailed("no surface"), "fusion failed: no surface"},
		{ColorImageLoadFailed(0, "c.png", io.ErrUnexpectedEOF), "failed to load color image c.png: unexpected EOF"},
		{MeshExportFailed("/out/m.ply", io.ErrShortWrite), "mesh export failed for /out/m.ply: short write"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()
	err := DepthReadFailed(4, "d.bin", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrDepthReadFailed)
}

func TestMeshExportFailedKeepsCause(t *testing.T) {
	t.Parallel()
	cause := &fs.PathError{Op: "rename", Path: "/out/.m.ply.tmp", Err: fs.ErrPermission}
	err := fmt.Errorf("export: %w", MeshExportFailed("/out/m.ply", cause))

	assert.ErrorIs(t, err, fs.ErrPermission)
	assert.ErrorIs(t, err, ErrMeshExportFailed)
	assert.Equal(t, KindMeshExportFailed, KindOf(err))

	var re *Error
	require.True(t, errors.As(err, &re))
	assert.Empty(t, re.Reason)
	assert.Equal(t, "/out/m.ply", re.Path)
}

func TestKindOfForeignError(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}
