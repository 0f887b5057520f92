package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func symlinkFixture(t *testing.T) (safe, unsafe string) {
	t.Helper()
	root := t.TempDir()
	safe = filepath.Join(root, "capture")
	unsafe = filepath.Join(root, "elsewhere")
	require.NoError(t, os.MkdirAll(safe, 0755))
	require.NoError(t, os.MkdirAll(unsafe, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(unsafe, "secret.bin"), []byte("x"), 0644))
	require.NoError(t, os.Symlink(unsafe, filepath.Join(safe, "link")))
	return safe, unsafe
}

func TestWithin(t *testing.T) {
	t.Parallel()
	safe, unsafe := symlinkFixture(t)

	tests := []struct {
		name string
		path string
		ok   bool
	}{
		{"the directory itself", safe, true},
		{"new file", filepath.Join(safe, "out.ply"), true},
		{"nested new file", filepath.Join(safe, "a", "b", "out.ply"), true},
		{"dot-dot escape", filepath.Join(safe, "..", "elsewhere", "secret.bin"), false},
		{"sibling", unsafe, false},
		{"existing file through symlink", filepath.Join(safe, "link", "secret.bin"), false},
		{"new file through symlink", filepath.Join(safe, "link", "new.ply"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Within(tt.path, safe)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrPathEscapes)
			}
		})
	}
}

func TestWithinAny(t *testing.T) {
	t.Parallel()
	safe, unsafe := symlinkFixture(t)

	assert.NoError(t, WithinAny(filepath.Join(unsafe, "x"), []string{safe, unsafe}))
	assert.ErrorIs(t, WithinAny("/definitely/not/here", []string{safe}), ErrPathEscapes)
	assert.Error(t, WithinAny(safe, nil))
}

func TestResolveManifestPath(t *testing.T) {
	t.Parallel()
	safe, _ := symlinkFixture(t)

	p, err := ResolveManifestPath(safe, "00_front_depth.bin")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(safe, "00_front_depth.bin"), p)

	p, err = ResolveManifestPath(safe, filepath.Join(safe, "frames", "x.png"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(safe, "frames", "x.png"), p)

	_, err = ResolveManifestPath(safe, "../elsewhere/secret.bin")
	assert.ErrorIs(t, err, ErrPathEscapes)
	_, err = ResolveManifestPath(safe, "link/secret.bin")
	assert.ErrorIs(t, err, ErrPathEscapes)
	_, err = ResolveManifestPath(safe, "")
	assert.Error(t, err)
}

func TestCanonicalNonexistent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	resolvedDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	p, err := Canonical(filepath.Join(dir, "missing", "file.ply"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(resolvedDir, "missing", "file.ply"), p)
}

func TestSanitizeLabel(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":                 "capture",
		"alice front":      "alice_front",
		"../../etc/passwd": "etc_passwd",
		"session-01.v2":    "session-01.v2",
		"a///b":            "a_b",
		"___":              "capture",
		"h\u00e9ad scan":   "h_ad_scan",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeLabel(in), "input %q", in)
	}
	assert.Len(t, SanitizeLabel(strings.Repeat("abcdefgh", 10)), 64)
}
