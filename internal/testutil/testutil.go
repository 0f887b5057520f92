// Package testutil provides shared test fixtures for command-level tests.
package testutil

import (
	"testing"

	"github.com/dreamseal/facerecon/internal/fsutil"
	"github.com/dreamseal/facerecon/internal/recon/synthetic"
)

// WriteCaptureManifest renders views of the default synthetic scene into dir
// and returns the path of a manifest referencing them.
func WriteCaptureManifest(t *testing.T, dir string, views []synthetic.View) string {
	t.Helper()
	path, err := synthetic.WriteManifest(fsutil.OSFileSystem{}, dir, synthetic.DefaultScene(), views)
	if err != nil {
		t.Fatalf("write capture manifest: %v", err)
	}
	return path
}
