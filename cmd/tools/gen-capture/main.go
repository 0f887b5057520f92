// Command gen-capture writes a synthetic five-angle capture set and its
// manifest, for exercising facerecon without a depth camera.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dreamseal/facerecon/internal/fsutil"
	"github.com/dreamseal/facerecon/internal/recon/synthetic"
	"github.com/dreamseal/facerecon/internal/security"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("gen-capture", flag.ContinueOnError)
	fs.SetOutput(stderr)
	outDir := fs.String("out", "capture", "Directory to write frames and manifest.json into")
	name := fs.String("name", "", "Optional subdirectory label under -out")
	angle := fs.Float64("angle", 4, "Head turn in degrees for the side views")
	frames := fs.Int("frames", 5, "Number of views to write (1-5)")
	depth := fs.Float64("depth", 0.5, "Distance from camera to the patch in meters")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *frames < 1 || *frames > 5 {
		fmt.Fprintf(stderr, "frames must be between 1 and 5, got %d\n", *frames)
		return 2
	}

	dir := *outDir
	if *name != "" {
		dir = filepath.Join(dir, security.SanitizeLabel(*name))
	}

	scene := synthetic.DefaultScene()
	scene.PlaneDepth = *depth
	views := synthetic.FiveAngles(*angle)[:*frames]

	manifest, err := synthetic.WriteManifest(fsutil.OSFileSystem{}, dir, scene, views)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to write capture set: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, manifest)
	return 0
}
