// Command facerecon reconstructs a face surface from a manifest of
// depth+color captures and writes it as PLY.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dreamseal/facerecon/internal/config"
	"github.com/dreamseal/facerecon/internal/recon"
	"github.com/dreamseal/facerecon/internal/recon/l1capture"
	"github.com/dreamseal/facerecon/internal/recon/pipeline"
	"github.com/dreamseal/facerecon/internal/recon/report"
	"github.com/dreamseal/facerecon/internal/runlog"
	"github.com/dreamseal/facerecon/internal/security"
	"github.com/dreamseal/facerecon/internal/units"
	"github.com/dreamseal/facerecon/internal/version"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(dispatch(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func dispatch(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}
	switch args[0] {
	case "run":
		return runCommand(ctx, args[1:], stdout, stderr)
	case "runs":
		return runsCommand(ctx, args[1:], stdout, stderr)
	case "capabilities":
		return writeJSON(stdout, stderr, pipeline.Capabilities())
	case "version":
		fmt.Fprintln(stdout, version.String())
		return exitOK
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return exitUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `facerecon - 3D face reconstruction from depth+color captures

Usage: facerecon <command> [options]

Commands:
  run <manifest.json>   Reconstruct a surface and print the result as JSON
  runs                  List recent runs from the ledger
  capabilities          Print supported modes, formats and features
  version               Show version
  help                  Show this help message

Run 'facerecon run -h' for run options.
`)
}

type runFlags struct {
	configPath   string
	outDir       string
	reportDir    string
	dbPath       string
	allowOutside bool
	verbose      bool
	trace        bool
}

func runCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var f runFlags
	fs.StringVar(&f.configPath, "config", "", "Reconstruction config file (.json or .toml); defaults apply when empty")
	fs.StringVar(&f.outDir, "out-dir", "", "Output directory (overrides output_dir from the config)")
	fs.StringVar(&f.reportDir, "report-dir", "", "Write residual plot and frame report here")
	fs.StringVar(&f.dbPath, "db", "", "Record the run in this SQLite ledger")
	fs.BoolVar(&f.allowOutside, "allow-outside", false, "Allow manifest frame paths outside the manifest directory and an output directory outside the working, temp and manifest directories")
	fs.BoolVar(&f.verbose, "v", false, "Enable diagnostic logging")
	fs.BoolVar(&f.trace, "vv", false, "Enable diagnostic and trace logging")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: facerecon run [options] <manifest.json>")
		return exitUsage
	}
	manifestPath := fs.Arg(0)

	logger := newLogger(stderr, f.verbose || f.trace, f.trace)

	cfg := config.EmptyReconstructionConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = config.LoadReconstructionConfig(f.configPath); err != nil {
			fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
			return exitUsage
		}
	}

	if f.outDir != "" {
		cfg.OutputDir = &f.outDir
	}
	session, err := pipeline.NewSession(pipeline.Options{Config: cfg, Logger: logger})
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitUsage
	}

	descs, manifestDir, err := loadManifest(manifestPath, f.allowOutside)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load manifest: %v\n", err)
		writeJSON(stdout, stderr, session.Failed(err))
		return exitUsage
	}

	if !f.allowOutside {
		roots, err := security.DefaultOutputRoots()
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return exitUsage
		}
		if err := security.WithinAny(cfg.GetOutputDir(), append(roots, manifestDir)); err != nil {
			fmt.Fprintf(stderr, "Refusing output directory: %v\n", err)
			return exitUsage
		}
	}

	started := time.Now()
	res := session.Run(ctx, descs)

	if f.reportDir != "" {
		if _, err := report.NewGenerator(nil, logger).Write(f.reportDir, res); err != nil {
			logger.Warnf("failed to write report: %v", err)
		}
	}
	if f.dbPath != "" {
		if err := recordRun(ctx, f.dbPath, logger, runlog.FromResult(res, started)); err != nil {
			logger.Warnf("failed to record run: %v", err)
		}
	}

	if code := writeJSON(stdout, stderr, res); code != exitOK {
		return code
	}
	if !res.Success {
		return exitFailed
	}
	return exitOK
}

// loadManifest reads a descriptor array and resolves relative frame paths
// against the manifest's directory. Every failure is an InvalidFrameData
// error.
func loadManifest(path string, allowOutside bool) ([]l1capture.FrameDescriptor, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", recon.InvalidFrameData(-1, "read manifest: %v", err)
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, "", recon.InvalidFrameData(-1, "resolve manifest directory: %v", err)
	}
	descs, err := l1capture.ParseDescriptors(data)
	if err != nil {
		return nil, "", err
	}
	for i := range descs {
		for _, p := range []*string{&descs[i].ColorPath, &descs[i].DepthPath} {
			if allowOutside {
				if !filepath.IsAbs(*p) {
					*p = filepath.Join(dir, *p)
				}
				continue
			}
			resolved, err := security.ResolveManifestPath(dir, *p)
			if err != nil {
				return nil, "", recon.InvalidFrameData(i, "%v", err)
			}
			*p = resolved
		}
	}
	return descs, dir, nil
}

func recordRun(ctx context.Context, dbPath string, logger *recon.Logger, run runlog.Run) error {
	store, err := runlog.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Record(ctx, run)
}

func runsCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "facerecon_runs.db", "SQLite ledger path")
	limit := fs.Int("n", 20, "Number of runs to list")
	unit := fs.String("units", units.Millimeters, "Length units for depth statistics ("+units.ValidUnitsString()+")")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if !units.IsValid(*unit) {
		fmt.Fprintf(stderr, "Invalid units %q, must be one of: %s\n", *unit, units.ValidUnitsString())
		return exitUsage
	}

	store, err := runlog.Open(*dbPath, nil)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open ledger: %v\n", err)
		return exitFailed
	}
	defer store.Close()

	runs, err := store.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitFailed
	}
	for _, r := range runs {
		status := "ok"
		if !r.Success {
			status = string(r.ErrorKind)
		}
		fmt.Fprintf(stdout, "%s  %s  frames=%d  %-26s  vertices=%d faces=%d  depth=%s sd=%s  %dms  %s\n",
			r.StartedAt.Format(time.RFC3339), r.ID, r.FrameCount, status, r.VertexCount, r.FaceCount,
			units.FormatLength(r.DepthMean, *unit), units.FormatLength(r.DepthStd, *unit), r.ProcessingMs, r.OutputPath)
	}

	st, err := store.Summary(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitFailed
	}
	kinds := make([]string, 0, len(st.ByErrorKind))
	for k, n := range st.ByErrorKind {
		kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
	}
	sort.Strings(kinds)
	fmt.Fprintf(stdout, "total=%d succeeded=%d %s\n", st.Runs, st.Succeeded, strings.Join(kinds, " "))
	return exitOK
}

func newLogger(w io.Writer, diag, trace bool) *recon.Logger {
	lw := recon.LogWriters{Ops: w}
	if diag {
		lw.Diag = w
	}
	if trace {
		lw.Trace = w
	}
	return recon.NewLogger("facerecon", lw)
}

func writeJSON(stdout, stderr io.Writer, v interface{}) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "Failed to encode output: %v\n", err)
		return exitFailed
	}
	return exitOK
}
