// Package report renders reconstruction diagnostics: a PNG of the ICP
// residual per iteration for every registered frame, and an HTML page with
// per-frame projection counts and final residuals.
package report

import (
	"bufio"
	"bytes"
	"fmt"
	"image/color"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/dreamseal/facerecon/internal/fsutil"
	"github.com/dreamseal/facerecon/internal/recon"
	"github.com/dreamseal/facerecon/internal/recon/pipeline"
)

// Generator writes report files through a FileSystem.
type Generator struct {
	fs     fsutil.FileSystem
	logger *recon.Logger
}

// NewGenerator creates a Generator. A nil fs means the OS filesystem.
func NewGenerator(fs fsutil.FileSystem, logger *recon.Logger) *Generator {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &Generator{fs: fs, logger: logger}
}

// Write renders both reports for res into dir and returns the written paths.
func (g *Generator) Write(dir string, res *pipeline.ReconstructionResult) ([]string, error) {
	if res == nil {
		return nil, fmt.Errorf("no result to report")
	}
	pngData, err := ResidualPlot(res)
	if err != nil {
		return nil, err
	}
	pngPath := filepath.Join(dir, fmt.Sprintf("residuals_%s.png", res.SessionID))
	if err := g.store(pngPath, pngData); err != nil {
		return nil, fmt.Errorf("write residual plot: %w", err)
	}

	html, err := FramesPage(res)
	if err != nil {
		return nil, err
	}
	htmlPath := filepath.Join(dir, fmt.Sprintf("frames_%s.html", res.SessionID))
	if err := g.store(htmlPath, html); err != nil {
		return nil, fmt.Errorf("write frames page: %w", err)
	}

	g.logger.Diagf("wrote reports %s and %s", pngPath, htmlPath)
	return []string{pngPath, htmlPath}, nil
}

func (g *Generator) store(path string, data []byte) error {
	_, err := fsutil.WriteAtomic(g.fs, path, func(w *bufio.Writer) error {
		_, err := w.Write(data)
		return err
	})
	return err
}

// ResidualPlot draws one line per registered frame: RMS residual (mm)
// against ICP iteration.
func ResidualPlot(res *pipeline.ReconstructionResult) ([]byte, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Registration residuals - session %s", res.SessionID)
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "RMS residual (mm)"

	colors := palette(len(res.Frames))
	for i, f := range res.Frames {
		if f.Registration == nil || len(f.Registration.ResidualHistory) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(f.Registration.ResidualHistory))
		for k, r := range f.Registration.ResidualHistory {
			pts[k] = plotter.XY{X: float64(k + 1), Y: r * 1000}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("frame %d residual line: %w", f.Index, err)
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("frame %d (%s)", f.Index, f.Angle), line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("render residual plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode residual plot: %w", err)
	}
	return buf.Bytes(), nil
}

// FramesPage renders the per-frame projection counts and final residuals
// as an HTML page.
func FramesPage(res *pipeline.ReconstructionResult) ([]byte, error) {
	labels := make([]string, len(res.Frames))
	emitted := make([]opts.BarData, len(res.Frames))
	nonPositive := make([]opts.BarData, len(res.Frames))
	nonFinite := make([]opts.BarData, len(res.Frames))
	outOfRange := make([]opts.BarData, len(res.Frames))
	rms := make([]opts.LineData, len(res.Frames))
	for i, f := range res.Frames {
		labels[i] = fmt.Sprintf("%d %s", f.Index, f.Angle)
		emitted[i] = opts.BarData{Value: f.Projection.Emitted}
		nonPositive[i] = opts.BarData{Value: f.Projection.RejectedNonPositive}
		nonFinite[i] = opts.BarData{Value: f.Projection.RejectedNonFinite}
		outOfRange[i] = opts.BarData{Value: f.Projection.RejectedOutOfRange}
		if f.Registration != nil && f.Registration.RMS != nil {
			rms[i] = opts.LineData{Value: *f.Registration.RMS * 1000}
		} else {
			rms[i] = opts.LineData{Value: "-"}
		}
	}

	status := "succeeded"
	if !res.Success {
		status = fmt.Sprintf("failed: %s", res.ErrorKind)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Reconstruction frames", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Projected samples per frame", Subtitle: fmt.Sprintf("session=%s %s vertices=%d faces=%d", res.SessionID, status, res.VertexCount, res.FaceCount)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
	)
	bar.SetXAxis(labels).
		AddSeries("emitted", emitted).
		AddSeries("non-positive", nonPositive).
		AddSeries("non-finite", nonFinite).
		AddSeries("out of range", outOfRange)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Final registration residual", Subtitle: fmt.Sprintf("anchor=%d aligned=%d/%d", res.AnchorIndex, res.AlignedFrames, res.FrameCount)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "RMS (mm)"}),
	)
	line.SetXAxis(labels).
		AddSeries("rms", rms, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	page := components.NewPage()
	page.PageTitle = "Reconstruction " + res.SessionID
	page.AddCharts(bar, line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("render frames page: %w", err)
	}
	return buf.Bytes(), nil
}

// palette spreads n colors around the hue circle.
func palette(n int) []color.Color {
	out := make([]color.Color, n)
	for i := range out {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		out[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return out
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255), uint8(hueToRGB(p, q, h) * 255), uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
