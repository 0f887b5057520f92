package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dreamseal/facerecon/internal/config"
	"github.com/dreamseal/facerecon/internal/fsutil"
	"github.com/dreamseal/facerecon/internal/recon"
	"github.com/dreamseal/facerecon/internal/recon/export"
	"github.com/dreamseal/facerecon/internal/recon/fusion"
	"github.com/dreamseal/facerecon/internal/recon/l1capture"
	"github.com/dreamseal/facerecon/internal/recon/l2points"
	"github.com/dreamseal/facerecon/internal/timeutil"
	"github.com/dreamseal/facerecon/internal/version"
)

// Options configure a Session. Zero values select the OS filesystem, the
// real clock, a silent logger, default configuration and a random ID.
type Options struct {
	Config *config.ReconstructionConfig
	FS     fsutil.FileSystem
	Clock  timeutil.Clock
	Logger *recon.Logger
	ID     uuid.UUID
}

// Session carries everything one reconstruction request needs.
type Session struct {
	ID     uuid.UUID
	params Params
	fs     fsutil.FileSystem
	clock  timeutil.Clock
	logger *recon.Logger
}

// NewSession validates the configuration and creates a Session.
func NewSession(opts Options) (*Session, error) {
	params, err := ParamsFromConfig(opts.Config)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:     opts.ID,
		params: params,
		fs:     opts.FS,
		clock:  opts.Clock,
		logger: opts.Logger,
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.fs == nil {
		s.fs = fsutil.OSFileSystem{}
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	if s.logger == nil {
		s.logger = recon.NopLogger()
	}
	s.logger = s.logger.With("session", s.ID.String()[:8])
	return s, nil
}

// Params returns the derived stage configuration.
func (s *Session) Params() Params { return s.params }

// OutputPath is where a successful run writes its surface.
func (s *Session) OutputPath() string {
	return export.OutputPath(s.params.OutputDir, s.ID, s.params.Fusion.Mode)
}

// RunJSON parses a JSON descriptor array and runs it. A malformed array is
// reported as an InvalidFrameData result.
func (s *Session) RunJSON(ctx context.Context, data []byte) *ReconstructionResult {
	descs, err := l1capture.ParseDescriptors(data)
	if err != nil {
		return s.Failed(err)
	}
	return s.Run(ctx, descs)
}

// Failed returns the result of a request rejected before Run, such as a
// manifest that could not be read or decoded.
func (s *Session) Failed(err error) *ReconstructionResult {
	start := s.clock.Now()
	res := s.newResult(0)
	s.fail(res, err)
	res.ProcessingTimeMs = s.clock.Since(start).Milliseconds()
	return res
}

// Run reconstructs a surface from descs and writes it to OutputPath.
func (s *Session) Run(ctx context.Context, descs []l1capture.FrameDescriptor) (res *ReconstructionResult) {
	start := s.clock.Now()
	res = s.newResult(len(descs))
	defer func() {
		if r := recover(); r != nil {
			s.fail(res, recon.FusionFailed("internal error: %v", r))
		}
		res.ProcessingTimeMs = s.clock.Since(start).Milliseconds()
		if res.Success {
			s.logger.Opsf("reconstruction succeeded in %d ms: %s", res.ProcessingTimeMs, res.OutputPath)
		} else {
			s.logger.Opsf("reconstruction failed in %d ms: %s: %s", res.ProcessingTimeMs, res.ErrorKind, res.ErrorDetail)
		}
	}()

	if err := s.run(ctx, descs, res); err != nil {
		s.fail(res, err)
	}
	return res
}

func (s *Session) newResult(frames int) *ReconstructionResult {
	return &ReconstructionResult{
		SessionID:   s.ID.String(),
		FrameCount:  frames,
		AnchorIndex: -1,
	}
}

func (s *Session) run(ctx context.Context, descs []l1capture.FrameDescriptor, res *ReconstructionResult) error {
	if err := l1capture.ValidateDescriptors(descs, s.params.MinFrames); err != nil {
		return err
	}
	s.logger.Opsf("reconstructing %d frames (%s, stride %d, %d workers)", len(descs), s.params.Fusion.Mode, s.params.Projector.Stride, s.params.Workers)

	sets, reports, err := s.loadAndProject(ctx, descs)
	if err != nil {
		return err
	}
	res.Frames = make([]FrameDiagnostic, len(descs))
	for i, set := range sets {
		res.Frames[i] = FrameDiagnostic{
			Index:      i,
			Angle:      set.Angle,
			Depth:      reports[i],
			Projection: summarizeProjection(set.Stats),
		}
		if reports[i].IsDegraded() {
			res.Degraded = true
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fused, err := fusion.NewEngine(s.params.Fusion, s.logger).Fuse(ctx, sets)
	if fused != nil {
		res.AnchorIndex = fused.AnchorIndex
		res.AlignedFrames = fused.AlignedFrames
		for i, reg := range fused.Registrations {
			res.Frames[i].Registration = summarizeRegistration(reg, i == fused.AnchorIndex)
			if reg.Err != nil {
				res.Degraded = true
			}
		}
	}
	if err != nil {
		return err
	}
	res.DepthMean = fused.DepthMean
	res.DepthStd = fused.DepthStd
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.OutputPath()
	opts := s.params.Export
	opts.Comment = fmt.Sprintf("%s session %s", version.String(), s.ID)
	counts, err := export.NewExporter(s.fs, s.logger).Write(path, fused.Surface, opts)
	if err != nil {
		return err
	}
	res.Success = true
	res.OutputPath = path
	res.VertexCount = counts.Vertices
	res.FaceCount = counts.Faces
	return nil
}

// loadAndProject loads, grades and projects every frame on the worker pool.
// Rasters are released as soon as a frame is projected. Results are in
// input order. When several frames fail, the lowest-index failure is
// returned regardless of which worker finished first.
func (s *Session) loadAndProject(ctx context.Context, descs []l1capture.FrameDescriptor) ([]*recon.PointSet, []l1capture.DepthReport, error) {
	loader := l1capture.NewLoader(s.fs, s.logger)
	sets := make([]*recon.PointSet, len(descs))
	reports := make([]l1capture.DepthReport, len(descs))
	errs := make([]error, len(descs))

	var g errgroup.Group
	g.SetLimit(s.params.Workers)
	for i := range descs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			frame, err := loader.Load(i, descs[i])
			if err != nil {
				errs[i] = err
				return nil
			}
			reports[i] = l1capture.AssessDepth(frame, s.params.Projector.MaxRange)
			sets[i] = l2points.Project(frame, s.params.Projector)
			frame.Release()

			st := sets[i].Stats
			s.logger.Diagf("frame %d (%s): %s depth, %d/%d samples emitted, rejected %d non-positive %d non-finite %d out of range",
				i, frame.Angle, reports[i].Quality, st.Emitted, st.Sampled, st.RejectedNonPositive, st.RejectedNonFinite, st.RejectedOutOfRange)
			return nil
		})
	}
	_ = g.Wait()
	// Caller cancellation wins over frame errors.
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, nil, err
		}
	}
	return sets, reports, nil
}

// fail records err on res. Context errors become Canceled.
func (s *Session) fail(res *ReconstructionResult, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if recon.KindOf(err) != recon.KindCanceled {
			err = recon.Canceled(err)
		}
	}
	kind := recon.KindOf(err)
	if kind == "" {
		kind = recon.KindFusionFailed
	}
	res.Success = false
	res.OutputPath = ""
	res.VertexCount = 0
	res.FaceCount = 0
	res.ErrorKind = kind
	res.ErrorDetail = err.Error()
}
