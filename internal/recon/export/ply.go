package export

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/dreamseal/facerecon/internal/config"
	"github.com/dreamseal/facerecon/internal/fsutil"
	"github.com/dreamseal/facerecon/internal/recon"
)

// PLY encodings.
const (
	FormatASCII              = config.FormatASCII
	FormatBinaryLittleEndian = config.FormatBinaryLittleEndian
)

const (
	// binaryVertexSize is three float32 coordinates.
	binaryVertexSize = 12
	// binaryColorSize is three uchar channels.
	binaryColorSize = 3
	// binaryFaceSize is a uchar count plus three int32 indices.
	binaryFaceSize = 13
)

// Options control the written file.
type Options struct {
	Format       string
	IncludeColor bool
	// Comment is written as a single comment line. Newlines are replaced.
	Comment string
}

// Counts is what was written; it always equals the header counts.
type Counts struct {
	Vertices int
	Faces    int
	Bytes    int64
}

// Exporter writes surfaces through a FileSystem.
type Exporter struct {
	fs     fsutil.FileSystem
	logger *recon.Logger
}

// NewExporter creates an Exporter. A nil fs means the OS filesystem.
func NewExporter(fs fsutil.FileSystem, logger *recon.Logger) *Exporter {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &Exporter{fs: fs, logger: logger}
}

// OutputPath returns the default file path for a session's surface.
func OutputPath(dir string, session uuid.UUID, mode string) string {
	return filepath.Join(dir, fmt.Sprintf("face_%s_%s.ply", mode, session))
}

// Write stores s at path. Any failure is a MeshExportFailed error and leaves
// nothing at path.
func (e *Exporter) Write(path string, s *recon.Surface, opts Options) (Counts, error) {
	if s == nil {
		return Counts{}, recon.MeshExportFailed(path, fmt.Errorf("no surface to export"))
	}
	if opts.Format == "" {
		opts.Format = FormatASCII
	}
	if opts.Format != FormatASCII && opts.Format != FormatBinaryLittleEndian {
		return Counts{}, recon.MeshExportFailed(path, fmt.Errorf("unsupported PLY format %q", opts.Format))
	}
	includeColor := opts.IncludeColor && s.HasColor()

	n, err := fsutil.WriteAtomic(e.fs, path, func(w *bufio.Writer) error {
		if err := writeHeader(w, s, opts, includeColor); err != nil {
			return err
		}
		if opts.Format == FormatBinaryLittleEndian {
			return writeBinaryBody(w, s, includeColor)
		}
		return writeASCIIBody(w, s, includeColor)
	})
	if err != nil {
		return Counts{}, recon.MeshExportFailed(path, err)
	}

	c := Counts{Vertices: s.VertexCount(), Faces: s.FaceCount(), Bytes: n}
	e.logger.Opsf("wrote %s PLY %s: %d vertices, %d faces, %d bytes", opts.Format, path, c.Vertices, c.Faces, c.Bytes)
	return c, nil
}

func writeHeader(w *bufio.Writer, s *recon.Surface, opts Options, includeColor bool) error {
	format := "ascii"
	if opts.Format == FormatBinaryLittleEndian {
		format = "binary_little_endian"
	}
	fmt.Fprintf(w, "ply\nformat %s 1.0\n", format)
	if opts.Comment != "" {
		fmt.Fprintf(w, "comment %s\n", sanitizeComment(opts.Comment))
	}
	fmt.Fprintf(w, "element vertex %d\n", s.VertexCount())
	fmt.Fprint(w, "property float x\nproperty float y\nproperty float z\n")
	if includeColor {
		fmt.Fprint(w, "property uchar red\nproperty uchar green\nproperty uchar blue\n")
	}
	if s.FaceCount() > 0 {
		fmt.Fprintf(w, "element face %d\n", s.FaceCount())
		fmt.Fprint(w, "property list uchar int vertex_indices\n")
	}
	_, err := fmt.Fprint(w, "end_header\n")
	return err
}

func sanitizeComment(c string) string {
	out := []rune(c)
	for i, r := range out {
		if r == '\n' || r == '\r' {
			out[i] = ' '
		}
	}
	return string(out)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(float64(float32(v)), 'g', -1, 32)
}

func writeASCIIBody(w *bufio.Writer, s *recon.Surface, includeColor bool) error {
	for i, v := range s.Vertices {
		w.WriteString(formatFloat(v.X))
		w.WriteByte(' ')
		w.WriteString(formatFloat(v.Y))
		w.WriteByte(' ')
		w.WriteString(formatFloat(v.Z))
		if includeColor {
			c := s.Colors[i]
			fmt.Fprintf(w, " %d %d %d", c.R, c.G, c.B)
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	for _, f := range s.Faces {
		if _, err := fmt.Fprintf(w, "3 %d %d %d\n", f[0], f[1], f[2]); err != nil {
			return err
		}
	}
	return nil
}

func writeBinaryBody(w *bufio.Writer, s *recon.Surface, includeColor bool) error {
	var buf [binaryVertexSize + binaryColorSize]byte
	for i, v := range s.Vertices {
		binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(float32(v.X)))
		binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(v.Y)))
		binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(v.Z)))
		n := binaryVertexSize
		if includeColor {
			c := s.Colors[i]
			buf[12], buf[13], buf[14] = c.R, c.G, c.B
			n += binaryColorSize
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
	}
	var face [binaryFaceSize]byte
	face[0] = 3
	for _, f := range s.Faces {
		binary.LittleEndian.PutUint32(face[1:], uint32(f[0]))
		binary.LittleEndian.PutUint32(face[5:], uint32(f[1]))
		binary.LittleEndian.PutUint32(face[9:], uint32(f[2]))
		if _, err := w.Write(face[:]); err != nil {
			return err
		}
	}
	return nil
}
