package export

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dreamseal/facerecon/internal/fsutil"
)

// ErrMalformedPLY is returned for files that do not parse as PLY.
var ErrMalformedPLY = errors.New("malformed PLY")

// maxHeaderLines bounds header parsing.
const maxHeaderLines = 64

// Header is the parsed PLY header.
type Header struct {
	Format   string
	Comments []string
	Vertices int
	Faces    int
	HasColor bool
}

// ReadHeader parses the header from r, leaving r positioned at the body.
func ReadHeader(r *bufio.Reader) (Header, error) {
	var h Header
	var element string
	for line := 0; ; line++ {
		if line >= maxHeaderLines {
			return h, fmt.Errorf("%w: header longer than %d lines", ErrMalformedPLY, maxHeaderLines)
		}
		text, err := r.ReadString('\n')
		if err != nil {
			return h, fmt.Errorf("%w: %v", ErrMalformedPLY, err)
		}
		text = strings.TrimRight(text, "\r\n")
		if line == 0 {
			if text != "ply" {
				return h, fmt.Errorf("%w: missing magic", ErrMalformedPLY)
			}
			continue
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) != 3 {
				return h, fmt.Errorf("%w: bad format line %q", ErrMalformedPLY, text)
			}
			switch fields[1] {
			case "ascii":
				h.Format = FormatASCII
			case "binary_little_endian":
				h.Format = FormatBinaryLittleEndian
			default:
				return h, fmt.Errorf("%w: unsupported format %q", ErrMalformedPLY, fields[1])
			}
		case "comment":
			h.Comments = append(h.Comments, strings.TrimSpace(strings.TrimPrefix(text, "comment")))
		case "element":
			if len(fields) != 3 {
				return h, fmt.Errorf("%w: bad element line %q", ErrMalformedPLY, text)
			}
			n, err := strconv.Atoi(fields[2])
			if err != nil || n < 0 {
				return h, fmt.Errorf("%w: bad element count %q", ErrMalformedPLY, fields[2])
			}
			element = fields[1]
			switch element {
			case "vertex":
				h.Vertices = n
			case "face":
				h.Faces = n
			}
		case "property":
			if element == "vertex" && len(fields) == 3 && fields[2] == "red" {
				h.HasColor = true
			}
		case "end_header":
			if h.Format == "" {
				return h, fmt.Errorf("%w: no format line", ErrMalformedPLY)
			}
			return h, nil
		}
	}
}

// Verify reads the file at path and checks that the body holds exactly the
// vertex and face records the header declares.
func Verify(fs fsutil.FileSystem, path string) (Header, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	r := bufio.NewReader(bytes.NewReader(data))
	h, err := ReadHeader(r)
	if err != nil {
		return h, err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return h, err
	}

	if h.Format == FormatBinaryLittleEndian {
		vertexSize := binaryVertexSize
		if h.HasColor {
			vertexSize += binaryColorSize
		}
		want := h.Vertices*vertexSize + h.Faces*binaryFaceSize
		if len(body) != want {
			return h, fmt.Errorf("%w: body is %d bytes, header implies %d", ErrMalformedPLY, len(body), want)
		}
		return h, nil
	}

	vertexFields := 3
	if h.HasColor {
		vertexFields = 6
	}
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	if len(body) == 0 {
		lines = nil
	}
	if len(lines) != h.Vertices+h.Faces {
		return h, fmt.Errorf("%w: body has %d records, header declares %d", ErrMalformedPLY, len(lines), h.Vertices+h.Faces)
	}
	for i, line := range lines {
		n := len(strings.Fields(line))
		if i < h.Vertices && n != vertexFields {
			return h, fmt.Errorf("%w: vertex %d has %d fields, want %d", ErrMalformedPLY, i, n, vertexFields)
		}
		if i >= h.Vertices && n != 4 {
			return h, fmt.Errorf("%w: face %d has %d fields, want 4", ErrMalformedPLY, i-h.Vertices, n)
		}
	}
	return h, nil
}
