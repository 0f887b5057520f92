package fsutil

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"
)

// WriteAtomic streams fn's output to a hidden temporary file next to path
// and renames it into place once fn, the flush and the close have all
// succeeded. On any failure the temporary file is removed and nothing is
// left at path. It returns the number of bytes written.
func WriteAtomic(fsys FileSystem, path string, fn func(w *bufio.Writer) error) (int64, error) {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))

	n, err := writeTemp(fsys, tmp, fn)
	if err == nil {
		err = fsys.Rename(tmp, path)
	}
	if err != nil {
		if rmErr := fsys.Remove(tmp); rmErr != nil && fsys.Exists(tmp) {
			err = errors.Join(err, fmt.Errorf("remove %s: %w", tmp, rmErr))
		}
		return 0, err
	}
	return n, nil
}

func writeTemp(fsys FileSystem, tmp string, fn func(w *bufio.Writer) error) (int64, error) {
	f, err := fsys.Create(tmp)
	if err != nil {
		return 0, err
	}
	cw := &countingWriter{w: f}
	bw := bufio.NewWriter(cw)
	err = fn(bw)
	if err == nil {
		err = bw.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
