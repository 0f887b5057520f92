// Package security confines the file paths a capture manifest can name and
// the directories the CLI writes to.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscapes is returned when a path resolves outside its allowed
// directory.
var ErrPathEscapes = errors.New("path escapes allowed directory")

// Canonical returns p as an absolute path with symlinks resolved. When p does
// not exist yet, its deepest existing ancestor is resolved and the remaining
// components are appended, so a symlinked parent cannot smuggle a new file
// elsewhere.
func Canonical(p string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, err := filepath.Rel(dir, abs)
			if err != nil {
				return "", err
			}
			return filepath.Join(resolved, rest), nil
		}
		if dir == filepath.Dir(dir) {
			return abs, nil
		}
	}
}

// Within returns ErrPathEscapes unless p resolves to dir or below it.
func Within(p, dir string) error {
	cp, err := Canonical(p)
	if err != nil {
		return err
	}
	cdir, err := Canonical(dir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(cdir, cp)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is outside %s", ErrPathEscapes, p, dir)
	}
	return nil
}

// WithinAny returns nil if p resolves inside any of dirs.
func WithinAny(p string, dirs []string) error {
	if len(dirs) == 0 {
		return fmt.Errorf("no allowed directories specified")
	}
	for _, dir := range dirs {
		if Within(p, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be within one of %v", ErrPathEscapes, p, dirs)
}

// DefaultOutputRoots are the working directory and the system temp dir.
func DefaultOutputRoots() ([]string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return []string{cwd, os.TempDir()}, nil
}

// ResolveManifestPath resolves a frame path named in a manifest stored in
// base. Relative paths are joined onto base; either way the result must stay
// inside base.
func ResolveManifestPath(base, p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	full := p
	if !filepath.IsAbs(p) {
		full = filepath.Join(base, p)
	}
	if err := Within(full, base); err != nil {
		return "", err
	}
	return full, nil
}

// SanitizeLabel turns an arbitrary identifier into a safe file name
// component: ASCII letters, digits, dot, underscore and dash survive, runs of
// anything else become one underscore, and the result is capped at 64 bytes.
func SanitizeLabel(s string) string {
	const maxLen = 64
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'), r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "capture"
	}
	return out
}
