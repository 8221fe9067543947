package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal indicates a requested path resolves outside the root.
var ErrPathTraversal = errors.New("path escapes storage root")

// Root is a filesystem byte store scoped under a single directory. Every
// virtual path is resolved and containment-checked before any I/O happens.
type Root struct {
	base string
}

// NewRoot creates a Root anchored at base. The directory itself is created
// by EnsureLayout, not here.
func NewRoot(base string) (*Root, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	return &Root{base: abs}, nil
}

// Base returns the absolute root directory.
func (r *Root) Base() string {
	return r.base
}

// EnsureLayout creates the root directory tree. Call once at startup.
func (r *Root) EnsureLayout() error {
	return os.MkdirAll(r.base, 0o755)
}

// Resolve maps a virtual path to an absolute path inside the root,
// returning ErrPathTraversal if the path escapes it. A leading slash in
// the virtual path refers to the root itself, and ".." segments that climb
// past it are rejected rather than silently clipped.
func (r *Root) Resolve(virtual string) (string, error) {
	abs := filepath.Join(r.base, strings.TrimSpace(virtual))
	if abs != r.base && !strings.HasPrefix(abs, r.base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, virtual)
	}
	return abs, nil
}

// Create opens a new file at the virtual path for writing, creating parent
// directories as needed.
func (r *Root) Create(virtual string) (io.WriteCloser, error) {
	abs, err := r.Resolve(virtual)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	return os.Create(abs)
}

// Open opens the file at the virtual path for reading.
func (r *Root) Open(virtual string) (io.ReadCloser, error) {
	abs, err := r.Resolve(virtual)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

// Stat returns file info for the virtual path.
func (r *Root) Stat(virtual string) (os.FileInfo, error) {
	abs, err := r.Resolve(virtual)
	if err != nil {
		return nil, err
	}
	return os.Stat(abs)
}

// Remove deletes the file at the virtual path.
func (r *Root) Remove(virtual string) error {
	abs, err := r.Resolve(virtual)
	if err != nil {
		return err
	}
	return os.Remove(abs)
}

// WriteAtomic streams src into the virtual path through a sibling .partial
// file and renames it into place, so a reader never observes partial bytes.
// It returns the number of bytes written.
func (r *Root) WriteAtomic(virtual string, src io.Reader) (int64, error) {
	abs, err := r.Resolve(virtual)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, err
	}

	tmpPath := abs + ".partial"
	file, err := os.Create(tmpPath)
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(file, src)
	if err != nil {
		file.Close()
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Rename(tmpPath, abs); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	return written, nil
}
