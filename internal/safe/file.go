package safe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultMaxFileSize is the default maximum size accepted by ReadFile (1MB).
const DefaultMaxFileSize = 1 << 20

// ReadOptions configures ReadFile.
type ReadOptions struct {
	// MaxSize is the maximum allowed file size in bytes. Zero means DefaultMaxFileSize.
	MaxSize int64
	// AllowSymlinks allows reading through symlinks.
	AllowSymlinks bool
}

// ReadFile reads a regular file, rejecting symlinks (unless allowed) and
// files larger than the configured limit.
func ReadFile(path string, opts *ReadOptions) ([]byte, error) {
	if opts == nil {
		opts = &ReadOptions{}
	}
	maxSize := opts.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxFileSize
	}

	cleanPath := filepath.Clean(path)
	info, err := os.Lstat(cleanPath)
	if err != nil {
		return nil, err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if !opts.AllowSymlinks {
			return nil, fmt.Errorf("file %q is a symlink, which is not allowed", path)
		}
		if info, err = os.Stat(cleanPath); err != nil {
			return nil, err
		}
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("path %q is not a regular file", path)
	}
	if info.Size() > maxSize {
		return nil, fmt.Errorf("file exceeds maximum allowed size of %d bytes", maxSize)
	}

	return os.ReadFile(cleanPath)
}

// WriteFile streams fn's output into path through a temporary file in the
// same directory and renames it into place, so readers never observe a
// partially written capture. Parent directories are created with 0755.
func WriteFile(path string, perm os.FileMode, fn func(w io.Writer) error) (err error) {
	if perm == 0 {
		perm = 0o600
	}
	dir := filepath.Dir(filepath.Clean(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = fn(tmp); err != nil {
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
