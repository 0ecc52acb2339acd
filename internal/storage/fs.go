// Package storage provides the filesystem used by the archiver and the
// on-disk layout of a channel archive.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FileSystem is the subset of filesystem operations the archiver needs.
type FileSystem interface {
	Exists(path string) (bool, error)
	CreateDir(path string) error
	WriteBinaryFile(path string, data []byte) error
	WriteTextFile(path string, text string) error
	ReadFile(path string) ([]byte, error)
}

// Fs implements FileSystem on top of an afero.Fs.
// Writes go to a temp file in the target directory and are renamed into
// place, so a crash never leaves a partial file under the final name.
type Fs struct {
	fs afero.Fs
}

// NewOsFs returns a FileSystem backed by the real OS filesystem.
func NewOsFs() *Fs {
	return &Fs{fs: afero.NewOsFs()}
}

// NewMemFs returns an in-memory FileSystem.
func NewMemFs() *Fs {
	return &Fs{fs: afero.NewMemMapFs()}
}

// New wraps an arbitrary afero.Fs.
func New(fs afero.Fs) *Fs {
	return &Fs{fs: fs}
}

// Afero exposes the underlying afero.Fs.
func (f *Fs) Afero() afero.Fs {
	return f.fs
}

// Exists reports whether path exists.
func (f *Fs) Exists(path string) (bool, error) {
	ok, err := afero.Exists(f.fs, path)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return ok, nil
}

// CreateDir creates path and any missing parents. Existing dirs are fine.
func (f *Fs) CreateDir(path string) error {
	if err := f.fs.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", path, err)
	}
	return nil
}

// WriteBinaryFile atomically writes data to path.
func (f *Fs) WriteBinaryFile(path string, data []byte) error {
	return f.writeAtomic(path, data)
}

// WriteTextFile atomically writes text to path.
func (f *Fs) WriteTextFile(path string, text string) error {
	return f.writeAtomic(path, []byte(text))
}

// ReadFile returns the contents of path.
func (f *Fs) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(f.fs, path)
}

func (f *Fs) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := f.CreateDir(dir); err != nil {
		return err
	}

	tmp, err := afero.TempFile(f.fs, dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = f.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = f.fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}

	if err := f.fs.Rename(tmpName, path); err != nil {
		_ = f.fs.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

var _ FileSystem = (*Fs)(nil)

// IsNotExist reports whether err means a missing file.
func IsNotExist(err error) bool {
	return os.IsNotExist(err)
}
