// Package transfer moves dataset trees between local directories and sftp:// hosts.
//
// Both sides of a copy are an [FS]. [Copy] walks the source, copies files with a pool of
// goroutines and reports byte counts through a [ProgressFunc]. It knows nothing about tasks;
// executors wrap it with the temporary-path-then-rename protocol.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FS is the subset of a filesystem a transfer needs.
type FS interface {
	Stat(path string) (fs.FileInfo, error)
	// Walk calls fn for every file and directory under root, root included.
	Walk(root string, fn func(path string, info fs.FileInfo) error) error
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
	MkdirAll(path string) error
	Rename(from, to string) error
	RemoveAll(path string) error
	Join(elem ...string) string
	Close() error
}

// Exists reports whether path is present on fsys.
func Exists(fsys FS, path string) (bool, error) {
	_, err := fsys.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// LocalFS is the local filesystem.
type LocalFS struct{}

func (LocalFS) Stat(path string) (fs.FileInfo, error) { return os.Stat(path) }

func (LocalFS) Walk(root string, fn func(string, fs.FileInfo) error) error {
	return filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return fn(path, info)
	})
}

func (LocalFS) Open(path string) (io.ReadCloser, error) { return os.Open(path) }

func (LocalFS) Create(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
}

func (LocalFS) MkdirAll(path string) error { return os.MkdirAll(path, 0755) }

func (LocalFS) Rename(from, to string) error {
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", from, to, err)
	}
	return nil
}

func (LocalFS) RemoveAll(path string) error { return os.RemoveAll(path) }

func (LocalFS) Join(elem ...string) string { return filepath.Join(elem...) }

func (LocalFS) Close() error { return nil }
