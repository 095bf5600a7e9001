package filesystem

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrFileNotFound = fmt.Errorf("filesystem: file not found")
	ErrInvalidPath  = fmt.Errorf("filesystem: invalid path")
	ErrIsDirectory  = fmt.Errorf("filesystem: path is a directory")
)

// WritableFile is a file opened for writing whose contents can be forced to storage.
type WritableFile interface {
	io.WriteCloser
	Sync() error
}

// Filesystem is the storage collaborator used for file-backed responses and body capture.
type Filesystem interface {
	Open(path string) (io.ReadCloser, error)
	Create(path string) (WritableFile, error)
	Rename(source, destination string) error
	DeleteFile(path string) error

	ReadFile(path string) ([]byte, error)
	WriteFile(path string, content []byte) error

	FileExists(path string) (bool, error)
	FileSize(path string) (int64, error)
	CreateDirectory(path string) error
	ListFiles(dir string) ([]FileInfo, error)
}

// FileInfo describes a regular file returned by ListFiles. Path can be passed back
// to the other Filesystem methods.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

type localFileSystem struct {
	root string
}

// Open implements Filesystem.
func (filesystem *localFileSystem) Open(path string) (io.ReadCloser, error) {
	resolved, err := filesystem.resolve(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, err
	}

	return file, nil
}

// Create implements Filesystem. An existing file is truncated.
func (filesystem *localFileSystem) Create(path string) (WritableFile, error) {
	resolved, err := filesystem.resolve(path)
	if err != nil {
		return nil, err
	}

	if err := filesystem.CreateDirectory(filepath.Dir(path)); err != nil {
		return nil, err
	}

	return os.OpenFile(resolved, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
}

// Rename implements Filesystem. The destination is replaced atomically when it exists.
func (filesystem *localFileSystem) Rename(source string, destination string) error {
	if source == "" || destination == "" {
		return ErrInvalidPath
	}

	resolvedSource, err := filesystem.resolve(source)
	if err != nil {
		return err
	}
	resolvedDestination, err := filesystem.resolve(destination)
	if err != nil {
		return err
	}

	exists, err := filesystem.FileExists(source)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrFileNotFound, source)
	}

	return os.Rename(resolvedSource, resolvedDestination)
}

// DeleteFile implements Filesystem.
func (filesystem *localFileSystem) DeleteFile(path string) error {
	exists, err := filesystem.FileExists(path)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	resolved, err := filesystem.resolve(path)
	if err != nil {
		return err
	}

	return os.Remove(resolved)
}

// ReadFile implements Filesystem.
func (filesystem *localFileSystem) ReadFile(path string) ([]byte, error) {
	exists, err := filesystem.FileExists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	resolved, err := filesystem.resolve(path)
	if err != nil {
		return nil, err
	}

	return os.ReadFile(resolved)
}

// WriteFile implements Filesystem.
func (filesystem *localFileSystem) WriteFile(path string, content []byte) error {
	file, err := filesystem.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			slog.Error("closing file error", "path", path, "error", closeErr)
		}
	}()

	if _, err := file.Write(content); err != nil {
		return err
	}

	return file.Sync()
}

// FileExists implements Filesystem.
func (filesystem *localFileSystem) FileExists(path string) (bool, error) {
	resolved, err := filesystem.resolve(path)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	return !info.IsDir(), nil
}

// FileSize implements Filesystem.
func (filesystem *localFileSystem) FileSize(path string) (int64, error) {
	resolved, err := filesystem.resolve(path)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %s", ErrIsDirectory, path)
	}

	return info.Size(), nil
}

// CreateDirectory implements Filesystem.
func (filesystem *localFileSystem) CreateDirectory(path string) error {
	resolved, err := filesystem.resolve(path)
	if err != nil {
		return err
	}

	return os.MkdirAll(resolved, 0770)
}

// ListFiles implements Filesystem. Directories are skipped and the listing is not recursive.
func (filesystem *localFileSystem) ListFiles(dir string) ([]FileInfo, error) {
	resolved, err := filesystem.resolve(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, dir)
		}
		return nil, err
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}

		files = append(files, FileInfo{
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return files, nil
}

func (filesystem *localFileSystem) resolve(path string) (string, error) {
	if path == "" {
		return "", ErrInvalidPath
	}
	if filesystem.root == "" {
		return path, nil
	}

	return filepath.Join(filesystem.root, filepath.Clean("/"+path)), nil
}

// NewLocalFileSystem returns a Filesystem over the host filesystem. Paths are used as given.
func NewLocalFileSystem() Filesystem {
	return &localFileSystem{}
}

// NewRootedFileSystem returns a Filesystem whose paths are resolved below root and cannot escape it.
func NewRootedFileSystem(root string) Filesystem {
	return &localFileSystem{root: root}
}
