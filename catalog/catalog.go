// Package catalog stores shared files in one flat directory. The directory is
// the only source of truth: listings are a fresh scan on every call.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultMaxSize is the upload ceiling (1 GiB).
	DefaultMaxSize int64 = 1024 * 1024 * 1024
	// DefaultChunkSize is the upload read buffer size.
	DefaultChunkSize = 8 * 1024
	// DefaultStaleStagingAge is the age after which abandoned staging files are removed.
	DefaultStaleStagingAge = 24 * time.Hour

	stagingPrefix = ".upload-"
)

var (
	// ErrNotFound indicates the requested file is not in the catalog.
	ErrNotFound = errors.New("catalog: file not found")
	// ErrPayloadTooLarge indicates an upload exceeded the size ceiling.
	ErrPayloadTooLarge = errors.New("catalog: payload too large")
	// ErrInvalidName indicates a filename that cannot live in the flat namespace.
	ErrInvalidName = errors.New("catalog: invalid filename")
)

// StoredFile describes one published file.
type StoredFile struct {
	Name     string
	Size     int64
	Modified time.Time
}

// Options configures a Store.
type Options struct {
	FilesDir   string
	StagingDir string
	MaxSize    int64
	ChunkSize  int
}

// Store is the file catalog plus the staging area uploads are written to
// before they are published. StagingDir and FilesDir must share a filesystem
// so publishing is a rename.
type Store struct {
	filesDir   string
	stagingDir string
	maxSize    int64
	chunkSize  int
}

// New creates both directories if needed and returns a Store.
func New(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.FilesDir) == "" {
		return nil, errors.New("files directory is required")
	}
	if opts.StagingDir == "" {
		opts.StagingDir = filepath.Join(filepath.Dir(opts.FilesDir), "staging")
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	filesDir, err := filepath.Abs(opts.FilesDir)
	if err != nil {
		return nil, fmt.Errorf("resolve files directory: %w", err)
	}
	stagingDir, err := filepath.Abs(opts.StagingDir)
	if err != nil {
		return nil, fmt.Errorf("resolve staging directory: %w", err)
	}
	if filesDir == stagingDir {
		return nil, errors.New("staging directory must differ from files directory")
	}

	for _, dir := range []string{filesDir, stagingDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return &Store{
		filesDir:   filesDir,
		stagingDir: stagingDir,
		maxSize:    opts.MaxSize,
		chunkSize:  opts.ChunkSize,
	}, nil
}

// FilesDir returns the published files directory.
func (s *Store) FilesDir() string { return s.filesDir }

// StagingDir returns the staging directory.
func (s *Store) StagingDir() string { return s.stagingDir }

// MaxSize returns the upload ceiling in bytes.
func (s *Store) MaxSize() int64 { return s.maxSize }

// CleanName validates a client-supplied filename for the flat namespace.
// Accepted names are returned unchanged so listings and downloads agree.
func CleanName(name string) (string, error) {
	switch {
	case strings.TrimSpace(name) == "", name == ".", name == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return "", fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.ContainsRune(name, 0):
		return "", fmt.Errorf("%w: %q contains NUL", ErrInvalidName, name)
	case strings.HasPrefix(name, stagingPrefix):
		return "", fmt.Errorf("%w: %q uses a reserved prefix", ErrInvalidName, name)
	}
	return name, nil
}

// List scans the files directory. Order follows the directory read, which is
// not a contract.
func (s *Store) List() ([]StoredFile, error) {
	entries, err := os.ReadDir(s.filesDir)
	if err != nil {
		return nil, fmt.Errorf("read files directory: %w", err)
	}

	files := make([]StoredFile, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", entry.Name(), err)
		}
		files = append(files, storedFile(info))
	}
	return files, nil
}

// Stat returns metadata for one published file.
func (s *Store) Stat(name string) (StoredFile, error) {
	path, err := s.path(name)
	if err != nil {
		return StoredFile{}, err
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return StoredFile{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return StoredFile{}, fmt.Errorf("stat %q: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return StoredFile{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return storedFile(info), nil
}

// Open opens a published file for streaming. The caller closes it.
func (s *Store) Open(name string) (*os.File, StoredFile, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, StoredFile{}, err
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, StoredFile{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, StoredFile{}, fmt.Errorf("open %q: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, StoredFile{}, fmt.Errorf("stat %q: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, StoredFile{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, storedFile(info), nil
}

func (s *Store) path(name string) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.filesDir, clean), nil
}

func storedFile(info fs.FileInfo) StoredFile {
	return StoredFile{
		Name:     info.Name(),
		Size:     info.Size(),
		Modified: info.ModTime(),
	}
}
