// Package artifact manages the transient files a session produces: generated
// previews of source images and the displayable copy of the merge result.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

// ErrUnknownArtifact is returned when releasing a path this store did not create.
var ErrUnknownArtifact = errors.New("unknown artifact")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("artifact store closed")

// Store owns one temporary directory and every file created inside it.
type Store struct {
	mu        sync.Mutex
	dir       string
	paths     map[string]struct{}
	closed    bool
	createTmp func(dir, pattern string) (*os.File, error)
	remove    func(name string) error
	removeAll func(path string) error
}

// NewStore creates a fresh temporary directory under parent ("" means the OS default).
func NewStore(parent string) (*Store, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, fmt.Errorf("create artifact parent: %w", err)
		}
	}

	dir, err := os.MkdirTemp(parent, "image-stitcher-*")
	if err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}

	return &Store{
		dir:       dir,
		paths:     make(map[string]struct{}),
		createTmp: os.CreateTemp,
		remove:    os.Remove,
		removeAll: os.RemoveAll,
	}, nil
}

// Dir returns the directory holding all artifacts.
func (s *Store) Dir() string {
	return s.dir
}

// Put writes data to a new uniquely named file. pattern follows os.CreateTemp.
func (s *Store) Put(pattern string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}

	file, err := s.createTmp(s.dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	path := file.Name()

	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = s.remove(path)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = s.remove(path)
		return "", fmt.Errorf("close artifact: %w", err)
	}

	s.paths[path] = struct{}{}
	return path, nil
}

// Release deletes one artifact previously returned by Put.
func (s *Store) Release(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.paths[path]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownArtifact, path)
	}
	delete(s.paths, path)

	if err := s.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// Owns reports whether path is a live artifact of this store.
func (s *Store) Owns(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.paths[path]
	return ok
}

// Paths lists live artifacts in lexical order.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.paths))
	for path := range s.paths {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Close removes the artifact directory and everything in it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.paths = make(map[string]struct{})

	if err := s.removeAll(s.dir); err != nil {
		return fmt.Errorf("remove artifact directory: %w", err)
	}
	return nil
}
