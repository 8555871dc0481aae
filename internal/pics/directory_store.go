package pics

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/acm19/sortdate/internal/logger"
	"github.com/spf13/afero"
)

// DirectoryStore defines the interface for creating destination directories
type DirectoryStore interface {
	// Ensure makes sure key exists as a directory.
	//
	// Returns true only when this call created the directory. The parent must
	// already exist; creation is not recursive. A non-directory at key yields
	// ErrDirectoryConflict.
	Ensure(key string) (bool, error)
}

// directoryStore implements the DirectoryStore interface
type directoryStore struct {
	fs      afero.Fs
	mu      sync.Mutex
	created map[string]struct{}
}

// NewDirectoryStore creates a new DirectoryStore on top of fsys
func NewDirectoryStore(fsys afero.Fs) DirectoryStore {
	return &directoryStore{
		fs:      fsys,
		created: make(map[string]struct{}),
	}
}

// Ensure creates key if it does not exist yet
func (s *directoryStore) Ensure(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.created[key]; ok {
		return false, nil
	}

	info, err := s.fs.Stat(key)
	switch {
	case err == nil && info.IsDir():
		return false, nil
	case err == nil:
		return false, fmt.Errorf("%w: %s", ErrDirectoryConflict, key)
	case !errors.Is(err, fs.ErrNotExist):
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}

	if err := s.fs.Mkdir(key, 0755); err != nil {
		return false, fmt.Errorf("failed to create directory %s: %w", key, err)
	}
	s.created[key] = struct{}{}
	logger.Debug("Created directory", "path", key)
	return true, nil
}
