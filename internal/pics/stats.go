package pics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStats defines the interface for file and directory statistics
type FileStats interface {
	// ValidateDirectories checks if source and destination directories exist
	ValidateDirectories(sourceDir, destDir string) error
	// ListCandidates returns the regular files directly inside dir, excluding dot files
	ListCandidates(dir string) ([]string, error)
	// GetFileCount returns the number of files in a directory recursively
	GetFileCount(dir string) (int, error)
}

// fileStats implements the FileStats interface
type fileStats struct{}

// NewFileStats creates a new FileStats instance
func NewFileStats() FileStats {
	return &fileStats{}
}

// ValidateDirectories checks if source and destination directories exist
func (f *fileStats) ValidateDirectories(sourceDir, destDir string) error {
	if info, err := os.Stat(sourceDir); err != nil || !info.IsDir() {
		return fmt.Errorf("source-dir is not a valid directory: %s", sourceDir)
	}
	if info, err := os.Stat(destDir); err != nil || !info.IsDir() {
		return fmt.Errorf("dest-dir is not a valid directory: %s", destDir)
	}
	return nil
}

// ListCandidates returns the regular files directly inside dir, in directory order
func (f *fileStats) ListCandidates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") || !entry.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

// GetFileCount counts all non-directory files in a directory tree, excluding dot files
func (f *fileStats) GetFileCount(dir string) (int, error) {
	count := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip dot files and dot directories
		if strings.HasPrefix(info.Name(), ".") && path != dir {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !info.IsDir() {
			count++
		}
		return nil
	})
	return count, err
}
