package pics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/acm19/sortdate/internal/logger"
)

// DirectoryRenamer defines the interface for relabelling dated directories
type DirectoryRenamer interface {
	// RenameDirectory replaces the place part of a dated directory name.
	//
	// "20230510_" with place "Rome" becomes "20230510_Rome". The date stamp is
	// kept; an empty place strips the label. Files inside are left alone.
	// Returns the new path.
	RenameDirectory(directory, place string) (string, error)
}

// directoryRenamer implements the DirectoryRenamer interface
type directoryRenamer struct {
	separator      string
	trimEmptyPlace bool
}

// NewDirectoryRenamer creates a new DirectoryRenamer using the same naming
// rules as the sort run
func NewDirectoryRenamer(separator string, trimEmptyPlace bool) DirectoryRenamer {
	return &directoryRenamer{
		separator:      separator,
		trimEmptyPlace: trimEmptyPlace,
	}
}

// RenameDirectory replaces the place part of a dated directory name
func (r *directoryRenamer) RenameDirectory(directory, place string) (string, error) {
	if strings.ContainsAny(r.separator, `/\`) {
		return "", fmt.Errorf("separator %q must not contain a path separator", r.separator)
	}
	directory = filepath.Clean(directory)

	info, err := os.Stat(directory)
	if err != nil {
		return "", fmt.Errorf("directory does not exist: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", directory)
	}

	absDir, err := filepath.Abs(directory)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	baseName := filepath.Base(absDir)
	if _, _, ok := HasDateStampPrefix(baseName); !ok {
		return "", fmt.Errorf("directory name does not start with a YYYYMMDD date: %s", baseName)
	}

	newDirName := DirectoryName(baseName[:8], sanitisePlace(place), r.separator, r.trimEmptyPlace)
	newDirPath := filepath.Join(filepath.Dir(absDir), newDirName)

	logger.Debug("Rename paths", "original", directory, "absolute", absDir, "new_name", newDirName, "new_path", newDirPath)

	if absDir == newDirPath {
		logger.Info("Directory name unchanged", "path", absDir)
		return absDir, nil
	}
	if _, err := os.Stat(newDirPath); err == nil {
		return "", fmt.Errorf("target directory already exists: %s", newDirPath)
	}

	if err := os.Rename(absDir, newDirPath); err != nil {
		return "", fmt.Errorf("failed to rename directory: %w", err)
	}
	logger.Info("Directory renamed successfully", "from", absDir, "to", newDirPath)
	return newDirPath, nil
}
