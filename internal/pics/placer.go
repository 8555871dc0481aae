package pics

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"syscall"
	"time"

	"github.com/acm19/sortdate/internal/logger"
	"github.com/spf13/afero"
)

// maxCollisions bounds the numbered variants tried for one file name.
const maxCollisions = 999

// Placer defines the interface for placing a file into its destination directory
type Placer interface {
	// Place moves or copies sourcePath into destDir without overwriting anything.
	//
	// If destDir already holds a file with the same name, the first free name among
	// 001_name ... 999_name is used. When all of them are taken the source is left
	// untouched and ErrCollisionsExhausted is returned.
	//
	// Returns the path the file ended up at.
	Place(sourcePath, destDir string) (string, error)
}

// placer implements the Placer interface
type placer struct {
	fs     afero.Fs
	action Action
}

// NewPlacer creates a new Placer performing action on fsys
func NewPlacer(fsys afero.Fs, action Action) Placer {
	return &placer{
		fs:     fsys,
		action: action,
	}
}

// Place moves or copies sourcePath into destDir
func (p *placer) Place(sourcePath, destDir string) (string, error) {
	name := filepath.Base(sourcePath)
	destPath, err := p.freeName(destDir, name)
	if err != nil {
		return "", err
	}

	switch p.action {
	case ActionCopy:
		err = p.copyFile(sourcePath, destPath)
	default:
		err = p.moveFile(sourcePath, destPath)
	}
	if err != nil {
		return "", err
	}

	logger.Debug("Placed file", "from", sourcePath, "to", destPath, "action", p.action)
	return destPath, nil
}

// freeName returns the first destination path that does not exist yet
func (p *placer) freeName(destDir, name string) (string, error) {
	candidate := filepath.Join(destDir, name)
	for counter := 1; ; counter++ {
		exists, err := afero.Exists(p.fs, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
		if counter > maxCollisions {
			return "", fmt.Errorf("%w: %s in %s", ErrCollisionsExhausted, name, destDir)
		}
		logger.Debug("Name taken, trying next", "path", candidate)
		candidate = filepath.Join(destDir, fmt.Sprintf("%03d_%s", counter, name))
	}
}

// moveFile renames src to dst, falling back to copy and remove across devices
func (p *placer) moveFile(src, dst string) error {
	err := p.fs.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}

	logger.Debug("Rename crosses devices, copying instead", "from", src, "to", dst)
	if err := p.copyFile(src, dst); err != nil {
		return err
	}
	if err := p.fs.Remove(src); err != nil {
		return fmt.Errorf("copied %s but failed to remove it: %w", src, err)
	}
	return nil
}

// copyFile copies src next to dst under a temporary name, preserves mode and
// modification time, then renames it into place
func (p *placer) copyFile(src, dst string) error {
	srcInfo, err := p.fs.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if !srcInfo.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}

	srcFile, err := p.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer srcFile.Close()

	tmpFile, err := afero.TempFile(p.fs, filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file for %s: %w", dst, err)
	}
	tmpPath := tmpFile.Name()

	committed := false
	defer func() {
		if !committed {
			p.fs.Remove(tmpPath)
		}
	}()

	bytesWritten, err := io.Copy(tmpFile, srcFile)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}

	if err := p.preserveAttributes(tmpPath, srcInfo); err != nil {
		return err
	}

	if err := p.fs.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", tmpPath, dst, err)
	}
	committed = true

	logger.Debug("File copied", "from", src, "to", dst, "bytes", bytesWritten)
	return nil
}

func (p *placer) preserveAttributes(path string, srcInfo fs.FileInfo) error {
	if err := p.fs.Chmod(path, srcInfo.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to preserve mode on %s: %w", path, err)
	}
	if err := p.fs.Chtimes(path, time.Now(), srcInfo.ModTime()); err != nil {
		return fmt.Errorf("failed to preserve modification time on %s: %w", path, err)
	}
	return nil
}
