package pics

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/acm19/sortdate/internal/logger"
	"github.com/spf13/afero"
)

// Placement describes one file that was moved or copied.
type Placement struct {
	Source      string
	Destination string
	CaptureDate string
	Place       string
}

// PlacementRecorder receives every successful placement, e.g. to keep a journal.
type PlacementRecorder interface {
	RecordPlacement(ctx context.Context, p Placement) error
}

// FileOrganiser defines the interface for organising files
type FileOrganiser interface {
	// Organise sorts files into dated directories under the destination root.
	//
	// Files are processed one at a time in the given order. A file without a
	// usable capture date is skipped; placement failures are counted and the
	// run continues. Only directory creation errors (ErrDirectoryConflict,
	// missing destination root) or a cancelled context stop the run early;
	// the stats gathered so far are returned with the error.
	Organise(ctx context.Context, files []string) (RunStats, error)
}

// errDirectoryUnusable marks directory creation failures other than a conflict.
var errDirectoryUnusable = errors.New("destination directory unusable")

// fileOrganiser implements the FileOrganiser interface
type fileOrganiser struct {
	reader   MetadataReader
	resolver PlaceResolver
	store    DirectoryStore
	placer   Placer
	recorder PlacementRecorder
	opts     SortOptions
}

// OrganiserDeps bundles the collaborators of a FileOrganiser. Nil fields get defaults.
type OrganiserDeps struct {
	Reader   MetadataReader
	Resolver PlaceResolver
	Store    DirectoryStore
	Placer   Placer
	Recorder PlacementRecorder
}

// NewFileOrganiser creates a new FileOrganiser instance working on the OS filesystem
func NewFileOrganiser(deps OrganiserDeps, opts SortOptions) FileOrganiser {
	fsys := afero.NewOsFs()
	if deps.Reader == nil {
		deps.Reader = NewGoexifReader()
	}
	if deps.Resolver == nil || !opts.UseGeo {
		deps.Resolver = NewNoPlaceResolver()
	}
	if deps.Store == nil {
		deps.Store = NewDirectoryStore(fsys)
	}
	if deps.Placer == nil {
		deps.Placer = NewPlacer(fsys, opts.Action)
	}
	return &fileOrganiser{
		reader:   deps.Reader,
		resolver: deps.Resolver,
		store:    deps.Store,
		placer:   deps.Placer,
		recorder: deps.Recorder,
		opts:     opts,
	}
}

// Organise sorts files into dated directories
func (o *fileOrganiser) Organise(ctx context.Context, files []string) (RunStats, error) {
	logger.Info("Organising files", "files", len(files), "dest", o.opts.DestRoot, "action", o.opts.Action, "geo", o.opts.UseGeo, "reader", o.reader.Name())

	var stats RunStats
	for i, filePath := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.FilesConsidered++
		o.emitProgress(i+1, len(files), filePath)

		logger.Info("Processing file", "file", filePath)
		created, err := o.organiseFile(ctx, filePath)
		if created {
			stats.DirectoriesCreated++
		}
		switch {
		case err == nil:
			stats.FilesPlaced++
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			logger.Warn("Interrupted, file left in place", "file", filePath)
			return stats, err
		case errors.Is(err, ErrNoCaptureDate):
			stats.FilesSkipped++
			logger.Info("Capture date not found, skipping", "file", filePath)
		case errors.Is(err, ErrDirectoryConflict), errors.Is(err, errDirectoryUnusable):
			logger.Error("Destination directory unusable, stopping", "file", filePath, "error", err)
			return stats, err
		case errors.Is(err, ErrCollisionsExhausted):
			stats.FilesFailed++
			logger.Warn("Too many copies, file skipped", "file", filePath, "error", err)
		default:
			stats.FilesFailed++
			logger.Error("Failed to place file", "file", filePath, "error", err)
		}
	}

	logger.Info("Done", "directories_created", stats.DirectoriesCreated, "files_"+o.opts.Action.String(), stats.FilesPlaced, "files_considered", stats.FilesConsidered, "skipped", stats.FilesSkipped, "failed", stats.FilesFailed)
	return stats, nil
}

// organiseFile runs the per-file pipeline and reports whether it created a directory
func (o *fileOrganiser) organiseFile(ctx context.Context, filePath string) (bool, error) {
	meta, err := o.reader.Read(filePath)
	if err != nil {
		logger.Warn("Failed to read metadata", "file", filePath, "error", err)
		return false, fmt.Errorf("%w: %v", ErrNoCaptureDate, err)
	}
	if !meta.HasDate() {
		return false, ErrNoCaptureDate
	}
	if _, ok := DateStamp(meta.CaptureDate); !ok {
		return false, fmt.Errorf("%w: malformed date %q", ErrNoCaptureDate, meta.CaptureDate)
	}
	logger.Debug("Date and time taken", "file", filepath.Base(filePath), "date", meta.CaptureDate)

	place := o.placeFor(ctx, filePath, meta)
	// A lookup cut short by cancellation yields "", which is not the file's place.
	if err := ctx.Err(); err != nil {
		return false, err
	}

	dirName, ok := BuildDirectoryKey(meta.CaptureDate, place, o.opts.DestRoot, o.opts.Separator, o.opts.TrimEmptyPlace)
	if !ok {
		return false, fmt.Errorf("%w: malformed date %q", ErrNoCaptureDate, meta.CaptureDate)
	}

	created, err := o.store.Ensure(dirName)
	if err != nil {
		if errors.Is(err, ErrDirectoryConflict) {
			return false, err
		}
		return false, fmt.Errorf("%w: %v", errDirectoryUnusable, err)
	}
	if created {
		logger.Info("Created directory", "path", dirName)
	}

	destPath, err := o.placer.Place(filePath, dirName)
	if err != nil {
		return created, err
	}
	logger.Info("File "+o.opts.Action.String(), "from", filePath, "to", destPath)

	if o.recorder != nil {
		placement := Placement{
			Source:      filePath,
			Destination: destPath,
			CaptureDate: meta.CaptureDate,
			Place:       place,
		}
		if err := o.recorder.RecordPlacement(ctx, placement); err != nil {
			logger.Warn("Failed to record placement", "file", filePath, "error", err)
		}
	}
	return created, nil
}

// placeFor resolves the place name of a file, or "" if geo is off or unavailable
func (o *fileOrganiser) placeFor(ctx context.Context, filePath string, meta CaptureMetadata) string {
	if !o.opts.UseGeo {
		return ""
	}
	if meta.GPS == nil {
		logger.Debug("No GPS tags", "file", filepath.Base(filePath))
		return ""
	}
	coord, err := ToGeoCoordinate(*meta.GPS)
	if err != nil {
		logger.Warn("GPS coordinate unavailable", "file", filepath.Base(filePath), "error", err)
		return ""
	}
	return o.resolver.Resolve(ctx, coord)
}

func (o *fileOrganiser) emitProgress(current, total int, filePath string) {
	if o.opts.ProgressChan == nil {
		return
	}
	select {
	case o.opts.ProgressChan <- ProgressEvent{
		Stage:   "sorting",
		Current: current,
		Total:   total,
		Message: fmt.Sprintf("Sorting file %d of %d", current, total),
		File:    filePath,
	}:
	default:
		logger.Debug("Progress event dropped (channel full)", "stage", "sorting")
	}
}
