package pics

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCaptureDate is returned when a file carries no usable capture date.
	ErrNoCaptureDate = errors.New("no capture date")
	// ErrCoordinateUnavailable is returned when GPS tags are missing or malformed.
	ErrCoordinateUnavailable = errors.New("coordinate unavailable")
	// ErrDirectoryConflict is returned when a destination key exists but is not a directory.
	ErrDirectoryConflict = errors.New("destination exists and is not a directory")
	// ErrCollisionsExhausted is returned when every numbered variant of a file name is taken.
	ErrCollisionsExhausted = errors.New("too many copies")
)

// Action selects what happens to the source file once its destination is known.
type Action int

const (
	// ActionMove relocates the source file.
	ActionMove Action = iota
	// ActionCopy duplicates the source file and leaves it in place.
	ActionCopy
)

// String returns the past-tense verb used in summaries ("moved" or "copied").
func (a Action) String() string {
	if a == ActionCopy {
		return "copied"
	}
	return "moved"
}

// SortOptions holds configuration for a sort run.
type SortOptions struct {
	// DestRoot is the directory under which dated directories are created.
	DestRoot string
	// Separator sits between the date stamp and the place name.
	Separator string
	// TrimEmptyPlace drops the trailing separator when no place name is known.
	TrimEmptyPlace bool
	// UseGeo enables GPS based place names.
	UseGeo bool
	// Action is move or copy.
	Action Action
	// ProgressChan is an optional channel for receiving progress events.
	ProgressChan chan<- ProgressEvent
}

// DefaultSortOptions returns the default sort options.
func DefaultSortOptions() SortOptions {
	return SortOptions{
		DestRoot:       ".",
		Separator:      "_",
		TrimEmptyPlace: false,
		UseGeo:         false,
		Action:         ActionMove,
		ProgressChan:   nil,
	}
}

// ProgressEvent represents a progress update during file processing operations.
type ProgressEvent struct {
	// Stage indicates the current processing stage ("sorting", "backup", "restore").
	Stage string
	// Current is the number of items processed so far.
	Current int
	// Total is the total number of items to process.
	Total int
	// Message is a human-readable description of the current operation.
	Message string
	// File is the path of the file currently being processed.
	File string
}

// GPSTags holds the printable GPS values of a file.
type GPSTags struct {
	Latitude     string
	LatitudeRef  string
	Longitude    string
	LongitudeRef string
}

// CaptureMetadata is what a MetadataReader extracts from one file.
type CaptureMetadata struct {
	// CaptureDate is the raw "YYYY:MM:DD HH:MM:SS" value, empty if absent.
	CaptureDate string
	// GPS is nil unless all four GPS tags are present.
	GPS *GPSTags
}

// HasDate reports whether the metadata carries a capture date.
func (m CaptureMetadata) HasDate() bool {
	return m.CaptureDate != ""
}

// GeoCoordinate is a decimal degree pair, south and west negative.
type GeoCoordinate struct {
	Latitude  float64
	Longitude float64
}

// Query formats the coordinate the way reverse geocoders expect it: "lat, lon".
func (c GeoCoordinate) Query() string {
	return fmt.Sprintf("%.6f, %.6f", c.Latitude, c.Longitude)
}

// RunStats accumulates counters for a single sort run.
type RunStats struct {
	DirectoriesCreated int
	FilesPlaced        int
	FilesConsidered    int
	FilesSkipped       int
	FilesFailed        int
}

// Summary renders the end-of-run report.
func (s RunStats) Summary(action Action) string {
	return fmt.Sprintf("%d directories created, %d of %d files %s", s.DirectoriesCreated, s.FilesPlaced, s.FilesConsidered, action)
}

// RestoreFilter defines the date range filter for restoring backups.
type RestoreFilter struct {
	// FromYear is the lower bound year (0 means no lower bound).
	FromYear int
	// FromMonth is the lower bound month (0 means January if FromYear is set).
	FromMonth int
	// ToYear is the upper bound year (0 means no upper bound).
	ToYear int
	// ToMonth is the upper bound month (0 means December if ToYear is set).
	ToMonth int
}
