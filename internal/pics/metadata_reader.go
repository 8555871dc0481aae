package pics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/acm19/sortdate/internal/logger"
	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/mknote"
)

// Tag names shared by exiftool and goexif.
const (
	TagDateTimeOriginal = "DateTimeOriginal"
	TagGPSLatitude      = "GPSLatitude"
	TagGPSLatitudeRef   = "GPSLatitudeRef"
	TagGPSLongitude     = "GPSLongitude"
	TagGPSLongitudeRef  = "GPSLongitudeRef"
)

func init() {
	exif.RegisterParsers(mknote.All...)
}

// MetadataReader defines the interface for reading capture metadata
type MetadataReader interface {
	// Read extracts the capture date and GPS tags of a single file.
	//
	// Missing or malformed metadata is not an error: an empty CaptureMetadata
	// is returned. An error means the file itself could not be read.
	Read(filePath string) (CaptureMetadata, error)
	// Name identifies the reader in logs.
	Name() string
}

// metadataFromFields builds CaptureMetadata from a tag name to printable value lookup
func metadataFromFields(get func(tag string) (string, bool)) CaptureMetadata {
	var meta CaptureMetadata
	if date, ok := get(TagDateTimeOriginal); ok {
		meta.CaptureDate = strings.TrimSpace(date)
	}

	lat, okLat := get(TagGPSLatitude)
	latRef, okLatRef := get(TagGPSLatitudeRef)
	lon, okLon := get(TagGPSLongitude)
	lonRef, okLonRef := get(TagGPSLongitudeRef)
	if okLat && okLatRef && okLon && okLonRef {
		meta.GPS = &GPSTags{
			Latitude:     lat,
			LatitudeRef:  latRef,
			Longitude:    lon,
			LongitudeRef: lonRef,
		}
	}
	return meta
}

// exiftoolReader reads metadata through a long-running exiftool process
type exiftoolReader struct {
	et *exiftool.Exiftool
}

// NewExiftoolReader creates a MetadataReader backed by et
func NewExiftoolReader(et *exiftool.Exiftool) MetadataReader {
	return &exiftoolReader{et: et}
}

func (r *exiftoolReader) Name() string {
	return "exiftool"
}

func (r *exiftoolReader) Read(filePath string) (CaptureMetadata, error) {
	if r.et == nil {
		return CaptureMetadata{}, fmt.Errorf("exiftool not initialised")
	}
	if _, err := os.Stat(filePath); err != nil {
		return CaptureMetadata{}, fmt.Errorf("cannot access file: %w", err)
	}

	fileInfos := r.et.ExtractMetadata(filePath)
	if len(fileInfos) == 0 {
		logger.Debug("No metadata returned", "file", filepath.Base(filePath))
		return CaptureMetadata{}, nil
	}
	fileInfo := fileInfos[0]
	if fileInfo.Err != nil {
		logger.Debug("Metadata extraction failed", "file", filepath.Base(filePath), "error", fileInfo.Err)
		return CaptureMetadata{}, nil
	}

	return metadataFromFields(func(tag string) (string, bool) {
		val, err := fileInfo.GetString(tag)
		return val, err == nil && val != ""
	}), nil
}

// goexifReader decodes EXIF blocks in pure Go
type goexifReader struct{}

// NewGoexifReader creates a MetadataReader that does not need the exiftool binary
func NewGoexifReader() MetadataReader {
	return &goexifReader{}
}

func (r *goexifReader) Name() string {
	return "goexif"
}

func (r *goexifReader) Read(filePath string) (CaptureMetadata, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return CaptureMetadata{}, fmt.Errorf("cannot open file: %w", err)
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil && (x == nil || exif.IsCriticalError(err)) {
		logger.Debug("No EXIF data", "file", filepath.Base(filePath), "error", err)
		return CaptureMetadata{}, nil
	}

	return metadataFromFields(func(tag string) (string, bool) {
		t, err := x.Get(exif.FieldName(tag))
		if err != nil {
			return "", false
		}
		if s, err := t.StringVal(); err == nil {
			return s, s != ""
		}
		return t.String(), true
	}), nil
}
