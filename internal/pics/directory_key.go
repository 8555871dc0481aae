package pics

import (
	"path/filepath"
	"strconv"
)

// DateStamp turns an EXIF date ("2023:05:10 12:00:00") into "20230510".
//
// The separators between year, month and day are vendor defined and not checked,
// but the digits are: a malformed or zeroed date ("0000:00:00") is reported as
// not ok so the caller can treat the file as unclassifiable.
func DateStamp(captureDate string) (string, bool) {
	if len(captureDate) < 10 {
		return "", false
	}
	year, month, day := captureDate[0:4], captureDate[5:7], captureDate[8:10]
	for _, part := range []string{year, month, day} {
		if !allDigits(part) {
			return "", false
		}
	}

	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if y == 0 || m < 1 || m > 12 || d < 1 || d > 31 {
		return "", false
	}

	return year + month + day, true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// DirectoryName returns "<YYYYMMDD><separator><place>".
// With trimEmptyPlace set, an empty place drops the separator as well.
func DirectoryName(stamp, place, separator string, trimEmptyPlace bool) string {
	if place == "" && trimEmptyPlace {
		return stamp
	}
	return stamp + separator + place
}

// BuildDirectoryKey derives the destination directory for a capture date.
// It is a pure function of its arguments. ok is false when the date is unusable.
func BuildDirectoryKey(captureDate, place, root, separator string, trimEmptyPlace bool) (string, bool) {
	stamp, ok := DateStamp(captureDate)
	if !ok {
		return "", false
	}
	return filepath.Join(root, DirectoryName(stamp, place, separator, trimEmptyPlace)), true
}

// HasDateStampPrefix reports whether a directory name starts with an 8 digit date
// stamp and returns the year and month encoded in it.
func HasDateStampPrefix(name string) (year, month int, ok bool) {
	if len(name) < 8 || !allDigits(name[:8]) {
		return 0, 0, false
	}
	year, _ = strconv.Atoi(name[0:4])
	month, _ = strconv.Atoi(name[4:6])
	day, _ := strconv.Atoi(name[6:8])
	if year == 0 || month < 1 || month > 12 || day < 1 || day > 31 {
		return 0, 0, false
	}
	return year, month, true
}
