package pics

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// numberPattern matches a decimal or a num/den ratio inside printable GPS values,
// e.g. `[45, 30, 1234/100]`, `["45/1","30/1","1234/100"]` or `45 deg 30' 12.34" N`.
var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?(?:/\d+(?:\.\d+)?)?`)

// ParseSexagesimal converts a printable degrees/minutes/seconds value to decimal degrees.
// The result is unsigned; the hemisphere is applied by ToGeoCoordinate.
func ParseSexagesimal(value string) (float64, error) {
	parts := numberPattern.FindAllString(value, -1)
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: expected 3 components in %q, found %d", ErrCoordinateUnavailable, value, len(parts))
	}

	var dms [3]float64
	for i, part := range parts {
		n, err := parseRational(part)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrCoordinateUnavailable, err)
		}
		dms[i] = n
	}

	return dms[0] + dms[1]/60 + dms[2]/3600, nil
}

// parseRational parses "12.5" or "1234/100".
func parseRational(s string) (float64, error) {
	num, den, isRatio := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	if !isRatio {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid denominator %q: %w", s, err)
	}
	if d == 0 {
		return 0, fmt.Errorf("zero denominator in %q", s)
	}
	return n / d, nil
}

// hemisphereSign returns -1 for the negative hemisphere, 1 for the positive one.
// Only the first letter counts, so "S" and "South" are equivalent.
func hemisphereSign(ref string, positive, negative byte) (float64, error) {
	ref = strings.TrimSpace(strings.ToUpper(ref))
	if ref == "" {
		return 0, fmt.Errorf("%w: missing hemisphere", ErrCoordinateUnavailable)
	}
	switch ref[0] {
	case positive:
		return 1, nil
	case negative:
		return -1, nil
	}
	return 0, fmt.Errorf("%w: unexpected hemisphere %q", ErrCoordinateUnavailable, ref)
}

// ToGeoCoordinate converts the four printable GPS tags to a signed decimal pair
// rounded to 6 decimal places.
func ToGeoCoordinate(tags GPSTags) (GeoCoordinate, error) {
	lat, err := ParseSexagesimal(tags.Latitude)
	if err != nil {
		return GeoCoordinate{}, fmt.Errorf("latitude: %w", err)
	}
	latSign, err := hemisphereSign(tags.LatitudeRef, 'N', 'S')
	if err != nil {
		return GeoCoordinate{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := ParseSexagesimal(tags.Longitude)
	if err != nil {
		return GeoCoordinate{}, fmt.Errorf("longitude: %w", err)
	}
	lonSign, err := hemisphereSign(tags.LongitudeRef, 'E', 'W')
	if err != nil {
		return GeoCoordinate{}, fmt.Errorf("longitude: %w", err)
	}

	if lat > 90 || lon > 180 {
		return GeoCoordinate{}, fmt.Errorf("%w: out of range (%f, %f)", ErrCoordinateUnavailable, lat, lon)
	}

	return GeoCoordinate{
		Latitude:  round6(latSign * lat),
		Longitude: round6(lonSign * lon),
	}, nil
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
