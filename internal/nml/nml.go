// Package nml extracts the handful of fields glm-met needs from a GLM
// namelist (glm3.nml). It is not a general Fortran namelist parser.
package nml

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/glm-met/internal/met"
)

const number = `([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)`

var (
	commentRe   = regexp.MustCompile(`(?m)!.*$`)
	latitudeRe  = regexp.MustCompile(`\blatitude\s*=\s*` + number)
	longitudeRe = regexp.MustCompile(`\blongitude\s*=\s*` + number)
	timezoneRe  = regexp.MustCompile(`\btimezone\s*=\s*` + number)
	startRe     = regexp.MustCompile(`\bstart\s*=\s*['"]([^'"]*)['"]`)
	stopRe      = regexp.MustCompile(`\bstop\s*=\s*['"]([^'"]*)['"]`)
)

// MissingFieldError reports a required namelist entry that is absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s not found in nml", e.Field)
}

// Config holds the values read from one namelist.
type Config struct {
	Location met.Location
	// Offset is the timezone offset from UTC; zero when HasTimezone is false.
	Offset      time.Duration
	HasTimezone bool
	// Start and Stop are the raw simulation bounds, both empty unless both are
	// present.
	Start string
	Stop  string
}

// ReadFile reads and parses the namelist at path.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read nml: %w", err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse extracts the location (required) and the optional timezone and
// simulation bounds.
func Parse(text string) (*Config, error) {
	loc, err := LatLon(text)
	if err != nil {
		return nil, err
	}
	cfg := &Config{Location: loc}

	offset, err := Timezone(text)
	switch err.(type) {
	case nil:
		cfg.Offset = offset
		cfg.HasTimezone = true
	case *MissingFieldError:
	default:
		return nil, err
	}

	start, stop, err := StartStop(text)
	switch err.(type) {
	case nil:
		cfg.Start, cfg.Stop = start, stop
	case *MissingFieldError:
	default:
		return nil, err
	}
	return cfg, nil
}

// LatLon returns the lake location. Latitude is checked before longitude.
func LatLon(text string) (met.Location, error) {
	lat, err := findFloat(latitudeRe, text, "latitude")
	if err != nil {
		return met.Location{}, err
	}
	lon, err := findFloat(longitudeRe, text, "longitude")
	if err != nil {
		return met.Location{}, err
	}
	loc := met.Location{Lat: lat, Lon: lon}
	if err := loc.Validate(); err != nil {
		return met.Location{}, err
	}
	return loc, nil
}

// Timezone returns the offset from UTC given in hours by the timezone entry.
// Fractional hours are kept to the second.
func Timezone(text string) (time.Duration, error) {
	hours, err := findFloat(timezoneRe, text, "timezone")
	if err != nil {
		return 0, err
	}
	if math.Abs(hours) > 24 {
		return 0, fmt.Errorf("timezone %v out of range", hours)
	}
	return time.Duration(math.Round(hours*3600)) * time.Second, nil
}

// StartStop returns the quoted simulation start and stop strings.
func StartStop(text string) (start, stop string, err error) {
	start, ok := find(startRe, text)
	if !ok {
		return "", "", &MissingFieldError{Field: "start"}
	}
	stop, ok = find(stopRe, text)
	if !ok {
		return "", "", &MissingFieldError{Field: "stop"}
	}
	return start, stop, nil
}

var dateLayouts = []string{
	met.DateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
}

// ParseDate parses a date or datetime string and keeps only its UTC calendar
// date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
}

func find(re *regexp.Regexp, text string) (string, bool) {
	m := re.FindStringSubmatch(commentRe.ReplaceAllString(text, ""))
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

func findFloat(re *regexp.Regexp, text, field string) (float64, error) {
	raw, ok := find(re, text)
	if !ok {
		return 0, &MissingFieldError{Field: field}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return v, nil
}
