package met

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// DateLayout is the calendar date format used for ranges and chunk keys.
const DateLayout = "2006-01-02"

// Location is the geographic point the series is sampled at.
type Location struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// Key returns a canonical string key for indexing this location in stores.
func (l Location) Key() string {
	return fmt.Sprintf("%.4f:%.4f", l.Lat, l.Lon)
}

// Validate checks that the coordinates are within their physical bounds.
func (l Location) Validate() error {
	if err := validate.Struct(l); err != nil {
		return fmt.Errorf("invalid location %s: %w", l.Key(), err)
	}
	return nil
}

// DateRange is a half-open interval [Start, End) of UTC calendar dates.
type DateRange struct {
	Start time.Time `validate:"required"`
	End   time.Time `validate:"required,gtfield=Start"`
}

// NewDateRange truncates both ends to UTC midnight and validates the result.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: truncateDay(start), End: truncateDay(end)}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// Validate requires a non-empty range.
func (r DateRange) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid date range %s: %w", r, err)
	}
	return nil
}

// Contains reports whether t falls inside the half-open range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// RawSample is one reanalysis timestep at the sampled point, as delivered by a
// Source. Accumulated fields are cumulative since the accumulation origin.
type RawSample struct {
	Time time.Time // UTC

	TemperatureK float64
	DewpointK    float64
	WindU        float64 // m/s
	WindV        float64 // m/s

	ShortwaveAccum float64 // J/m2
	LongwaveAccum  float64 // J/m2
	PrecipAccum    float64 // m
	SnowAccum      float64 // m of water equivalent
}

// ObservationRow is one line of the lake model's meteorological input.
// Nil pointers mark values that cannot be derived for the row, such as the
// flux of the first row of an unseeded batch.
type ObservationRow struct {
	Time      time.Time // local time, shifted by the configured offset
	AirTemp   float64   // degC
	ShortWave *float64  // W/m2
	LongWave  *float64  // W/m2
	RelHum    float64   // percent
	WindSpeed float64   // m/s
	Rain      *float64  // m
	Snow      *float64  // m
}
