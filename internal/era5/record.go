package era5

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/i474232898/glm-met/internal/met"
)

// Variable indexes into Record.Values.
type Variable int

const (
	Temperature2M Variable = iota
	Dewpoint2M
	ZonalWind10M
	MeridionalWind10M
	SurfaceSolarRadiation
	SurfaceThermalRadiation
	TotalPrecipitation
	Snowfall
	numVariables
)

// shortNames are the NetCDF variable names written by the CDS.
var shortNames = [numVariables]string{
	Temperature2M:           "t2m",
	Dewpoint2M:              "d2m",
	ZonalWind10M:            "u10",
	MeridionalWind10M:       "v10",
	SurfaceSolarRadiation:   "ssrd",
	SurfaceThermalRadiation: "strd",
	TotalPrecipitation:      "tp",
	Snowfall:                "sf",
}

func (v Variable) String() string {
	if v < 0 || v >= numVariables {
		return fmt.Sprintf("Variable(%d)", int(v))
	}
	return shortNames[v]
}

// Record is the set of readings at the selected grid cell for one timestamp.
// A file may carry only some of the variables; Has marks the ones read.
type Record struct {
	Time   time.Time
	Values [numVariables]float64
	Has    [numVariables]bool
}

// merge copies the variables of o that r does not have yet.
func (r *Record) merge(o Record) {
	for v := range o.Values {
		if o.Has[v] && !r.Has[v] {
			r.Values[v] = o.Values[v]
			r.Has[v] = true
		}
	}
}

var errFill = errors.New("fill value")

// Sample converts r to a met.RawSample. It fails when a variable is missing
// or holds a fill or non-finite value.
func (r Record) Sample() (met.RawSample, error) {
	for v := Variable(0); v < numVariables; v++ {
		if !r.Has[v] {
			return met.RawSample{}, fmt.Errorf("variable %s missing", v)
		}
		if x := r.Values[v]; math.IsNaN(x) || math.IsInf(x, 0) {
			return met.RawSample{}, fmt.Errorf("variable %s: %w", v, errFill)
		}
	}
	return met.RawSample{
		Time:           r.Time,
		TemperatureK:   r.Values[Temperature2M],
		DewpointK:      r.Values[Dewpoint2M],
		WindU:          r.Values[ZonalWind10M],
		WindV:          r.Values[MeridionalWind10M],
		ShortwaveAccum: r.Values[SurfaceSolarRadiation],
		LongwaveAccum:  r.Values[SurfaceThermalRadiation],
		PrecipAccum:    r.Values[TotalPrecipitation],
		SnowAccum:      r.Values[Snowfall],
	}, nil
}
