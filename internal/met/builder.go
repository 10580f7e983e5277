package met

import (
	"errors"
	"math"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
)

// ResetPolicy decides how a decreasing accumulator is interpreted.
type ResetPolicy int

const (
	// ResetClip differences consecutive values and clips negative increments
	// to zero.
	ResetClip ResetPolicy = iota
	// ResetRestart treats a decrease as the start of a new accumulation period:
	// the increment is the current value itself.
	ResetRestart
)

// Options configures a Builder. The zero value converts per-step precipitation
// and accumulated radiation without a timezone shift.
type Options struct {
	// Offset is added to every UTC timestamp. No DST handling.
	Offset time.Duration
	// DeaccumulatePrecip differences precipitation and snowfall like the
	// radiation fields. When false they are taken as per-step amounts.
	DeaccumulatePrecip bool
	Reset              ResetPolicy
}

// Result is the outcome of building one batch.
type Result struct {
	Rows []ObservationRow
	// Last is the latest valid sample of the batch, used to seed the next one.
	Last *RawSample
	// Step is the detected sampling interval, zero when undetermined.
	Step time.Duration
}

// Builder turns raw reanalysis samples into observation rows.
type Builder struct {
	opts Options
	log  logrus.FieldLogger
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options, log logrus.FieldLogger) *Builder {
	return &Builder{opts: opts, log: log}
}

// TimeStep returns the interval between the first two samples. The samples
// must already be sorted by time.
func TimeStep(samples []RawSample) (time.Duration, error) {
	if len(samples) < 2 {
		return 0, ErrUndeterminedTimestep
	}
	t1, t2 := samples[0].Time, samples[1].Time
	if t1.IsZero() || t2.IsZero() {
		return 0, ErrUndeterminedTimestep
	}
	step := t2.Sub(t1)
	if step <= 0 {
		return 0, ErrUndeterminedTimestep
	}
	return step, nil
}

// Build converts one batch. The step is detected from the batch alone, after
// sorting and dropping repeated timestamps. seed, when non-nil, is the sample
// preceding the batch (typically the last sample of the previous chunk); it
// provides the reference accumulator for the first row only when it lies
// exactly one step before it, and is never emitted itself.
func (b *Builder) Build(samples []RawSample, seed *RawSample) Result {
	series := make([]RawSample, 0, len(samples))
	for i, s := range samples {
		if err := checkSample(s); err != nil {
			b.log.WithError(&SampleExtractionError{Index: i, Time: s.Time, Err: err}).Warn("dropping sample")
			continue
		}
		series = append(series, s)
	}
	if len(series) == 0 {
		return Result{}
	}

	slices.SortStableFunc(series, func(a, b RawSample) int {
		return a.Time.Compare(b.Time)
	})
	series = slices.CompactFunc(series, func(a, b RawSample) bool {
		return a.Time.Equal(b.Time)
	})
	last := series[len(series)-1]

	step, err := TimeStep(series)
	if err != nil {
		b.log.WithError(err).WithField("samples", len(series)).Warn("fluxes left undefined for batch")
	}

	var first *RawSample
	if seed != nil && step > 0 && checkSample(*seed) == nil {
		if gap := series[0].Time.Sub(seed.Time); gap == step {
			first = seed
		} else {
			b.log.WithFields(logrus.Fields{
				"seed": seed.Time,
				"gap":  gap,
				"step": step,
			}).Debug("seed does not precede batch by one step, first flux left undefined")
		}
	}

	rows := make([]ObservationRow, 0, len(series))
	for i, s := range series {
		row := ObservationRow{
			Time:      s.Time.UTC().Add(b.opts.Offset),
			AirTemp:   round(KelvinToCelsius(s.TemperatureK), 2),
			RelHum:    round(RelativeHumidity(s.TemperatureK, s.DewpointK), 2),
			WindSpeed: round(WindSpeed(s.WindU, s.WindV), 2),
		}

		prev := first
		if i > 0 {
			prev = nil
			if gap := s.Time.Sub(series[i-1].Time); step > 0 && gap == step {
				prev = &series[i-1]
			} else if step > 0 {
				b.log.WithFields(logrus.Fields{
					"time": s.Time,
					"gap":  gap,
					"step": step,
				}).Warn("irregular timestep, accumulated fields left undefined")
			}
		}
		b.fillAccumulated(&row, s, prev, step)
		rows = append(rows, row)
	}

	return Result{Rows: rows, Last: &last, Step: step}
}

func (b *Builder) fillAccumulated(row *ObservationRow, s RawSample, prev *RawSample, step time.Duration) {
	if prev != nil {
		secs := step.Seconds()
		row.ShortWave = ptr(b.increment(prev.ShortwaveAccum, s.ShortwaveAccum) / secs)
		row.LongWave = ptr(b.increment(prev.LongwaveAccum, s.LongwaveAccum) / secs)
	}

	precip, snow := s.PrecipAccum, s.SnowAccum
	if b.opts.DeaccumulatePrecip {
		if prev == nil {
			return
		}
		precip = b.increment(prev.PrecipAccum, s.PrecipAccum)
		snow = b.increment(prev.SnowAccum, s.SnowAccum)
	}
	rain, snow := SplitPrecipitation(precip, snow)
	row.Rain = &rain
	row.Snow = &snow
}

func (b *Builder) increment(prev, cur float64) float64 {
	d := cur - prev
	if d < 0 && b.opts.Reset == ResetRestart {
		d = cur
	}
	return math.Max(0, d)
}

// Dedupe drops rows sharing a timestamp with their predecessor, keeping the
// first. rows must be sorted by time.
func Dedupe(rows []ObservationRow) []ObservationRow {
	if len(rows) < 2 {
		return rows
	}
	out := rows[:1]
	for _, r := range rows[1:] {
		if r.Time.Equal(out[len(out)-1].Time) {
			continue
		}
		out = append(out, r)
	}
	return out
}

var errNonFinite = errors.New("non-finite value")

func checkSample(s RawSample) error {
	if s.Time.IsZero() {
		return errors.New("missing timestamp")
	}
	for _, v := range []float64{
		s.TemperatureK, s.DewpointK, s.WindU, s.WindV,
		s.ShortwaveAccum, s.LongwaveAccum, s.PrecipAccum, s.SnowAccum,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errNonFinite
		}
	}
	return nil
}

func ptr(v float64) *float64 {
	return &v
}
