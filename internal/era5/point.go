package era5

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i474232898/glm-met/internal/met"
)

// ReadPoint extracts the samples inside r at the grid cell nearest to loc from
// one or more files. Records of the same timestamp are merged across files, so
// a download split into instantaneous and accumulated variables reads as one
// series. Timestamps that cannot be turned into a complete sample are logged
// and skipped. Files that do not cover loc are skipped; ErrOutsideGrid is
// returned only when none does.
func ReadPoint(loc met.Location, r met.DateRange, log logrus.FieldLogger, paths ...string) ([]met.RawSample, error) {
	records := make(map[time.Time]*Record)
	covered := 0
	for _, path := range paths {
		err := scanFile(path, loc, r, log, records)
		if errors.Is(err, ErrOutsideGrid) {
			log.WithField("file", path).Debug("point outside file grid, skipping")
			continue
		}
		if err != nil {
			return nil, err
		}
		covered++
	}
	if covered == 0 && len(paths) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrOutsideGrid, loc.Key())
	}

	times := make([]time.Time, 0, len(records))
	for t := range records {
		times = append(times, t)
	}
	slices.SortFunc(times, func(a, b time.Time) int { return a.Compare(b) })

	samples := make([]met.RawSample, 0, len(times))
	for i, t := range times {
		smp, err := records[t].Sample()
		if err != nil {
			log.WithError(&met.SampleExtractionError{Index: i, Time: t, Err: err}).Warn("skipping timestep")
			continue
		}
		samples = append(samples, smp)
	}
	return samples, nil
}

func scanFile(path string, loc met.Location, r met.DateRange, log logrus.FieldLogger, into map[time.Time]*Record) error {
	sc, err := NewScanner(path, loc)
	if err != nil {
		return err
	}
	defer sc.Close()

	sc.Restrict(r)
	log.WithFields(sc.Summary()).Debug("reading NetCDF file")

	for sc.Scan() {
		rec := sc.Record()
		if prev, ok := into[rec.Time]; ok {
			prev.merge(rec)
			continue
		}
		into[rec.Time] = &rec
	}
	return sc.Err()
}

// DirSource serves samples from a directory of downloaded ERA5-Land NetCDF
// files (*.nc).
type DirSource struct {
	dir string
	log logrus.FieldLogger
}

// NewDirSource creates a DirSource reading from dir.
func NewDirSource(dir string, log logrus.FieldLogger) *DirSource {
	return &DirSource{dir: dir, log: log}
}

// Name implements met.Source.
func (d *DirSource) Name() string {
	return "netcdf"
}

// Sample implements met.Source.
func (d *DirSource) Sample(ctx context.Context, loc met.Location, r met.DateRange) ([]met.RawSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	paths, err := filepath.Glob(filepath.Join(d.dir, "*.nc"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no NetCDF files in %s", d.dir)
	}
	slices.Sort(paths)
	return ReadPoint(loc, r, d.log.WithField("source", d.Name()), paths...)
}
