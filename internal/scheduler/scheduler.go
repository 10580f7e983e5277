package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/glm-met/internal/met"
	"github.com/i474232898/glm-met/internal/metcsv"
	"github.com/i474232898/glm-met/internal/nml"
)

// Lake is a configured GLM namelist whose met file is kept up to date.
type Lake struct {
	Name   string
	Path   string
	Config *nml.Config
}

// LoadLakes reads the namelists at paths. A lake is named after the directory
// holding its namelist.
func LoadLakes(paths []string) ([]Lake, error) {
	lakes := make([]Lake, 0, len(paths))
	for _, p := range paths {
		cfg, err := nml.ReadFile(p)
		if err != nil {
			return nil, err
		}
		lakes = append(lakes, Lake{Name: lakeName(p), Path: p, Config: cfg})
	}
	return lakes, nil
}

func lakeName(path string) string {
	if dir := filepath.Base(filepath.Dir(path)); dir != "." && dir != string(filepath.Separator) {
		return dir
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// Fetcher is the part of met.Service the scheduler needs.
type Fetcher interface {
	FetchRange(ctx context.Context, loc met.Location, r met.DateRange, opts met.FetchOptions) ([]met.ObservationRow, error)
	SourceName() string
}

// Invalidator drops cached chunks so the trailing window is fetched again;
// ERA5-Land is published with a delay of several days.
type Invalidator interface {
	Invalidate(source string, loc met.Location, r met.DateRange) int
}

// Options configures a Scheduler.
type Options struct {
	Interval  time.Duration
	Window    time.Duration
	OutputDir string
	// FetchOptions returns the options for a lake's timezone offset.
	FetchOptions func(offset time.Duration) met.FetchOptions
	// Timeout bounds one lake refresh.
	Timeout time.Duration
}

// Scheduler periodically refreshes the met files of configured lakes.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   Fetcher
	cache     Invalidator
	lakes     []Lake
	opts      Options
	log       logrus.FieldLogger
	now       func() time.Time
}

// New creates a new Scheduler. cache may be nil.
func New(lakes []Lake, service Fetcher, cache Invalidator, opts Options, log logrus.FieldLogger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		service:   service,
		cache:     cache,
		lakes:     lakes,
		opts:      opts,
		log:       log.WithField("component", "scheduler"),
		now:       time.Now,
	}
}

// Start schedules the periodic job and starts the underlying scheduler. The
// first run starts immediately.
func (s *Scheduler) Start() error {
	if len(s.lakes) == 0 {
		s.log.Info("no lakes configured; nothing to schedule")
		return nil
	}

	minutes := int(s.opts.Interval.Minutes())
	if minutes <= 0 {
		minutes = 24 * 60
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.log.WithError(err).Warn("refresh finished with errors")
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// RunOnce refreshes every lake concurrently and writes <OutputDir>/<lake>.csv.
// Failures of single lakes are joined into the returned error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.log.WithField("lakes", len(s.lakes)).Info("running met refresh job")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, lake := range s.lakes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.refresh(ctx, lake); err != nil {
				s.log.WithError(err).WithField("lake", lake.Name).Error("refresh failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", lake.Name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.log.Info("completed met refresh job")
	return errors.Join(errs...)
}

func (s *Scheduler) refresh(ctx context.Context, lake Lake) error {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	end := s.now().UTC().Truncate(24 * time.Hour)
	r, err := met.NewDateRange(end.Add(-s.opts.Window), end)
	if err != nil {
		return err
	}
	if !lake.Config.HasTimezone {
		s.log.WithField("lake", lake.Name).Warn("no timezone in nml, using UTC")
	}

	loc := lake.Config.Location
	if s.cache != nil {
		s.cache.Invalidate(s.service.SourceName(), loc, r)
	}

	rows, err := s.service.FetchRange(ctx, loc, r, s.opts.FetchOptions(lake.Config.Offset))
	if err != nil {
		return err
	}

	out := filepath.Join(s.opts.OutputDir, lake.Name+".csv")
	if err := metcsv.WriteFile(out, rows); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"lake":  lake.Name,
		"range": r.String(),
		"rows":  len(rows),
		"file":  out,
	}).Info("met file refreshed")
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
