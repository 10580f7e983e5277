package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/glm-met/internal/bootstrap"
	"github.com/i474232898/glm-met/internal/config"
	"github.com/i474232898/glm-met/internal/logger"
	"github.com/i474232898/glm-met/internal/met"
	"github.com/i474232898/glm-met/internal/metcsv"
	"github.com/i474232898/glm-met/internal/nml"
)

type options struct {
	nmlPath    string
	start      string
	end        string
	output     string
	chunk      string
	source     string
	netcdfDir  string
	logLevel   string
	configPath string
}

func main() {
	parser := argparse.NewParser("glm-met", "Builds a GLM meteorological CSV from ERA5-Land for the lake in a namelist")

	nmlPath := parser.StringPositional(&argparse.Options{
		Required: true,
		Help:     "GLM namelist (glm3.nml) holding latitude, longitude and timezone"})

	start := parser.String("", "start", &argparse.Options{
		Help: "Start date (YYYY-MM-DD), defaults to the namelist start"})

	end := parser.String("", "end", &argparse.Options{
		Help: "End date (YYYY-MM-DD, exclusive), defaults to the namelist stop"})

	output := parser.String("o", "output", &argparse.Options{
		Default: "met.csv",
		Help:    "Output CSV path"})

	chunk := parser.Selector("", "chunk", []string{"year", "month", "none"}, &argparse.Options{
		Help: "Split the request into yearly or monthly chunks"})

	source := parser.Selector("", "source", []string{"cds", "netcdf"}, &argparse.Options{
		Help: "Sample source: the Copernicus CDS or a directory of NetCDF files"})

	netcdfDir := parser.String("", "netcdf-dir", &argparse.Options{
		Help: "Directory of ERA5-Land NetCDF files for --source netcdf"})

	logLevel := parser.Selector("", "log-level", []string{"trace", "debug", "info", "warn", "error"}, &argparse.Options{
		Help: "Log level"})

	configPath := parser.String("c", "config", &argparse.Options{
		Help: "YAML config file"})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(2)
	}

	opts := options{
		nmlPath:    *nmlPath,
		start:      *start,
		end:        *end,
		output:     *output,
		chunk:      *chunk,
		source:     *source,
		netcdfDir:  *netcdfDir,
		logLevel:   *logLevel,
		configPath: *configPath,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg, opts)
	log := logger.New(cfg.App.LogLevel, cfg.App.LogFormat)

	lake, err := nml.ReadFile(opts.nmlPath)
	if err != nil {
		return err
	}
	if !lake.HasTimezone {
		log.WithField("nml", opts.nmlPath).Warn("no timezone in nml, using UTC")
	}

	r, err := resolveRange(opts.start, opts.end, lake)
	if err != nil {
		return err
	}

	source, err := bootstrap.NewSource(cfg, log)
	if err != nil {
		return err
	}
	fetchOpts, err := bootstrap.FetchOptions(cfg, lake.Offset)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"lat":    lake.Location.Lat,
		"lon":    lake.Location.Lon,
		"offset": lake.Offset,
		"range":  r.String(),
		"source": source.Name(),
	}).Info("fetching met data")
	started := time.Now()

	rows, err := met.NewService(source, nil, log).FetchRange(ctx, lake.Location, r, fetchOpts)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		log.Warn("no samples returned, writing header only")
	}
	if err := metcsv.WriteFile(opts.output, rows); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"rows":     len(rows),
		"file":     opts.output,
		"duration": time.Since(started).Round(time.Second),
	}).Info("met file written")
	return nil
}

// applyFlags lets explicit command-line flags override the loaded config.
func applyFlags(cfg *config.Config, opts options) {
	if opts.chunk != "" {
		cfg.Fetch.Chunk = opts.chunk
	}
	if opts.source != "" {
		cfg.Fetch.Source = opts.source
	}
	if opts.netcdfDir != "" {
		cfg.Fetch.NetCDFDir = opts.netcdfDir
		if opts.source == "" {
			cfg.Fetch.Source = "netcdf"
		}
	}
	if opts.logLevel != "" {
		cfg.App.LogLevel = opts.logLevel
	}
}

// resolveRange takes the requested dates, falling back to the date part of
// the namelist start and stop.
func resolveRange(start, end string, lake *nml.Config) (met.DateRange, error) {
	if start == "" {
		start = lake.Start
	}
	if end == "" {
		end = lake.Stop
	}
	if start == "" {
		return met.DateRange{}, errors.New("no start date: pass --start or set start in the nml")
	}
	if end == "" {
		return met.DateRange{}, errors.New("no end date: pass --end or set stop in the nml")
	}

	from, err := nml.ParseDate(start)
	if err != nil {
		return met.DateRange{}, err
	}
	to, err := nml.ParseDate(end)
	if err != nil {
		return met.DateRange{}, err
	}
	return met.NewDateRange(from, to)
}
