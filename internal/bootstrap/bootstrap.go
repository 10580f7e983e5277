// Package bootstrap turns loaded settings into the sample source and fetch
// options shared by the CLI and the server.
package bootstrap

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i474232898/glm-met/internal/cds"
	"github.com/i474232898/glm-met/internal/config"
	"github.com/i474232898/glm-met/internal/era5"
	"github.com/i474232898/glm-met/internal/met"
)

// NewSource creates the met.Source selected by cfg.Fetch.Source.
func NewSource(cfg *config.Config, log logrus.FieldLogger) (met.Source, error) {
	switch cfg.Fetch.Source {
	case "cds":
		ccfg := cds.Config{
			URL:          cfg.CDS.URL,
			Key:          cfg.CDS.Key,
			Dataset:      cfg.CDS.Dataset,
			CacheDir:     cfg.CDS.CacheDir,
			PollInterval: cfg.CDS.PollInterval,
			AreaMargin:   cfg.CDS.AreaMargin,
			Backoff: cds.BackoffConfig{
				MaxRetries:      cfg.CDS.MaxRetries,
				InitialInterval: cfg.CDS.InitialBackoff,
				MaxInterval:     cfg.CDS.MaxBackoff,
			},
		}
		if err := cds.ResolveCredentials(&ccfg); err != nil {
			return nil, err
		}
		client, err := cds.NewClient(ccfg, &http.Client{Timeout: cfg.CDS.HTTPTimeout}, log)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "netcdf":
		info, err := os.Stat(cfg.Fetch.NetCDFDir)
		if err != nil {
			return nil, fmt.Errorf("netcdf dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("netcdf dir: %s is not a directory", cfg.Fetch.NetCDFDir)
		}
		return era5.NewDirSource(cfg.Fetch.NetCDFDir, log), nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Fetch.Source)
	}
}

// BuildOptions returns the series options for a source. ERA5-Land delivers
// radiation, precipitation and snowfall accumulated since 00 UTC, so both
// built-in sources de-accumulate all four and restart at the daily reset.
func BuildOptions(source string, offset time.Duration) met.Options {
	opts := met.Options{Offset: offset}
	switch source {
	case "cds", "netcdf":
		opts.DeaccumulatePrecip = true
		opts.Reset = met.ResetRestart
	}
	return opts
}

// FetchOptions combines the configured chunking with the series options.
func FetchOptions(cfg *config.Config, offset time.Duration) (met.FetchOptions, error) {
	chunk, err := met.ParseGranularity(cfg.Fetch.Chunk)
	if err != nil {
		return met.FetchOptions{}, err
	}
	return met.FetchOptions{
		Chunk: chunk,
		Build: BuildOptions(cfg.Fetch.Source, offset),
	}, nil
}
