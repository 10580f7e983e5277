package bootstrap

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/glm-met/internal/config"
	"github.com/i474232898/glm-met/internal/met"
)

func TestNewSource_NetCDF(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := &config.Config{Fetch: config.FetchConfig{Source: "netcdf", NetCDFDir: t.TempDir()}}

	src, err := NewSource(cfg, log)
	require.NoError(t, err)
	assert.Equal(t, "netcdf", src.Name())

	cfg.Fetch.NetCDFDir = filepath.Join(t.TempDir(), "missing")
	_, err = NewSource(cfg, log)
	assert.Error(t, err)
}

func TestNewSource_CDS(t *testing.T) {
	log, _ := test.NewNullLogger()
	t.Setenv("CDSAPI_RC", filepath.Join(t.TempDir(), "absent"))

	cfg := &config.Config{
		Fetch: config.FetchConfig{Source: "cds"},
		CDS: config.CDSConfig{
			Key:            "secret",
			Dataset:        "reanalysis-era5-land",
			CacheDir:       t.TempDir(),
			PollInterval:   time.Second,
			AreaMargin:     0.1,
			HTTPTimeout:    time.Minute,
			MaxRetries:     1,
			InitialBackoff: time.Millisecond,
		},
	}
	src, err := NewSource(cfg, log)
	require.NoError(t, err)
	assert.Equal(t, "cds", src.Name())

	cfg.CDS.Key = ""
	_, err = NewSource(cfg, log)
	assert.Error(t, err)
}

func TestNewSource_Unknown(t *testing.T) {
	log, _ := test.NewNullLogger()
	_, err := NewSource(&config.Config{Fetch: config.FetchConfig{Source: "gee"}}, log)
	assert.Error(t, err)
}

func TestFetchOptions(t *testing.T) {
	cfg := &config.Config{Fetch: config.FetchConfig{Source: "cds", Chunk: "month"}}

	opts, err := FetchOptions(cfg, -6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, met.ChunkMonth, opts.Chunk)
	assert.Equal(t, -6*time.Hour, opts.Build.Offset)
	assert.True(t, opts.Build.DeaccumulatePrecip)
	assert.Equal(t, met.ResetRestart, opts.Build.Reset)

	cfg.Fetch.Chunk = "decade"
	_, err = FetchOptions(cfg, 0)
	assert.Error(t, err)
}
