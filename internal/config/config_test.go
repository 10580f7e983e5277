package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "reanalysis-era5-land", cfg.CDS.Dataset)
	assert.Equal(t, 5*time.Second, cfg.CDS.PollInterval)
	assert.Equal(t, "cds", cfg.Fetch.Source)
	assert.Equal(t, "year", cfg.Fetch.Chunk)
	assert.Equal(t, 256, cfg.Store.MaxEntries)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 720*time.Hour, cfg.Server.RefreshWindow)
	assert.Equal(t, 30*time.Minute, cfg.Server.RequestTimeout)
	assert.Empty(t, cfg.Server.Lakes)
}

func TestLoad_FileAndEnv(t *testing.T) {
	content := `
app:
  log_level: debug
  log_format: json
cds:
  key: from-file
  poll_interval: 2s
fetch:
  source: netcdf
  netcdf_dir: /data/era5
  chunk: month
server:
  lakes:
    - lakes/mendota/glm3.nml
    - lakes/sparkling/glm3.nml
  refresh_interval: 6h
`
	dir := t.TempDir()
	path := filepath.Join(dir, "glm-met.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Chdir(dir)
	t.Setenv("GLM_MET_SERVER_PORT", "9090")
	t.Setenv("CDSAPI_KEY", "from-env")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "json", cfg.App.LogFormat)
	assert.Equal(t, "from-env", cfg.CDS.Key)
	assert.Equal(t, 2*time.Second, cfg.CDS.PollInterval)
	assert.Equal(t, "netcdf", cfg.Fetch.Source)
	assert.Equal(t, "/data/era5", cfg.Fetch.NetCDFDir)
	assert.Equal(t, "month", cfg.Fetch.Chunk)
	assert.Equal(t, []string{"lakes/mendota/glm3.nml", "lakes/sparkling/glm3.nml"}, cfg.Server.Lakes)
	assert.Equal(t, 6*time.Hour, cfg.Server.RefreshInterval)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestLoad_ExplicitPath(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fetch:\n  chunk: none\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Fetch.Chunk)
}

func TestLoad_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("unknown source", func(t *testing.T) {
		t.Setenv("GLM_MET_FETCH_SOURCE", "gee")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("netcdf without dir", func(t *testing.T) {
		t.Setenv("GLM_MET_FETCH_SOURCE", "netcdf")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("GLM_MET_CDS_POLL_INTERVAL", "soon")
		_, err := Load("")
		assert.Error(t, err)
	})
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GLM_MET_FETCH_CHUNK=month\n"), 0o644))
	t.Chdir(dir)
	t.Cleanup(func() { os.Unsetenv("GLM_MET_FETCH_CHUNK") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "month", cfg.Fetch.Chunk)
}
