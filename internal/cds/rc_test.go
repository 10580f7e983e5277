package cds

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRC(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), ".cdsapirc")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRC(t *testing.T) {
	path := writeRC(t, "url: https://cds.climate.copernicus.eu/api\nkey: abc-123\n")

	rc, err := LoadRC(path)
	require.NoError(t, err)
	assert.Equal(t, "https://cds.climate.copernicus.eu/api", rc.URL)
	assert.Equal(t, "abc-123", rc.Key)

	_, err = LoadRC(writeRC(t, "url: https://example.org\n"))
	assert.Error(t, err)
}

func TestResolveCredentials(t *testing.T) {
	t.Setenv("CDSAPI_RC", writeRC(t, "url: https://example.org/api\nkey: from-file\n"))

	cfg := Config{}
	require.NoError(t, ResolveCredentials(&cfg))
	assert.Equal(t, "https://example.org/api", cfg.URL)
	assert.Equal(t, "from-file", cfg.Key)

	cfg = Config{Key: "explicit"}
	require.NoError(t, ResolveCredentials(&cfg))
	assert.Equal(t, "explicit", cfg.Key)
	assert.Equal(t, "https://example.org/api", cfg.URL)
}

func TestResolveCredentials_MissingFile(t *testing.T) {
	t.Setenv("CDSAPI_RC", filepath.Join(t.TempDir(), "absent"))

	cfg := Config{Key: "explicit"}
	assert.NoError(t, ResolveCredentials(&cfg))

	cfg = Config{}
	assert.Error(t, ResolveCredentials(&cfg))
}
