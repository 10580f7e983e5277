package cds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RC holds the credentials of a cdsapi configuration file.
type RC struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
}

// DefaultRCPath returns $CDSAPI_RC, or ~/.cdsapirc.
func DefaultRCPath() (string, error) {
	if p := os.Getenv("CDSAPI_RC"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cdsapirc"), nil
}

// LoadRC reads the "url: ..." and "key: ..." lines of a .cdsapirc file.
func LoadRC(path string) (RC, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RC{}, err
	}
	var rc RC
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return RC{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if rc.Key == "" {
		return RC{}, fmt.Errorf("%s: no key", path)
	}
	return rc, nil
}

// ResolveCredentials fills an empty URL or key in cfg from the cdsapi file.
// A missing file is not an error when cfg already has a key.
func ResolveCredentials(cfg *Config) error {
	if cfg.URL != "" && cfg.Key != "" {
		return nil
	}
	path, err := DefaultRCPath()
	if err != nil {
		return err
	}
	rc, err := LoadRC(path)
	if errors.Is(err, os.ErrNotExist) && cfg.Key != "" {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cds credentials: %w", err)
	}
	if cfg.URL == "" {
		cfg.URL = rc.URL
	}
	if cfg.Key == "" {
		cfg.Key = rc.Key
	}
	return nil
}
