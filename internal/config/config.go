package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GLM_MET"

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	CDS    CDSConfig    `mapstructure:"cds"`
	Fetch  FetchConfig  `mapstructure:"fetch"`
	Store  StoreConfig  `mapstructure:"store"`
	Server ServerConfig `mapstructure:"server"`
}

type AppConfig struct {
	LogLevel  string `mapstructure:"log_level" validate:"oneof=trace debug info warn warning error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=text json"`
}

// CDSConfig holds the Copernicus Climate Data Store settings. An empty URL or
// key is taken from ~/.cdsapirc.
type CDSConfig struct {
	URL            string        `mapstructure:"url" validate:"omitempty,url"`
	Key            string        `mapstructure:"key"`
	Dataset        string        `mapstructure:"dataset" validate:"required"`
	CacheDir       string        `mapstructure:"cache_dir" validate:"required"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	AreaMargin     float64       `mapstructure:"area_margin" validate:"gt=0,lte=1"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" validate:"gte=0"`
}

type FetchConfig struct {
	Source    string `mapstructure:"source" validate:"oneof=cds netcdf"`
	NetCDFDir string `mapstructure:"netcdf_dir" validate:"required_if=Source netcdf"`
	Chunk     string `mapstructure:"chunk" validate:"oneof=year month none"`
}

// StoreConfig bounds the in-memory sample cache (0 = unlimited).
type StoreConfig struct {
	MaxEntries int           `mapstructure:"max_entries" validate:"gte=0"`
	MaxAge     time.Duration `mapstructure:"max_age" validate:"gte=0"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" validate:"required"`
	// MaxRangeDays caps the span of a single API request.
	MaxRangeDays   int           `mapstructure:"max_range_days" validate:"gt=0"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	// Lakes are the namelists refreshed by the scheduler.
	Lakes           []string      `mapstructure:"lakes"`
	OutputDir       string        `mapstructure:"output_dir" validate:"required"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" validate:"gte=1m"`
	RefreshWindow   time.Duration `mapstructure:"refresh_window" validate:"gte=24h"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "text")

	v.SetDefault("cds.url", "")
	v.SetDefault("cds.key", "")
	v.SetDefault("cds.dataset", "reanalysis-era5-land")
	v.SetDefault("cds.cache_dir", ".cds_cache")
	v.SetDefault("cds.poll_interval", "5s")
	v.SetDefault("cds.area_margin", 0.1)
	v.SetDefault("cds.http_timeout", "5m")
	v.SetDefault("cds.max_retries", 3)
	v.SetDefault("cds.initial_backoff", "500ms")
	v.SetDefault("cds.max_backoff", "10s")

	v.SetDefault("fetch.source", "cds")
	v.SetDefault("fetch.netcdf_dir", "")
	v.SetDefault("fetch.chunk", "year")

	v.SetDefault("store.max_entries", 256)
	v.SetDefault("store.max_age", "24h")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.max_range_days", 366)
	v.SetDefault("server.request_timeout", "30m")
	v.SetDefault("server.lakes", []string{})
	v.SetDefault("server.output_dir", "met")
	v.SetDefault("server.refresh_interval", "24h")
	v.SetDefault("server.refresh_window", "720h")
}

// Load reads configuration with, from lowest to highest precedence: defaults,
// the YAML file (path, or glm-met.yaml in the working directory or
// ~/.config/glm-met), a .env file and the environment. Environment keys are
// GLM_MET_<SECTION>_<KEY>; the cdsapi variables CDSAPI_URL and CDSAPI_KEY
// are honoured too.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("glm-met")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/glm-met")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("cds.url", EnvPrefix+"_CDS_URL", "CDSAPI_URL"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("cds.key", EnvPrefix+"_CDS_KEY", "CDSAPI_KEY"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
