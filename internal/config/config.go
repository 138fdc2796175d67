// Package config loads the synchronizer configuration from a YAML file, a
// .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rtm0/era5sync/internal/archive"
	"github.com/rtm0/era5sync/internal/era5"
	"github.com/rtm0/era5sync/internal/grid"
)

// DateLayout is the layout of start_date and end_date.
const DateLayout = time.DateOnly

var validate = validator.New()

// Config is the complete synchronizer configuration.
type Config struct {
	Archive  ArchiveConfig  `yaml:"archive"`
	Upstream UpstreamConfig `yaml:"upstream"`

	// Variables maps upstream long names to archive short codes.
	Variables map[string]string `yaml:"variables" validate:"required,min=1,dive,keys,required,endkeys,required,alphanum"`

	StartDate string `yaml:"start_date" validate:"required,datetime=2006-01-02"`
	// EndDate defaults to EndLag before today.
	EndDate string        `yaml:"end_date" validate:"omitempty,datetime=2006-01-02"`
	EndLag  time.Duration `yaml:"end_lag" validate:"gte=0"`

	Hours       []int         `yaml:"hours" validate:"required,min=1,max=24,unique,dive,gte=0,lte=23"`
	Retries     int           `yaml:"retries" validate:"gte=0"`
	RetryDelay  time.Duration `yaml:"retry_delay" validate:"gte=0"`
	Concurrency int           `yaml:"concurrency" validate:"gte=0"`
	ScratchDir  string        `yaml:"scratch_dir"`

	// Schedule is the cron expression used by the serve command.
	Schedule   string `yaml:"schedule" validate:"required"`
	StatusAddr string `yaml:"status_addr" validate:"required"`
	LogLevel   string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// ArchiveConfig locates the archive.
type ArchiveConfig struct {
	Location        string `yaml:"location" validate:"required"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Profile         string `yaml:"profile"`
	AccessKeyID     string `yaml:"access_key_id" validate:"required_with=SecretAccessKey"`
	SecretAccessKey string `yaml:"secret_access_key" validate:"required_with=AccessKeyID"`
	MaxConnections  int    `yaml:"max_connections" validate:"gte=0"`
	Insecure        bool   `yaml:"insecure"`
}

// UpstreamConfig configures the Climate Data Store client.
type UpstreamConfig struct {
	URL            string        `yaml:"url" validate:"required,url"`
	Key            string        `yaml:"key"`
	Dataset        string        `yaml:"dataset" validate:"required"`
	PollInterval   time.Duration `yaml:"poll_interval" validate:"gt=0"`
	MaxConnections int           `yaml:"max_connections" validate:"gt=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	hours := make([]int, grid.HoursPerDay)
	for i := range hours {
		hours[i] = i
	}
	return &Config{
		Archive: ArchiveConfig{
			MaxConnections: 16,
		},
		Upstream: UpstreamConfig{
			URL:            "https://cds.climate.copernicus.eu/api",
			Dataset:        "reanalysis-era5-single-levels",
			PollInterval:   10 * time.Second,
			MaxConnections: 4,
		},
		Variables: map[string]string{
			"2m_temperature":      "t2m",
			"total_precipitation": "tp",
		},
		StartDate:   "1979-01-01",
		EndLag:      5 * 24 * time.Hour,
		Hours:       hours,
		Retries:     5,
		RetryDelay:  5 * time.Minute,
		Concurrency: 4,
		Schedule:    "0 6 * * *",
		StatusAddr:  ":8080",
		LogLevel:    "info",
	}
}

// Load reads the YAML file at path over the defaults, then applies a .env
// file from the working directory and environment overrides. An empty path
// skips the YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// yaml merges into an existing map, so the default variables are
		// only kept when the file has none.
		defaults := cfg.Variables
		cfg.Variables = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if cfg.Variables == nil {
			cfg.Variables = defaults
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	c.Upstream.URL = getenvDefault("CDSAPI_URL", c.Upstream.URL)
	c.Upstream.Key = getenvDefault("CDSAPI_KEY", c.Upstream.Key)

	c.Archive.Location = getenvDefault("ARCHIVE_LOCATION", c.Archive.Location)
	c.Archive.Endpoint = getenvDefault("ARCHIVE_ENDPOINT", c.Archive.Endpoint)
	c.Archive.Region = getenvDefault("ARCHIVE_REGION", c.Archive.Region)
	c.Archive.AccessKeyID = getenvDefault("ARCHIVE_ACCESS_KEY_ID", c.Archive.AccessKeyID)
	c.Archive.SecretAccessKey = getenvDefault("ARCHIVE_SECRET_ACCESS_KEY", c.Archive.SecretAccessKey)

	var err error
	if c.Concurrency, err = getenvInt("ERA5SYNC_CONCURRENCY", c.Concurrency); err != nil {
		return err
	}
	if c.Retries, err = getenvInt("ERA5SYNC_RETRIES", c.Retries); err != nil {
		return err
	}
	if v := os.Getenv("ERA5SYNC_RETRY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ERA5SYNC_RETRY_DELAY: %w", err)
		}
		c.RetryDelay = d
	}
	return nil
}

// Validate checks field constraints and that the date range is not empty.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := map[string]string{}
	for _, v := range c.Vars() {
		if other, ok := seen[v.ShortName]; ok {
			return fmt.Errorf("invalid config: variables %q and %q share short code %q", other, v.LongName, v.ShortName)
		}
		seen[v.ShortName] = v.LongName
	}
	start, _ := c.Start()
	end, err := c.End(time.Now())
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if start.After(end) {
		return fmt.Errorf("invalid config: start date %s is after end date %s",
			start.Format(DateLayout), end.Format(DateLayout))
	}
	return nil
}

// RequireUpstream reports an error when the upstream credentials are missing.
// Only commands that retrieve data need them.
func (c *Config) RequireUpstream() error {
	if err := validate.Var(c.Upstream.Key, "required"); err != nil {
		return errors.New("invalid config: upstream key is not set (CDSAPI_KEY)")
	}
	return nil
}

// Vars returns the configured variable mapping.
func (c *Config) Vars() era5.Variables {
	return era5.NewVariables(c.Variables)
}

// Start returns the first date of the archive.
func (c *Config) Start() (time.Time, error) {
	return time.Parse(DateLayout, c.StartDate)
}

// End returns the last date of the archive relative to now.
func (c *Config) End(now time.Time) (time.Time, error) {
	if c.EndDate != "" {
		return time.Parse(DateLayout, c.EndDate)
	}
	return era5.Day(now.UTC().Add(-c.EndLag)), nil
}

// HourStrings returns the configured hours formatted as HH:00.
func (c *Config) HourStrings() []string {
	out := make([]string, len(c.Hours))
	for i, h := range c.Hours {
		out[i] = fmt.Sprintf("%02d:00", h)
	}
	return out
}

// ArchiveOptions returns the options for opening the archive.
func (c *Config) ArchiveOptions() archive.Options {
	return archive.Options{
		Endpoint:        c.Archive.Endpoint,
		Region:          c.Archive.Region,
		AccessKeyID:     c.Archive.AccessKeyID,
		SecretAccessKey: c.Archive.SecretAccessKey,
		Profile:         c.Archive.Profile,
		MaxConnections:  c.Archive.MaxConnections,
		Insecure:        c.Archive.Insecure,
	}
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
