package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/incident"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources []string `yaml:"sources"`
	Scrape  Scrape   `yaml:"scrape"`
	Geocode Geocode  `yaml:"geocode"`
	Archive Archive  `yaml:"archive"`
	Backup  Backup   `yaml:"backup"`
	Server  Server   `yaml:"server"`
	Logging Logging  `yaml:"logging"`
	Output  Output   `yaml:"output"`
}

type Scrape struct {
	Interval     Duration `yaml:"interval"`
	FetchTimeout Duration `yaml:"fetch_timeout"`
	UserAgent    string   `yaml:"user_agent"`
}

type Geocode struct {
	Providers     []string `yaml:"providers"`
	Timeout       Duration `yaml:"timeout"`
	RatePerSecond float64  `yaml:"rate_per_second"`
	CacheSize     int      `yaml:"cache_size"`
	Concurrency   int      `yaml:"concurrency"`
	// RequeryBelow is the lowest quality tier considered settled. Stored
	// geocodes ranked below it are retried on later cycles.
	RequeryBelow         string  `yaml:"requery_below"`
	MinImprovementMeters float64 `yaml:"min_improvement_meters"`
}

type Archive struct {
	Age      Duration `yaml:"age"`
	Interval Duration `yaml:"interval"`
}

type Backup struct {
	Interval        Duration `yaml:"interval"`
	Retention       int      `yaml:"retention"`
	IncludeArchives bool     `yaml:"include_archives"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "90s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ConfigDir returns the XDG config directory for caddo911.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "caddo911")
}

// DataDir returns the XDG data directory for caddo911.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "caddo911")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/caddo911/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'caddo911 init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Sources: []string{"caddo", "batonrouge", "lafayette"},
		Scrape: Scrape{
			Interval:     Duration(60 * time.Second),
			FetchTimeout: Duration(15 * time.Second),
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Geocode: Geocode{
			Providers:            []string{"arcgis", "nominatim"},
			Timeout:              Duration(5 * time.Second),
			RatePerSecond:        10,
			CacheSize:            1000,
			Concurrency:          4,
			RequeryBelow:         string(incident.QualityStreetCross),
			MinImprovementMeters: 250,
		},
		Archive: Archive{
			Age:      Duration(30 * 24 * time.Hour),
			Interval: Duration(24 * time.Hour),
		},
		Backup: Backup{
			Interval:  Duration(6 * time.Hour),
			Retention: 14,
		},
		Server:  Server{Port: 3911},
		Logging: Logging{Level: "info"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	for _, s := range c.Sources {
		if _, err := incident.ParseSource(s); err != nil {
			return err
		}
	}
	if c.Backup.Retention < 1 {
		return fmt.Errorf("backup retention must be at least 1, got %d", c.Backup.Retention)
	}
	if q := incident.Quality(c.Geocode.RequeryBelow); q.Rank() == 0 && q != incident.QualityFallback {
		return fmt.Errorf("unknown geocode quality %q", c.Geocode.RequeryBelow)
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
