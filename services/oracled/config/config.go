package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stakeoracle/native/oracle"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for oracled.
type Config struct {
	ListenAddress string        `yaml:"listen"`
	DatabasePath  string        `yaml:"database"`
	ParamsPath    string        `yaml:"oracle_params"`
	Authority     string        `yaml:"authority"`
	FeedAuthority string        `yaml:"feed_authority"`
	AdminToken    string        `yaml:"admin_token"`
	Updater       UpdaterConfig `yaml:"updater"`
	Feeds         []FeedConfig  `yaml:"feeds"`
}

// UpdaterConfig tunes the polling loop.
type UpdaterConfig struct {
	Interval Duration `yaml:"interval"`
}

// FeedConfig describes one upstream feed endpoint. Kind is either "packed"
// for the multi-asset payload or a canonical asset symbol for a scalar
// price feed. Format selects the wire shape a scalar feed publishes.
type FeedConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Format   string `yaml:"format"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// KindPacked marks a feed carrying the packed multi-asset payload.
const KindPacked = "packed"

// Scalar feed wire formats: the full snapshot shape with metadata, or the
// bare {"result": "..."} envelope.
const (
	FormatSnapshot = "snapshot"
	FormatResult   = "result"
)

// IsResult reports whether the feed publishes the bare result envelope.
func (f FeedConfig) IsResult() bool {
	return strings.EqualFold(strings.TrimSpace(f.Format), FormatResult)
}

// IsPacked reports whether the feed carries the packed payload.
func (f FeedConfig) IsPacked() bool {
	return strings.EqualFold(strings.TrimSpace(f.Kind), KindPacked)
}

// Asset resolves the asset a scalar feed serves.
func (f FeedConfig) Asset() (oracle.AssetKind, error) {
	return oracle.ParseAssetKind(f.Kind)
}

// Load reads configuration from the supplied path and validates it.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg.normalised()
}

func (c Config) normalised() (Config, error) {
	cfg := c
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8695"
	}
	cfg.DatabasePath = strings.TrimSpace(cfg.DatabasePath)
	if cfg.DatabasePath == "" {
		return cfg, fmt.Errorf("database path required")
	}
	cfg.Authority = strings.TrimSpace(cfg.Authority)
	if cfg.Authority == "" {
		return cfg, fmt.Errorf("authority identity required")
	}
	cfg.FeedAuthority = strings.TrimSpace(cfg.FeedAuthority)
	if cfg.FeedAuthority == "" {
		return cfg, fmt.Errorf("feed authority identity required")
	}
	if cfg.Updater.Interval.Duration <= 0 {
		cfg.Updater.Interval = Duration{Duration: time.Minute}
	}
	if len(cfg.Feeds) == 0 {
		return cfg, fmt.Errorf("at least one feed required")
	}
	seen := make(map[string]struct{}, len(cfg.Feeds))
	for i, feed := range cfg.Feeds {
		name := strings.ToLower(strings.TrimSpace(feed.Name))
		if name == "" {
			return cfg, fmt.Errorf("feed %d: name required", i)
		}
		if _, dup := seen[name]; dup {
			return cfg, fmt.Errorf("feed %q: duplicate name", name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(feed.Endpoint) == "" {
			return cfg, fmt.Errorf("feed %q: endpoint required", name)
		}
		if !feed.IsPacked() {
			if _, err := feed.Asset(); err != nil {
				return cfg, fmt.Errorf("feed %q: %w", name, err)
			}
		}
		switch strings.ToLower(strings.TrimSpace(feed.Format)) {
		case "", FormatSnapshot:
		case FormatResult:
			if feed.IsPacked() {
				return cfg, fmt.Errorf("feed %q: packed feeds use the snapshot format", name)
			}
		default:
			return cfg, fmt.Errorf("feed %q: unknown format %q", name, feed.Format)
		}
		cfg.Feeds[i].Name = name
	}
	return cfg, nil
}
