package oracle

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Registry construction modes selectable from configuration.
const (
	RegistryModeStatic  = "static"
	RegistryModeDynamic = "dynamic"
)

// Canonical bounds applied when configuration leaves a knob unset.
const (
	DefaultMaxFeedAgeSeconds   = 300
	DefaultPriceConfidence     = 0.80
	DefaultAPYConfidence       = 0.001
	DefaultMaxPriceChangeRatio = 0.20
)

// Config captures operator-defined oracle guardrails parsed from
// configuration.
type Config struct {
	MaxFeedAgeSeconds    int64   `toml:"MaxFeedAgeSeconds"`
	PriceConfidenceBound float64 `toml:"PriceConfidenceBound"`
	APYConfidenceBound   float64 `toml:"APYConfidenceBound"`
	MaxPriceChangeRatio  float64 `toml:"MaxPriceChangeRatio"`
	RegistryMode         string  `toml:"RegistryMode"`
	MaxAssets            int     `toml:"MaxAssets"`
}

// Normalise trims the registry mode and clamps negative knobs on a defensive
// copy.
func (c Config) Normalise() Config {
	cfg := Config{
		MaxFeedAgeSeconds:    c.MaxFeedAgeSeconds,
		PriceConfidenceBound: c.PriceConfidenceBound,
		APYConfidenceBound:   c.APYConfidenceBound,
		MaxPriceChangeRatio:  c.MaxPriceChangeRatio,
		RegistryMode:         strings.ToLower(strings.TrimSpace(c.RegistryMode)),
		MaxAssets:            c.MaxAssets,
	}
	if cfg.MaxFeedAgeSeconds < 0 {
		cfg.MaxFeedAgeSeconds = 0
	}
	if cfg.MaxAssets < 0 {
		cfg.MaxAssets = 0
	}
	return cfg
}

// Params represents canonical, runtime-ready interpretations of the oracle
// settings.
type Params struct {
	MaxFeedAgeSeconds    int64
	PriceConfidenceBound float64
	APYConfidenceBound   float64
	MaxPriceChangeRatio  float64
	RegistryMode         string
	MaxAssets            int
}

// Parameters converts the textual configuration into runtime bounds,
// applying the canonical defaults for unset fields.
func (c Config) Parameters() (Params, error) {
	normalized := c.Normalise()
	params := Params{
		MaxFeedAgeSeconds:    normalized.MaxFeedAgeSeconds,
		PriceConfidenceBound: normalized.PriceConfidenceBound,
		APYConfidenceBound:   normalized.APYConfidenceBound,
		MaxPriceChangeRatio:  normalized.MaxPriceChangeRatio,
		RegistryMode:         normalized.RegistryMode,
		MaxAssets:            normalized.MaxAssets,
	}
	if params.MaxFeedAgeSeconds == 0 {
		params.MaxFeedAgeSeconds = DefaultMaxFeedAgeSeconds
	}
	if params.PriceConfidenceBound == 0 {
		params.PriceConfidenceBound = DefaultPriceConfidence
	}
	if params.APYConfidenceBound == 0 {
		params.APYConfidenceBound = DefaultAPYConfidence
	}
	if params.MaxPriceChangeRatio == 0 {
		params.MaxPriceChangeRatio = DefaultMaxPriceChangeRatio
	}
	if params.MaxPriceChangeRatio < 0 || params.MaxPriceChangeRatio >= 1 {
		return params, fmt.Errorf("oracle: MaxPriceChangeRatio %g outside (0, 1)", params.MaxPriceChangeRatio)
	}
	switch params.RegistryMode {
	case "":
		params.RegistryMode = RegistryModeStatic
	case RegistryModeStatic, RegistryModeDynamic:
	default:
		return params, fmt.Errorf("oracle: unknown RegistryMode %q", normalized.RegistryMode)
	}
	if params.MaxAssets == 0 {
		params.MaxAssets = MaxAssets
	}
	if params.MaxAssets > MaxAssets {
		return params, fmt.Errorf("oracle: MaxAssets %d exceeds bound %d", params.MaxAssets, MaxAssets)
	}
	return params, nil
}

// PriceBounds returns the validation thresholds for price feed snapshots.
// The confidence bound is an absolute amount in price units.
func (p Params) PriceBounds() FeedBounds {
	return FeedBounds{
		MaxAgeSeconds:   p.MaxFeedAgeSeconds,
		ConfidenceBound: p.PriceConfidenceBound,
	}
}

// APYBounds returns the validation thresholds for APY feed snapshots. APY is
// a fractional rate, so the confidence bound is relative to the reading.
func (p Params) APYBounds() FeedBounds {
	return FeedBounds{
		MaxAgeSeconds:      p.MaxFeedAgeSeconds,
		ConfidenceBound:    p.APYConfidenceBound,
		RelativeConfidence: true,
	}
}

// NewRegistry constructs the registry strategy the parameters select.
func (p Params) NewRegistry() Registry {
	if p.RegistryMode == RegistryModeDynamic {
		return NewDynamicRegistry(p.MaxAssets)
	}
	return NewStaticRegistry()
}

// LoadConfig reads oracle parameters from a TOML file. A missing file yields
// the canonical defaults.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("oracle: decode config %s: %w", path, err)
	}
	return cfg, nil
}
