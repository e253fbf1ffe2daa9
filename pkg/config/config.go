package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// DefaultFilterFraction is the share of root runtime a node or edge needs to survive
const DefaultFilterFraction = 0.01

// Config holds all configuration for the application
type Config struct {
	Trace          string   `koanf:"trace"`
	SplitConfig    string   `koanf:"split_config"`
	FilterFraction float64  `koanf:"filter_fraction"`
	Procedures     []string `koanf:"procedures"`
	SplitByParent  []string `koanf:"split_by_parent"`
	Keep           []string `koanf:"keep"` // Raw node ids; empty descends into every node
	CacheSize      int      `koanf:"cache_size"`
	WebMode        bool     `koanf:"web"`
	Port           int      `koanf:"port"`
	Watch          bool     `koanf:"watch"`
	JSON           bool     `koanf:"json"`
	Verbosity      string   `koanf:"verbosity"`
	VerboseCnt     int      `koanf:"verbose"`
	JSONLogs       bool     `koanf:"json_logs"`
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	return load(f, "cctflow.toml")
}

func load(f *pflag.FlagSet, configFile string) (*Config, error) {
	// Keys contain underscores, so nesting uses "|" rather than "."
	k := koanf.New("|")

	// 1. Defaults
	defaults := map[string]interface{}{
		"trace":           "",
		"split_config":    "",
		"filter_fraction": DefaultFilterFraction,
		"procedures":      []string{},
		"split_by_parent": []string{},
		"keep":            []string{},
		"cache_size":      8,
		"web":             false,
		"port":            8080,
		"watch":           false,
		"json":            false,
		"verbosity":       "",
		"verbose":         0,
		"json_logs":       false,
	}
	if err := k.Load(makeMapProvider(defaults), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config File (optional) - cctflow.toml
	// We ignore errors here as the file might not exist
	if configFile != "" {
		_ = k.Load(file.Provider(configFile), toml.Parser())
	}

	// 3. Environment Variables
	// Prefix: CCTFLOW_ (e.g., CCTFLOW_FILTER_FRACTION=0.05)
	if err := k.Load(env.Provider("CCTFLOW_", "|", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "CCTFLOW_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags (names use dashes, keys use underscores)
	if f != nil {
		if err := k.Load(posflag.ProviderWithFlag(f, "|", k, func(fl *pflag.Flag) (string, interface{}) {
			return strings.ReplaceAll(fl.Name, "-", "_"), posflag.FlagVal(f, fl)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Env values arrive as a single comma separated string
	cfg.Procedures = splitList(cfg.Procedures)
	cfg.SplitByParent = splitList(cfg.SplitByParent)
	cfg.Keep = splitList(cfg.Keep)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.FilterFraction < 0 || c.FilterFraction > 1 {
		return fmt.Errorf("filter_fraction must be within [0, 1], got %v", c.FilterFraction)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative, got %d", c.CacheSize)
	}
	if _, err := c.KeepIDs(); err != nil {
		return err
	}
	return nil
}

// KeepIDs parses the keep set
func (c *Config) KeepIDs() ([]int64, error) {
	ids := make([]int64, 0, len(c.Keep))
	for _, v := range c.Keep {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("keep: invalid node id %q", v)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
