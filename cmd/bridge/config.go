package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/loader"
)

// DefaultConfigFile is read from the working directory when -config is not given.
const DefaultConfigFile = "bridge.toml"

// Config represents a bridge.toml file.
type Config struct {
	Engine   EngineConfig  `toml:"engine"`
	Modules  ModulesConfig `toml:"modules"`
	Log      LogConfig     `toml:"log"`
	Features []string      `toml:"features"`
	// Timeout bounds InvokeMain including the event loop, e.g. "30s".
	Timeout string `toml:"timeout"`

	// Dir is the directory containing the config file (set at load time).
	Dir string `toml:"-"`
}

// EngineConfig maps onto engine.Config.
type EngineConfig struct {
	CacheDir         string `toml:"cache-dir"`
	MemoryLimitPages uint32 `toml:"memory-limit-pages"`
	Threads          bool   `toml:"threads"`
}

// ModulesConfig locates deferred and dynamic modules.
type ModulesConfig struct {
	// Dir holds <name>.wasm files served to the guest by name.
	Dir string `toml:"dir"`
	// Store persists modules in a goleveldb database under this path.
	// Empty keeps them in memory.
	Store string `toml:"store"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string `toml:"level"`
	// Format is "console" or "json". Empty picks console on a terminal.
	Format string `toml:"format"`
}

// LoadConfig parses path. A missing default file yields the zero config.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			cfg.Dir = "."
			return cfg, nil
		}
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	cfg.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return cfg, nil
}

// EngineConfig converts the engine section.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		CacheDir:         c.path(c.Engine.CacheDir),
		MemoryLimitPages: c.Engine.MemoryLimitPages,
		EnableThreads:    c.Engine.Threads,
	}
}

// FeatureSet returns the enabled features; none listed means all.
func (c *Config) FeatureSet() (loader.Feature, error) {
	var f loader.Feature
	for _, name := range c.Features {
		x, ok := loader.ParseFeature(name)
		if !ok {
			return 0, fmt.Errorf("unknown feature %q", name)
		}
		f |= x
	}
	return f, nil
}

// TimeoutDuration parses Timeout; empty means no timeout.
func (c *Config) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("timeout: %w", err)
	}
	return d, nil
}

// path resolves p relative to the config directory.
func (c *Config) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}
