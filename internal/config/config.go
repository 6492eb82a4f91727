// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/tradeplan/internal/retry"
	"github.com/jeranaias/tradeplan/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete tradeplan configuration.
type Config struct {
	Version string `toml:"version" json:"version" yaml:"version"`

	// Engine tunes plan execution
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// Chains lists per-chain block times used to size backoff delays
	Chains []ChainConfig `toml:"chains" json:"chains" yaml:"chains"`

	// Planning configures the planning service client
	Planning PlanningConfig `toml:"planning" json:"planning" yaml:"planning"`

	// Journal configures the execution journal
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal"`

	// Logging configures structured logging
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// EngineConfig contains plan execution parameters.
type EngineConfig struct {
	// PriceChangeThresholdBps is the output degradation, in basis points, that
	// requires the user to re-accept the trade. Exactly the threshold is allowed.
	PriceChangeThresholdBps int64 `toml:"price_change_threshold_bps" json:"price_change_threshold_bps" yaml:"price_change_threshold_bps"`
	// ProofMaxAttempts is the number of proof submission retries after the
	// first try (0 = submit once)
	ProofMaxAttempts int `toml:"proof_max_attempts" json:"proof_max_attempts" yaml:"proof_max_attempts"`
	// PollMaxAttempts is the number of step status poll retries after the
	// first poll (0 = poll once)
	PollMaxAttempts int `toml:"poll_max_attempts" json:"poll_max_attempts" yaml:"poll_max_attempts"`
	// ProofPreDelayMs is waited before the first proof submission to absorb
	// planning service read lag
	ProofPreDelayMs int `toml:"proof_pre_delay_ms" json:"proof_pre_delay_ms" yaml:"proof_pre_delay_ms"`
	// ChainSwitchDelayMs is waited after a successful chain switch
	ChainSwitchDelayMs int `toml:"chain_switch_delay_ms" json:"chain_switch_delay_ms" yaml:"chain_switch_delay_ms"`
	// DefaultBlockTimeMs is used for chains missing from Chains
	DefaultBlockTimeMs int `toml:"default_block_time_ms" json:"default_block_time_ms" yaml:"default_block_time_ms"`
	// JitterFraction adds up to this fraction of the base delay to each retry
	JitterFraction float64 `toml:"jitter_fraction" json:"jitter_fraction" yaml:"jitter_fraction"`
	// StallTimeoutSecs is how long a step may go without progress before the
	// watchdog warns
	StallTimeoutSecs int `toml:"stall_timeout_secs" json:"stall_timeout_secs" yaml:"stall_timeout_secs"`
	// WatchdogIntervalSecs is how often the watchdog checks for stalls
	WatchdogIntervalSecs int `toml:"watchdog_interval_secs" json:"watchdog_interval_secs" yaml:"watchdog_interval_secs"`
}

// ChainConfig describes one chain.
type ChainConfig struct {
	ChainID     uint64 `toml:"chain_id" json:"chain_id" yaml:"chain_id"`
	Name        string `toml:"name" json:"name" yaml:"name"`
	BlockTimeMs int    `toml:"block_time_ms" json:"block_time_ms" yaml:"block_time_ms"`
}

// PlanningConfig contains planning service client settings.
type PlanningConfig struct {
	// BaseURL is the planning service root URL
	BaseURL string `toml:"base_url" json:"base_url" yaml:"base_url"`
	// APIKey is sent as x-api-key when set
	APIKey string `toml:"api_key" json:"api_key" yaml:"api_key"`
	// TimeoutSecs bounds a single HTTP request
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs" yaml:"timeout_secs"`
	// RequestsPerSecond throttles outbound requests (0 = unlimited)
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second" yaml:"requests_per_second"`
	// Burst is the rate limiter burst size
	Burst int `toml:"burst" json:"burst" yaml:"burst"`
}

// JournalConfig contains execution journal settings.
type JournalConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
	// Path is the SQLite database path (empty = ~/.tradeplan/journal.db)
	Path string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error
	Level string `toml:"level" json:"level" yaml:"level"`
	// Format is one of: text, json
	Format string `toml:"format" json:"format" yaml:"format"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// DefaultChains are the built-in block times.
func DefaultChains() []ChainConfig {
	return []ChainConfig{
		{ChainID: 1, Name: "ethereum", BlockTimeMs: 12000},
		{ChainID: 10, Name: "optimism", BlockTimeMs: 2000},
		{ChainID: 56, Name: "bnb", BlockTimeMs: 3000},
		{ChainID: 130, Name: "unichain", BlockTimeMs: 1000},
		{ChainID: 137, Name: "polygon", BlockTimeMs: 2000},
		{ChainID: 324, Name: "zksync", BlockTimeMs: 1000},
		{ChainID: 8453, Name: "base", BlockTimeMs: 2000},
		{ChainID: 42161, Name: "arbitrum", BlockTimeMs: 250},
		{ChainID: 43114, Name: "avalanche", BlockTimeMs: 2000},
	}
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Engine: EngineConfig{
			PriceChangeThresholdBps: 100, // 1%
			ProofMaxAttempts:        9, // 10 submissions in total
			PollMaxAttempts:         9, // 10 polls in total
			ProofPreDelayMs:         250,
			ChainSwitchDelayMs:      500,
			DefaultBlockTimeMs:      2000, // half of this is the 1s fallback
			JitterFraction:          0,
			StallTimeoutSecs:        180,
			WatchdogIntervalSecs:    20,
		},

		Chains: DefaultChains(),

		Planning: PlanningConfig{
			BaseURL:           "http://127.0.0.1:8787",
			TimeoutSecs:       15,
			RequestsPerSecond: 10,
			Burst:             20,
		},

		Journal: JournalConfig{
			Enabled: true,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// BlockTime returns the average block time for chainID, falling back to the
// engine default for unknown chains.
func (c *Config) BlockTime(chainID uint64) time.Duration {
	for _, ch := range c.Chains {
		if ch.ChainID == chainID && ch.BlockTimeMs > 0 {
			return time.Duration(ch.BlockTimeMs) * time.Millisecond
		}
	}
	return time.Duration(c.Engine.DefaultBlockTimeMs) * time.Millisecond
}

// ChainName returns the configured name for chainID, or its decimal id.
func (c *Config) ChainName(chainID uint64) string {
	for _, ch := range c.Chains {
		if ch.ChainID == chainID && ch.Name != "" {
			return ch.Name
		}
	}
	return strconv.FormatUint(chainID, 10)
}

// BaseDelay is half the chain's block time.
func (c *Config) BaseDelay(chainID uint64) time.Duration {
	return c.BlockTime(chainID) / 2
}

// ProofPolicy is the retry policy for submitting a step proof on chainID.
func (c *Config) ProofPolicy(chainID uint64) retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Engine.ProofMaxAttempts,
		BaseDelay:   c.BaseDelay(chainID),
		PreDelay:    time.Duration(c.Engine.ProofPreDelayMs) * time.Millisecond,
		Jitter:      c.Engine.JitterFraction,
	}
}

// PollPolicy is the retry policy for polling a step's status on chainID.
func (c *Config) PollPolicy(chainID uint64) retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Engine.PollMaxAttempts,
		BaseDelay:   c.BaseDelay(chainID),
		Jitter:      c.Engine.JitterFraction,
	}
}

// ChainSwitchDelay is waited after switching chains.
func (c *Config) ChainSwitchDelay() time.Duration {
	return time.Duration(c.Engine.ChainSwitchDelayMs) * time.Millisecond
}

// StallTimeout is the watchdog's no-progress threshold.
func (c *Config) StallTimeout() time.Duration {
	return time.Duration(c.Engine.StallTimeoutSecs) * time.Second
}

// WatchdogInterval is the watchdog's check period.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.Engine.WatchdogIntervalSecs) * time.Second
}

// PlanningTimeout bounds one planning service request.
func (c *Config) PlanningTimeout() time.Duration {
	return time.Duration(c.Planning.TimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the tradeplan configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".tradeplan"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// JournalPath returns the configured journal path or the default location.
func (c *Config) JournalPath() (string, error) {
	if c.Journal.Path != "" {
		return c.Journal.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "journal.db"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	var loadErr error

	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err := LoadFromPath(path)
		if err != nil {
			loadErr = err
			continue
		}
		return cfg, nil
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Return defaults (with any load error for informational purposes)
	return cfg, loadErr
}

// LoadFromPath loads configuration from a specific file path with full
// validation. The format is chosen by extension; TOML is the default.
//
// Values are decoded over Default(), so a key missing from the file keeps
// its default and a key set to zero stays zero. Chains from the file extend
// the built-in table.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	cfg.Chains = nil

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode YAML config %s: %w", path, err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML config %s: %w", path, err)
		}
	}

	fillDefaults(cfg)
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults restores defaults for values that are required to be set. Zero
// is a valid setting for the retry counts, delays and watchdog timings and is
// kept as written.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	// Engine
	if cfg.Engine.DefaultBlockTimeMs == 0 {
		cfg.Engine.DefaultBlockTimeMs = defaults.Engine.DefaultBlockTimeMs
	}

	// Chains from the file extend the built-in table; file entries win.
	cfg.Chains = mergeChains(defaults.Chains, cfg.Chains)

	// Planning
	if cfg.Planning.BaseURL == "" {
		cfg.Planning.BaseURL = defaults.Planning.BaseURL
	}
	if cfg.Planning.TimeoutSecs == 0 {
		cfg.Planning.TimeoutSecs = defaults.Planning.TimeoutSecs
	}
	if cfg.Planning.Burst == 0 {
		cfg.Planning.Burst = defaults.Planning.Burst
	}

	// Logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

func mergeChains(base, overrides []ChainConfig) []ChainConfig {
	byID := make(map[uint64]ChainConfig, len(base)+len(overrides))
	for _, c := range base {
		byID[c.ChainID] = c
	}
	for _, c := range overrides {
		byID[c.ChainID] = c
	}
	out := make([]ChainConfig, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# tradeplan configuration file\n")
	b.WriteString("# Generated by tradeplan - edit with care\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Engine
	if c.Engine.PriceChangeThresholdBps < 0 || c.Engine.PriceChangeThresholdBps > 10000 {
		add("engine.price_change_threshold_bps", "must be between 0 and 10000, got %d", c.Engine.PriceChangeThresholdBps)
	}
	if c.Engine.ProofMaxAttempts < 0 {
		add("engine.proof_max_attempts", "must not be negative, got %d", c.Engine.ProofMaxAttempts)
	}
	if c.Engine.PollMaxAttempts < 0 {
		add("engine.poll_max_attempts", "must not be negative, got %d", c.Engine.PollMaxAttempts)
	}
	if c.Engine.ProofPreDelayMs < 0 {
		add("engine.proof_pre_delay_ms", "must not be negative, got %d", c.Engine.ProofPreDelayMs)
	}
	if c.Engine.ChainSwitchDelayMs < 0 {
		add("engine.chain_switch_delay_ms", "must not be negative, got %d", c.Engine.ChainSwitchDelayMs)
	}
	if c.Engine.DefaultBlockTimeMs <= 0 {
		add("engine.default_block_time_ms", "must be positive, got %d", c.Engine.DefaultBlockTimeMs)
	}
	if c.Engine.JitterFraction < 0 || c.Engine.JitterFraction > 1 {
		add("engine.jitter_fraction", "must be between 0 and 1, got %g", c.Engine.JitterFraction)
	}
	if c.Engine.StallTimeoutSecs < 0 {
		add("engine.stall_timeout_secs", "must not be negative, got %d", c.Engine.StallTimeoutSecs)
	}

	// Chains
	seen := make(map[uint64]bool)
	for i, ch := range c.Chains {
		field := fmt.Sprintf("chains[%d]", i)
		if ch.ChainID == 0 {
			add(field+".chain_id", "must be set")
		}
		if seen[ch.ChainID] {
			add(field+".chain_id", "duplicate chain id %d", ch.ChainID)
		}
		seen[ch.ChainID] = true
		if ch.BlockTimeMs <= 0 {
			add(field+".block_time_ms", "must be positive, got %d", ch.BlockTimeMs)
		}
	}

	// Planning
	if u, err := url.Parse(c.Planning.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("planning.base_url", "invalid URL %q", c.Planning.BaseURL)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("planning.base_url", "scheme must be http or https, got %q", u.Scheme)
	}
	if c.Planning.TimeoutSecs < 0 {
		add("planning.timeout_secs", "must not be negative, got %d", c.Planning.TimeoutSecs)
	}
	if c.Planning.RequestsPerSecond < 0 {
		add("planning.requests_per_second", "must not be negative, got %g", c.Planning.RequestsPerSecond)
	}
	if c.Planning.Burst < 0 {
		add("planning.burst", "must not be negative, got %d", c.Planning.Burst)
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		add("logging.format", "invalid format '%s', must be one of: text, json", c.Logging.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
//   - TRADEPLAN_PLANNING_URL: overrides planning.base_url
//   - TRADEPLAN_API_KEY: overrides planning.api_key
//   - TRADEPLAN_LOG_LEVEL: overrides logging.level
//   - TRADEPLAN_LOG_FORMAT: overrides logging.format
//   - TRADEPLAN_JOURNAL_PATH: overrides journal.path
//   - TRADEPLAN_PRICE_THRESHOLD_BPS: overrides engine.price_change_threshold_bps
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TRADEPLAN_PLANNING_URL"); v != "" {
		c.Planning.BaseURL = v
	}
	if v := os.Getenv("TRADEPLAN_API_KEY"); v != "" {
		c.Planning.APIKey = v
	}
	if v := os.Getenv("TRADEPLAN_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("TRADEPLAN_LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("TRADEPLAN_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("TRADEPLAN_PRICE_THRESHOLD_BPS"); v != "" {
		if bps, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Engine.PriceChangeThresholdBps = bps
		}
	}
}

// =============================================================================
// CLONE
// =============================================================================

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	out := *c
	out.Chains = append([]ChainConfig(nil), c.Chains...)
	return &out
}

// =============================================================================
// GLOBAL CONFIG
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		if cfg == nil {
			cfg = Default()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
