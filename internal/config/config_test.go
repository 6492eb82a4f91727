// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/tradeplan/internal/retry"
)

// isolateHome points the config directory at a temp dir and clears overrides.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"TRADEPLAN_PLANNING_URL", "TRADEPLAN_API_KEY", "TRADEPLAN_LOG_LEVEL",
		"TRADEPLAN_LOG_FORMAT", "TRADEPLAN_JOURNAL_PATH", "TRADEPLAN_PRICE_THRESHOLD_BPS",
	} {
		t.Setenv(k, "")
	}
	return home
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(100), cfg.Engine.PriceChangeThresholdBps)
	assert.Equal(t, 9, cfg.Engine.ProofMaxAttempts)
	assert.Equal(t, 9, cfg.Engine.PollMaxAttempts)
	assert.Equal(t, 250, cfg.Engine.ProofPreDelayMs)
}

func TestBaseDelay(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 6*time.Second, cfg.BaseDelay(1), "ethereum: half of 12s")
	assert.Equal(t, 125*time.Millisecond, cfg.BaseDelay(42161), "arbitrum: half of 250ms")
	assert.Equal(t, time.Second, cfg.BaseDelay(999999), "unknown chain falls back to 1s")
}

func TestChainName(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "arbitrum", cfg.ChainName(42161))
	assert.Equal(t, "999", cfg.ChainName(999))
}

func TestProofPolicy(t *testing.T) {
	cfg := Default()
	p := cfg.ProofPolicy(1)

	assert.Equal(t, 9, p.MaxAttempts)
	assert.Equal(t, 6*time.Second, p.BaseDelay)
	assert.Equal(t, 250*time.Millisecond, p.PreDelay)

	poll := cfg.PollPolicy(1)
	assert.Equal(t, 9, poll.MaxAttempts)
	assert.Zero(t, poll.PreDelay)
	assert.Equal(t, p.BaseDelay, poll.BaseDelay)
}

func TestDefaultPolicies_TenTotalAttempts(t *testing.T) {
	cfg := Default()
	fail := errors.New("not yet")

	for name, policy := range map[string]retry.Policy{
		"proof": cfg.ProofPolicy(1),
		"poll":  cfg.PollPolicy(1),
	} {
		t.Run(name, func(t *testing.T) {
			policy.BaseDelay = time.Microsecond
			policy.PreDelay = 0

			calls := 0
			err := retry.Do(context.Background(), policy, func(context.Context, int) error {
				calls++
				return fail
			})

			var exhausted *retry.ExhaustedError
			require.ErrorAs(t, err, &exhausted)
			assert.Equal(t, 10, calls)
			assert.Equal(t, 10, exhausted.Attempts)
		})
	}
}

func TestLoadFromPath_TOML(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[engine]
price_change_threshold_bps = 50
proof_max_attempts = 3

[[chains]]
chain_id = 1
name = "ethereum"
block_time_ms = 4000

[[chains]]
chain_id = 7777
name = "devnet"
block_time_ms = 100

[planning]
base_url = "https://plans.example.com"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, int64(50), cfg.Engine.PriceChangeThresholdBps)
	assert.Equal(t, 3, cfg.Engine.ProofMaxAttempts)
	assert.Equal(t, 9, cfg.Engine.PollMaxAttempts, "missing fields take defaults")
	assert.Equal(t, 2*time.Second, cfg.BaseDelay(1), "file overrides built-in chain")
	assert.Equal(t, 50*time.Millisecond, cfg.BaseDelay(7777))
	assert.Equal(t, 125*time.Millisecond, cfg.BaseDelay(42161), "built-in chains are kept")
	assert.Equal(t, "https://plans.example.com", cfg.Planning.BaseURL)
}

func TestLoadFromPath_ZeroIsKept(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[engine]
proof_max_attempts = 0
poll_max_attempts = 0
proof_pre_delay_ms = 0
stall_timeout_secs = 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Zero(t, cfg.Engine.ProofMaxAttempts, "zero means submit once")
	assert.Zero(t, cfg.Engine.PollMaxAttempts)
	assert.Zero(t, cfg.ProofPolicy(1).MaxAttempts)
	assert.Zero(t, cfg.PollPolicy(1).MaxAttempts)
	assert.Zero(t, cfg.Engine.ProofPreDelayMs)
	assert.Zero(t, cfg.Engine.StallTimeoutSecs)
	assert.Equal(t, 500, cfg.Engine.ChainSwitchDelayMs, "omitted keys keep defaults")
	assert.Equal(t, int64(100), cfg.Engine.PriceChangeThresholdBps)
	assert.True(t, cfg.Journal.Enabled)
}

func TestLoadFromPath_YAML(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
engine:
  poll_max_attempts: 4
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.PollMaxAttempts)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromPath_Invalid(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[engine]
price_change_threshold_bps = 20000

[logging]
level = "loud"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	_, err := LoadFromPath(path)
	require.Error(t, err)

	var verrs ValidateErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)
	assert.Contains(t, err.Error(), "engine.price_change_threshold_bps")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Engine.PriceChangeThresholdBps = 75
	cfg.Planning.BaseURL = "https://plans.example.com"
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, int64(75), loaded.Engine.PriceChangeThresholdBps)
	assert.Equal(t, cfg.Chains, loaded.Chains)
}

func TestSaveJSON_Load(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Journal.Path = "/var/lib/tradeplan/journal.db"
	require.NoError(t, SaveJSON(cfg, path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Journal.Path, loaded.Journal.Path)
}

func TestLoad_PrefersTOMLInConfigDir(t *testing.T) {
	home := isolateHome(t)
	dir := filepath.Join(home, ".tradeplan")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[engine]\nproof_max_attempts = 2\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"engine":{"proof_max_attempts":7}}`), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Engine.ProofMaxAttempts)
}

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	isolateHome(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Engine, cfg.Engine)
}

func TestApplyEnvOverrides(t *testing.T) {
	isolateHome(t)
	t.Setenv("TRADEPLAN_PLANNING_URL", "https://override.example.com")
	t.Setenv("TRADEPLAN_LOG_LEVEL", "WARN")
	t.Setenv("TRADEPLAN_PRICE_THRESHOLD_BPS", "250")
	t.Setenv("TRADEPLAN_JOURNAL_PATH", "/tmp/j.db")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "https://override.example.com", cfg.Planning.BaseURL)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, int64(250), cfg.Engine.PriceChangeThresholdBps)

	p, err := cfg.JournalPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/j.db", p)
}

func TestValidate_DuplicateChain(t *testing.T) {
	cfg := Default()
	cfg.Chains = append(cfg.Chains, ChainConfig{ChainID: 1, Name: "dup", BlockTimeMs: 1})
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate chain id 1")
}

func TestClone_Independent(t *testing.T) {
	cfg := Default()
	c := cfg.Clone()
	c.Chains[0].BlockTimeMs = 1
	c.Engine.ProofMaxAttempts = 1

	assert.Equal(t, 12000, cfg.Chains[0].BlockTimeMs)
	assert.Equal(t, 9, cfg.Engine.ProofMaxAttempts)
}

// TestConfig_ConcurrentAccess tests that Global() and SetGlobal() can be
// safely called concurrently.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolateHome(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetGlobal(Default())
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestWatch_Reloads(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine]\nproof_max_attempts = 2\n"), 0600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, func(cfg *Config, err error) {
			if err == nil {
				changes <- cfg
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("[engine]\nproof_max_attempts = 5\n"), 0600))

	select {
	case cfg := <-changes:
		assert.Equal(t, 5, cfg.Engine.ProofMaxAttempts)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
