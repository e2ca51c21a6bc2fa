package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
env: paper
symbol: ETHUSDT
dry_run: true
api:
  rest_base_url: https://testnet.example.com
  ws_base_url: wss://testnet.example.com/ws
advisor:
  base_url: http://localhost:9000/advise
loop:
  trigger: timer
  interval_sec: 30
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Symbol != "ETHUSDT" {
		t.Errorf("Symbol = %q, want ETHUSDT", cfg.Symbol)
	}
	if cfg.Loop.CooldownSec != 30 {
		t.Errorf("Loop.CooldownSec = %d, want default 30", cfg.Loop.CooldownSec)
	}
	if cfg.Advisor.ConfThreshold != 0.5 {
		t.Errorf("Advisor.ConfThreshold = %v, want default 0.5", cfg.Advisor.ConfThreshold)
	}
	if cfg.Detector.MPDeltaPct != 0.5 {
		t.Errorf("Detector.MPDeltaPct = %v, want default 0.5", cfg.Detector.MPDeltaPct)
	}
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	t.Setenv("TRADER_API_KEY", "env-key")
	t.Setenv("TRADER_API_SECRET", "env-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.ApiKey != "env-key" {
		t.Errorf("API.ApiKey = %q, want env-key", cfg.API.ApiKey)
	}
	if cfg.API.Secret != "env-secret" {
		t.Errorf("API.Secret = %q, want env-secret", cfg.API.Secret)
	}
}

func TestValidateRequiresCredentialsUnlessDryRun(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Env:    "paper",
		Symbol: "ETHUSDT",
		DryRun: false,
		API:    APIConfig{RESTBaseURL: "https://x"},
		Loop:   LoopConfig{Trigger: "timer", IntervalSec: 30},
		Advisor: AdvisorConfig{
			BaseURL:       "http://localhost/advise",
			ConfThreshold: 0.5,
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Errorf("Validate() expected error for missing credentials, got nil")
	}

	cfg.DryRun = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error with dry_run=true: %v", err)
	}
}

func TestValidateRejectsUnknownTrigger(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Env:     "paper",
		Symbol:  "ETHUSDT",
		DryRun:  true,
		API:     APIConfig{RESTBaseURL: "https://x"},
		Loop:    LoopConfig{Trigger: "bogus"},
		Advisor: AdvisorConfig{BaseURL: "http://localhost/advise", ConfThreshold: 0.5},
	}

	if err := cfg.Validate(); err == nil {
		t.Errorf("Validate() expected error for unknown trigger mode, got nil")
	}
}
