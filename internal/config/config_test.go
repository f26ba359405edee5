package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.TickInterval != 30*time.Second {
		t.Errorf("TickInterval = %v, want 30s", cfg.TickInterval)
	}
	if cfg.ICODuration != 24*time.Hour {
		t.Errorf("ICODuration = %v, want 24h", cfg.ICODuration)
	}
	if cfg.ClaimPeriod != 168*time.Hour {
		t.Errorf("ClaimPeriod = %v, want 168h", cfg.ClaimPeriod)
	}
	if cfg.ICOThresholdUSD != 10000 {
		t.Errorf("ICOThresholdUSD = %v, want 10000", cfg.ICOThresholdUSD)
	}
	if cfg.MinPurchaseAmount != 1 {
		t.Errorf("MinPurchaseAmount = %v, want 1", cfg.MinPurchaseAmount)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENGINE_TICK_SECONDS", "5")
	t.Setenv("ICO_THRESHOLD_USD", "2500.5")
	t.Setenv("API_PORT", "8080")
	t.Setenv("ENGINE_TICK_SECONDS_BAD", "nope")

	cfg := Load()

	if cfg.TickInterval != 5*time.Second {
		t.Errorf("TickInterval = %v, want 5s", cfg.TickInterval)
	}
	if cfg.ICOThresholdUSD != 2500.5 {
		t.Errorf("ICOThresholdUSD = %v, want 2500.5", cfg.ICOThresholdUSD)
	}
	if cfg.APIPort != "8080" {
		t.Errorf("APIPort = %q, want 8080", cfg.APIPort)
	}
}

func TestGetEnvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("ENGINE_TICK_SECONDS", "not-a-number")
	cfg := Load()
	if cfg.TickInterval != 30*time.Second {
		t.Errorf("TickInterval = %v, want fallback 30s", cfg.TickInterval)
	}
}
