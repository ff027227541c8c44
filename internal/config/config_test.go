package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
exchange:
  name: binanceusdm
  api_key: key
  api_secret: secret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Maker.OrderTimeout != 5*time.Second {
		t.Errorf("expected default order_timeout 5s, got %v", cfg.Maker.OrderTimeout)
	}
	if cfg.Maker.TotalTimeout != 10*time.Minute {
		t.Errorf("expected default total_timeout 10m, got %v", cfg.Maker.TotalTimeout)
	}
	if cfg.Maker.PartialFillThreshold != 0.95 {
		t.Errorf("expected default partial_fill_threshold 0.95, got %v", cfg.Maker.PartialFillThreshold)
	}
	if cfg.Maker.MinRemainingRatio != 0.05 {
		t.Errorf("expected default min_remaining_ratio 0.05, got %v", cfg.Maker.MinRemainingRatio)
	}
	if !cfg.Maker.Split.Enabled {
		t.Errorf("expected split enabled by default")
	}
	if cfg.Exchange.Retry.MaxAttempts != 3 {
		t.Errorf("expected default retry attempts 3, got %d", cfg.Exchange.Retry.MaxAttempts)
	}
	if cfg.Exchange.PositionSide != "SHORT" {
		t.Errorf("expected default position_side SHORT, got %s", cfg.Exchange.PositionSide)
	}
}

func TestLoad_OverridesAndDurations(t *testing.T) {
	path := writeConfig(t, `
exchange:
  name: binanceusdm
maker:
  order_timeout: 3s
  check_interval: 100ms
  total_timeout: 2m
  aggressive_cross: true
  split:
    enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Maker.OrderTimeout != 3*time.Second {
		t.Errorf("expected order_timeout 3s, got %v", cfg.Maker.OrderTimeout)
	}
	if cfg.Maker.CheckInterval != 100*time.Millisecond {
		t.Errorf("expected check_interval 100ms, got %v", cfg.Maker.CheckInterval)
	}
	if cfg.Maker.TotalTimeout != 2*time.Minute {
		t.Errorf("expected total_timeout 2m, got %v", cfg.Maker.TotalTimeout)
	}
	if !cfg.Maker.AggressiveCross {
		t.Errorf("expected aggressive_cross true")
	}
	if cfg.Maker.Split.Enabled {
		t.Errorf("expected split disabled")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
exchange:
  name: binanceusdm
maker:
  price_tolerance: 2
  split:
    min_value: 300
    max_value: 100
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "price_tolerance") {
		t.Errorf("expected price_tolerance in error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "min_value") {
		t.Errorf("expected split bounds in error, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
