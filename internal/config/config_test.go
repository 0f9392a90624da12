package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("BROKER_CONFIG_JSON", filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider != "ib" {
		t.Errorf("Provider = %q, want ib", cfg.Provider)
	}
	if cfg.Risk.MaxOpenOrders != 20 {
		t.Errorf("MaxOpenOrders = %d, want 20", cfg.Risk.MaxOpenOrders)
	}
	if cfg.Risk.DrawdownBasis != "total" {
		t.Errorf("DrawdownBasis = %q, want total", cfg.Risk.DrawdownBasis)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("BROKER_CONFIG_JSON", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("BROKER_RISK_MAX_OPEN_ORDERS", "5")
	t.Setenv("BROKER_RISK_SYMBOL_BLOCKLIST", "GME, AMC")
	t.Setenv("BROKER_GATEWAY_PORT", "4002")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Risk.MaxOpenOrders != 5 {
		t.Errorf("MaxOpenOrders = %d, want 5", cfg.Risk.MaxOpenOrders)
	}
	if len(cfg.Risk.SymbolBlocklist) != 2 || cfg.Risk.SymbolBlocklist[0] != "GME" {
		t.Errorf("SymbolBlocklist = %v, want [GME AMC]", cfg.Risk.SymbolBlocklist)
	}
	if cfg.Gateway.Port != 4002 {
		t.Errorf("Gateway.Port = %d, want 4002", cfg.Gateway.Port)
	}
}

func TestLoadRejectsUnsupportedProvider(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("BROKER_CONFIG_JSON", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("BROKER_PROVIDER", "schwab")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestLoadFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)
	jsonPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(jsonPath, []byte(`{
		"broker": {"risk": {"max_order_value": 1000}},
		"ibkrGatewayMode": "paper"
	}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BROKER_CONFIG_JSON", jsonPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Risk.MaxOrderValue != 1000 {
		t.Errorf("MaxOrderValue = %v, want 1000", cfg.Risk.MaxOrderValue)
	}
	if cfg.Gateway.Port != 4002 {
		t.Errorf("Gateway.Port = %d, want 4002 (paper)", cfg.Gateway.Port)
	}
}
