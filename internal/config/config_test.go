package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
app:
  environment: test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.App.Environment != "test" {
		t.Errorf("expected file value to win, got %s", cfg.App.Environment)
	}
	if cfg.Broker.Name != "binance" {
		t.Errorf("expected default broker name, got %s", cfg.Broker.Name)
	}
	if !cfg.Broker.UseSandbox {
		t.Errorf("expected sandbox enabled by default")
	}
	if cfg.Broker.Timeout != 5*time.Second {
		t.Errorf("expected duration decode, got %v", cfg.Broker.Timeout)
	}
	if cfg.Trading.Enabled {
		t.Errorf("demo order flow must be off by default")
	}
	if cfg.Scheduler.LoopInterval != time.Minute {
		t.Errorf("expected default loop interval, got %v", cfg.Scheduler.LoopInterval)
	}
	if len(cfg.Logging.OutputPaths) == 0 {
		t.Errorf("expected default logging output paths")
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfigFile(t, `
app:
  environment: production
broker:
  name: groww
  timeout: 3s
  margin_currency: INR
trading:
  symbol: RELIANCE
  quantity: 25
database:
  in_memory: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Broker.Name != "groww" || cfg.Broker.Timeout != 3*time.Second {
		t.Errorf("unexpected broker config: %+v", cfg.Broker)
	}
	if cfg.Broker.MarginCurrency != "INR" {
		t.Errorf("unexpected margin currency: %s", cfg.Broker.MarginCurrency)
	}
	if cfg.Trading.Symbol != "RELIANCE" || cfg.Trading.Quantity != 25 {
		t.Errorf("unexpected trading config: %+v", cfg.Trading)
	}
	if !cfg.Database.InMemory {
		t.Errorf("expected in-memory database")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfigFile(t, `
broker:
  timeout: -1s
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation failure for negative timeout")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidateTradingRequiresSandbox(t *testing.T) {
	path := writeConfigFile(t, `
trading:
  enabled: true
broker:
  use_sandbox: false
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation failure for live trading without sandbox")
	}
	if !strings.Contains(err.Error(), "use_sandbox") {
		t.Errorf("expected sandbox rule in error, got %v", err)
	}
}

func TestValidateCollectsViolations(t *testing.T) {
	cfg := &Config{}

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected zero config to fail validation")
	}
	for _, field := range []string{"broker.name", "feed.url", "logging.level"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("expected %s in validation error, got %v", field, err)
		}
	}
}
