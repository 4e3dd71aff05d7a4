package config

import (
	"os"
	"path/filepath"
	"testing"

	"termlend/native/fixedlending"
)

func marketConfig(asset string) fixedlending.Config {
	return fixedlending.Config{Asset: asset}
}

func marketConfigWithPenalty(asset, rate string) fixedlending.Config {
	return fixedlending.Config{Asset: asset, PenaltyRatePerDay: rate}
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "termlend.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress == "" || cfg.DataDir == "" || cfg.NetworkName == "" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if len(cfg.Markets) != 1 || cfg.Markets[0].Asset != "TUSD" {
		t.Fatalf("default market missing: %+v", cfg.Markets)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}

	// A second load reads the file back.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Markets[0].Asset != "TUSD" || again.Markets[0].AdjustFactor != "0.8" {
		t.Fatalf("round trip mismatch: %+v", again.Markets)
	}
}

func TestLoadParsesMarkets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "termlend.toml")
	contents := `
ListenAddress = "0.0.0.0:9000"
DataDir = "/var/lib/termlend"

[[Markets]]
Asset = "TUSD"
MaxFuturePools = 6
IntervalSeconds = 604800
PenaltyRatePerDay = "0.02"
AdjustFactor = "0.9"
OraclePrice = "1.0"

[[Markets]]
Asset = "WETH"
AdjustFactor = "0.7"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "0.0.0.0:9000" {
		t.Fatalf("listen address: %s", cfg.ListenAddress)
	}
	if len(cfg.Markets) != 2 {
		t.Fatalf("expected two markets, got %d", len(cfg.Markets))
	}
	params, err := cfg.Markets[0].Parameters()
	if err != nil {
		t.Fatalf("market parameters: %v", err)
	}
	if params.MaxFuturePools != 6 || params.Interval != 604800 {
		t.Fatalf("unexpected parameters: %+v", params)
	}
}

func TestValidateConfigRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"duplicate market", Config{Markets: []MarketConfig{
			{Config: marketConfig("TUSD")},
			{Config: marketConfig("TUSD")},
		}}},
		{"missing asset", Config{Markets: []MarketConfig{{}}}},
		{"adjust factor above one", Config{Markets: []MarketConfig{
			{Config: marketConfig("TUSD"), AdjustFactor: "1.5"},
		}}},
		{"negative price", Config{Markets: []MarketConfig{
			{Config: marketConfig("TUSD"), OraclePrice: "-1"},
		}}},
		{"malformed rate", Config{Markets: []MarketConfig{
			{Config: marketConfigWithPenalty("TUSD", "abc")},
		}}},
	}
	for _, tc := range cases {
		cfg := tc.cfg
		if err := ValidateConfig(&cfg); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestParseWad(t *testing.T) {
	value, err := ParseWad("0.8")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if value.String() != "800000000000000000" {
		t.Fatalf("unexpected value: %s", value)
	}
	if _, err := ParseWad("not-a-number"); err == nil {
		t.Fatalf("expected parse error")
	}
}
