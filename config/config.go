package config

import (
	"os"
	"path/filepath"
	"strings"

	"termlend/native/fixedlending"

	"github.com/BurntSushi/toml"
)

// MarketConfig pairs a market's engine parameters with its risk settings.
type MarketConfig struct {
	fixedlending.Config
	// AdjustFactor is the collateral discount applied by the auditor, as a
	// decimal string such as "0.8".
	AdjustFactor string `toml:"AdjustFactor"`
	// OraclePrice seeds the posted-price oracle, as a decimal string in the
	// reference currency. Empty means the price must be posted at runtime.
	OraclePrice string `toml:"OraclePrice"`
}

// Config is the protocol-level configuration of a market daemon: where state
// lives, which account custodies pooled liquidity and which markets to list.
type Config struct {
	ListenAddress   string `toml:"ListenAddress"`
	DataDir         string `toml:"DataDir"`
	NetworkName     string `toml:"NetworkName"`
	ModuleAddress   string `toml:"ModuleAddress"`
	TreasuryAddress string `toml:"TreasuryAddress"`

	Markets []MarketConfig `toml:"Markets"`
}

// Load reads the configuration at path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./termlend-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "termlend-local"
	}
	if cfg.Markets == nil {
		cfg.Markets = []MarketConfig{}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Markets: []MarketConfig{
			{
				Config:       fixedlending.Config{Asset: "TUSD"},
				AdjustFactor: "0.8",
				OraclePrice:  "1.0",
			},
		},
	}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
