package config

import (
	"fmt"
	"math/big"
)

// ValidateConfig rejects configurations that cannot produce a working
// daemon: duplicate markets, malformed parameters or risk settings outside
// their domain.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	seen := make(map[string]bool, len(cfg.Markets))
	for i := range cfg.Markets {
		market := &cfg.Markets[i]
		if market.Asset == "" {
			return fmt.Errorf("config: market %d missing asset symbol", i)
		}
		if seen[market.Asset] {
			return fmt.Errorf("config: market %s listed twice", market.Asset)
		}
		seen[market.Asset] = true
		if _, err := market.Parameters(); err != nil {
			return fmt.Errorf("config: market %s: %w", market.Asset, err)
		}
		if market.AdjustFactor != "" {
			factor, ok := new(big.Rat).SetString(market.AdjustFactor)
			if !ok || factor.Sign() <= 0 || factor.Cmp(big.NewRat(1, 1)) > 0 {
				return fmt.Errorf("config: market %s: adjust factor must be in (0, 1]", market.Asset)
			}
		}
		if market.OraclePrice != "" {
			price, ok := new(big.Rat).SetString(market.OraclePrice)
			if !ok || price.Sign() <= 0 {
				return fmt.Errorf("config: market %s: oracle price must be positive", market.Asset)
			}
		}
	}
	return nil
}

// ParseWad converts a decimal string such as "0.8" into WAD fixed point.
func ParseWad(value string) (*big.Int, error) {
	rat, ok := new(big.Rat).SetString(value)
	if !ok || rat.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid decimal %q", value)
	}
	wad := new(big.Rat).SetInt64(1_000_000_000_000_000_000)
	scaled := new(big.Rat).Mul(rat, wad)
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}
