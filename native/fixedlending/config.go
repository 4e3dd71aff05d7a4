package fixedlending

import (
	"fmt"
	"math/big"
)

// Config is the TOML-facing shape of a market's governance parameters. Rates
// are decimal strings scaled to WAD on conversion so config files stay
// readable.
type Config struct {
	Asset               string  `toml:"Asset"`
	MaxFuturePools      uint64  `toml:"MaxFuturePools"`
	IntervalSeconds     uint64  `toml:"IntervalSeconds"`
	PenaltyRatePerDay   string  `toml:"PenaltyRatePerDay"`
	BackupFeeRate       string  `toml:"BackupFeeRate"`
	ReserveFactorBps    uint64  `toml:"ReserveFactorBps"`
	SmoothFactor        string  `toml:"SmoothFactor"`
	DampSpeedUp         string  `toml:"DampSpeedUp"`
	DampSpeedDown       string  `toml:"DampSpeedDown"`
	MaxTotalFixedWei    string  `toml:"MaxTotalFixedWei"`
	MaxTotalFloatingWei string  `toml:"MaxTotalFloatingWei"`
}

// Parameters converts the config into engine parameters, applying protocol
// defaults for anything left unset.
func (c Config) Parameters() (MarketParameters, error) {
	params := MarketParameters{
		Asset:            c.Asset,
		MaxFuturePools:   c.MaxFuturePools,
		Interval:         c.IntervalSeconds,
		ReserveFactorBps: c.ReserveFactorBps,
	}
	if c.DampSpeedUp != "" {
		speed, err := parseWadDecimal(c.DampSpeedUp)
		if err != nil {
			return MarketParameters{}, fmt.Errorf("damp speed up: %w", err)
		}
		params.DampSpeedUp = speed
	}
	if c.DampSpeedDown != "" {
		speed, err := parseWadDecimal(c.DampSpeedDown)
		if err != nil {
			return MarketParameters{}, fmt.Errorf("damp speed down: %w", err)
		}
		params.DampSpeedDown = speed
	}
	if c.PenaltyRatePerDay != "" {
		perDay, err := parseWadDecimal(c.PenaltyRatePerDay)
		if err != nil {
			return MarketParameters{}, fmt.Errorf("penalty rate: %w", err)
		}
		params.PenaltyRate = perDay.Quo(perDay, big.NewInt(24*60*60))
	}
	if c.BackupFeeRate != "" {
		rate, err := parseWadDecimal(c.BackupFeeRate)
		if err != nil {
			return MarketParameters{}, fmt.Errorf("backup fee rate: %w", err)
		}
		params.BackupFeeRate = rate
	}
	if c.SmoothFactor != "" {
		factor, err := parseWadDecimal(c.SmoothFactor)
		if err != nil {
			return MarketParameters{}, fmt.Errorf("smooth factor: %w", err)
		}
		params.SmoothFactor = factor
	}
	if c.MaxTotalFixedWei != "" {
		cap, ok := new(big.Int).SetString(c.MaxTotalFixedWei, 10)
		if !ok {
			return MarketParameters{}, fmt.Errorf("invalid fixed borrow cap %q", c.MaxTotalFixedWei)
		}
		params.Caps.TotalFixed = cap
	}
	if c.MaxTotalFloatingWei != "" {
		cap, ok := new(big.Int).SetString(c.MaxTotalFloatingWei, 10)
		if !ok {
			return MarketParameters{}, fmt.Errorf("invalid floating borrow cap %q", c.MaxTotalFloatingWei)
		}
		params.Caps.TotalFloating = cap
	}
	params.EnsureDefaults()
	if params.Asset == "" {
		return MarketParameters{}, fmt.Errorf("market asset symbol required")
	}
	return params, nil
}

// parseWadDecimal converts a decimal string such as "0.02" into WAD.
func parseWadDecimal(value string) (*big.Int, error) {
	rat, ok := new(big.Rat).SetString(value)
	if !ok || rat.Sign() < 0 {
		return nil, fmt.Errorf("invalid decimal %q", value)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(wad))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}
