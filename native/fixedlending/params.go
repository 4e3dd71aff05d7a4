package fixedlending

import "math/big"

// FixedInterval is the default spacing between consecutive maturities:
// four weeks, expressed in seconds.
const FixedInterval uint64 = 4 * 7 * 24 * 60 * 60

// MarketParameters groups the governance-controlled settings for one market.
type MarketParameters struct {
	// Asset is the underlying asset symbol and doubles as the market id.
	Asset string
	// MaxFuturePools bounds how many maturities ahead of now accept new
	// deposits and borrows.
	MaxFuturePools uint64
	// Interval is the spacing between consecutive maturities in seconds.
	Interval uint64
	// PenaltyRate is the per-second surcharge (WAD) applied to fixed debt
	// repaid after maturity.
	PenaltyRate *big.Int
	// BackupFeeRate is the cut (WAD) of backup-funded yield routed to the
	// treasury instead of the depositor.
	BackupFeeRate *big.Int
	// ReserveFactorBps is the share of floating interest routed to the
	// treasury, in basis points.
	ReserveFactorBps uint64
	// SmoothFactor (WAD) stretches the release window of the earnings
	// accumulator across the listed maturity horizon.
	SmoothFactor *big.Int
	// DampSpeedUp and DampSpeedDown shape the damped moving average of
	// floating assets, in WAD per second.
	DampSpeedUp   *big.Int
	DampSpeedDown *big.Int
	// Caps throttle debt growth. Zero values mean unlimited.
	Caps BorrowCaps
}

// BorrowCaps limits outstanding debt per market.
type BorrowCaps struct {
	// TotalFixed caps the aggregate debt across all maturity pools.
	TotalFixed *big.Int
	// TotalFloating caps the outstanding floating-rate debt.
	TotalFloating *big.Int
}

// Clone returns a deep copy of the borrow caps.
func (c BorrowCaps) Clone() BorrowCaps {
	clone := BorrowCaps{}
	if c.TotalFixed != nil {
		clone.TotalFixed = new(big.Int).Set(c.TotalFixed)
	}
	if c.TotalFloating != nil {
		clone.TotalFloating = new(big.Int).Set(c.TotalFloating)
	}
	return clone
}

// Clone returns a deep copy of the market parameters.
func (p MarketParameters) Clone() MarketParameters {
	clone := p
	if p.PenaltyRate != nil {
		clone.PenaltyRate = new(big.Int).Set(p.PenaltyRate)
	}
	if p.BackupFeeRate != nil {
		clone.BackupFeeRate = new(big.Int).Set(p.BackupFeeRate)
	}
	if p.SmoothFactor != nil {
		clone.SmoothFactor = new(big.Int).Set(p.SmoothFactor)
	}
	if p.DampSpeedUp != nil {
		clone.DampSpeedUp = new(big.Int).Set(p.DampSpeedUp)
	}
	if p.DampSpeedDown != nil {
		clone.DampSpeedDown = new(big.Int).Set(p.DampSpeedDown)
	}
	clone.Caps = p.Caps.Clone()
	return clone
}

// EnsureDefaults fills in zero-valued settings with protocol defaults.
func (p *MarketParameters) EnsureDefaults() {
	if p == nil {
		return
	}
	if p.MaxFuturePools == 0 {
		p.MaxFuturePools = 3
	}
	if p.Interval == 0 {
		p.Interval = FixedInterval
	}
	if p.PenaltyRate == nil {
		// 2% per day expressed per second.
		p.PenaltyRate = mustBigInt("231481481481")
	}
	if p.BackupFeeRate == nil {
		// 10% treasury cut on backup-funded yield.
		p.BackupFeeRate = mustBigInt("100000000000000000")
	}
	if p.ReserveFactorBps == 0 {
		p.ReserveFactorBps = 1000
	}
	if p.SmoothFactor == nil {
		// Stretch accumulator release to twice the maturity horizon.
		p.SmoothFactor = new(big.Int).Lsh(wad, 1)
	}
	if p.DampSpeedUp == nil || p.DampSpeedUp.Sign() <= 0 {
		// 0.0046/s toward higher liquidity.
		p.DampSpeedUp = mustBigInt("4600000000000000")
	}
	if p.DampSpeedDown == nil || p.DampSpeedDown.Sign() <= 0 {
		// 0.42/s toward lower liquidity.
		p.DampSpeedDown = mustBigInt("420000000000000000")
	}
}

// DefaultMarketParameters returns the protocol defaults for an asset.
func DefaultMarketParameters(asset string) MarketParameters {
	params := MarketParameters{Asset: asset}
	params.EnsureDefaults()
	return params
}
