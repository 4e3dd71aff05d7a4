package fixedlending

import "math/big"

// InterestModel shapes how borrow rates react to utilisation of the floating
// pool and of the individual maturity pools. Rates are annualised decimals
// held as rationals; conversion to WAD happens at the call boundary so no
// precision is lost inside the curve.
type InterestModel struct {
	// BaseRate is the minimum borrow APR at zero utilisation.
	BaseRate *big.Rat
	// Slope1 is the APR increase per unit of utilisation below the kink.
	Slope1 *big.Rat
	// Slope2 is the extra APR increase applied above the kink.
	Slope2 *big.Rat
	// Kink is the utilisation ratio where the slope changes.
	Kink *big.Rat
	// FixedSpread is the additional annualised premium charged on fixed
	// borrows per year of time to maturity.
	FixedSpread *big.Rat
}

// NewInterestModel constructs an interest model from decimal inputs, e.g. a
// 2% base rate is 0.02 and an 80% kink is 0.8.
func NewInterestModel(baseRate, slope1, slope2, kink, fixedSpread float64) *InterestModel {
	model := &InterestModel{
		BaseRate:    new(big.Rat),
		Slope1:      new(big.Rat),
		Slope2:      new(big.Rat),
		Kink:        new(big.Rat),
		FixedSpread: new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.Kink.SetFloat64(kink)
	model.FixedSpread.SetFloat64(fixedSpread)
	return model
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		BaseRate:    cloneRat(m.BaseRate),
		Slope1:      cloneRat(m.Slope1),
		Slope2:      cloneRat(m.Slope2),
		Kink:        cloneRat(m.Kink),
		FixedSpread: cloneRat(m.FixedSpread),
	}
}

// Utilisation computes borrowed/supplied, defined as zero when either side
// is empty.
func (m *InterestModel) Utilisation(borrowed, supplied *big.Int) *big.Rat {
	if borrowed == nil || borrowed.Sign() == 0 {
		return new(big.Rat)
	}
	if supplied == nil || supplied.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(borrowed, supplied)
}

// curve evaluates the kinked rate curve at the given utilisation.
func (m *InterestModel) curve(utilisation *big.Rat) *big.Rat {
	rate := cloneRat(m.BaseRate)
	if utilisation == nil || utilisation.Sign() == 0 {
		return rate
	}
	kink := cloneRat(m.Kink)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), utilisation))
	}
	rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), kink))
	excess := new(big.Rat).Sub(utilisation, kink)
	return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope2), excess))
}

// FloatingRate derives the annualised floating borrow APR. Utilisation
// counts both floating debt and the backup debt lent to maturity pools, over
// the damped floating assets average.
func (m *InterestModel) FloatingRate(totalBorrowed, backupBorrowed, assetsAverage *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	debt := new(big.Int).Add(cloneBig(totalBorrowed), cloneBig(backupBorrowed))
	return m.curve(m.Utilisation(debt, assetsAverage))
}

// FixedRate derives the annualised rate offered on a fixed borrow maturing
// at maturity. The curve is evaluated at the worse of the pool-level and
// global utilisation, then a maturity premium proportional to time to
// maturity is added.
func (m *InterestModel) FixedRate(pool *Pool, floating *FloatingState, maturity, now uint64) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	var poolU *big.Rat
	if pool != nil {
		funded := new(big.Int).Add(cloneBig(pool.Supplied), cloneBig(pool.BackupBorrowed))
		poolU = m.Utilisation(cloneBig(pool.Borrowed), funded)
	} else {
		poolU = new(big.Rat)
	}
	var globalU *big.Rat
	if floating != nil {
		denominator := cloneBig(floating.AssetsAverage)
		if denominator.Sign() == 0 {
			denominator = cloneBig(floating.TotalAssets)
		}
		debt := new(big.Int).Add(cloneBig(floating.TotalBorrowed), cloneBig(floating.BackupBorrowed))
		globalU = m.Utilisation(debt, denominator)
	} else {
		globalU = new(big.Rat)
	}
	utilisation := poolU
	if globalU.Cmp(poolU) > 0 {
		utilisation = globalU
	}
	rate := m.curve(utilisation)
	if maturity > now && m.FixedSpread != nil && m.FixedSpread.Sign() != 0 {
		horizon := new(big.Rat).SetFrac(
			new(big.Int).SetUint64(maturity-now),
			secondsPerYear,
		)
		rate.Add(rate, new(big.Rat).Mul(cloneRat(m.FixedSpread), horizon))
	}
	return rate
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultInterestModel is a kinked curve with a modest base rate and a small
// term premium on fixed borrows.
var DefaultInterestModel = NewInterestModel(0.02, 0.15, 0.6, 0.8, 0.01)
