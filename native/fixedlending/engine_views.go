package fixedlending

import (
	"math/big"

	"termlend/crypto"
)

// FixedPool returns a copy of the pool state for a maturity, or nil when the
// pool was never touched.
func (e *Engine) FixedPool(maturity uint64) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pool, err := e.state.GetFixedPool(e.params.Asset, maturity)
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// FixedBorrowPosition returns a copy of the account's borrow position at a
// maturity, or nil when none exists.
func (e *Engine) FixedBorrowPosition(maturity uint64, addr crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	position, err := e.state.GetBorrowPosition(e.params.Asset, maturity, addr)
	if err != nil {
		return nil, err
	}
	return position.Clone(), nil
}

// FixedDepositPosition returns a copy of the account's deposit position at a
// maturity, or nil when none exists.
func (e *Engine) FixedDepositPosition(maturity uint64, addr crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	position, err := e.state.GetDepositPosition(e.params.Asset, maturity, addr)
	if err != nil {
		return nil, err
	}
	return position.Clone(), nil
}

// FloatingSnapshot returns a copy of the floating pool state.
func (e *Engine) FloatingSnapshot() (*FloatingState, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	floating, err := e.state.GetFloatingState(e.params.Asset)
	if err != nil {
		return nil, err
	}
	if floating == nil {
		return NewFloatingState(e.now()), nil
	}
	clone := floating.Clone()
	clone.EnsureDefaults()
	return clone, nil
}

// UserAccountOf returns a copy of the account's market footprint.
func (e *Engine) UserAccountOf(addr crypto.Address) (*UserAccount, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	user, err := e.state.GetUserAccount(e.params.Asset, addr)
	if err != nil {
		return nil, err
	}
	return user.Clone(), nil
}

// TreasuryFees returns the withdrawable treasury earnings.
func (e *Engine) TreasuryFees() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fees, err := e.state.GetFeeAccrual(e.params.Asset)
	if err != nil {
		return nil, err
	}
	if fees == nil || fees.TreasuryFees == nil {
		return big.NewInt(0), nil
	}
	return cloneBig(fees.TreasuryFees), nil
}

// AccountSnapshot reports the account's collateral (redeemable floating
// supply, rounded down) and debt (floating debt plus fixed debt with any
// accrued late penalties, rounded up) in asset units.
func (e *Engine) AccountSnapshot(addr crypto.Address) (collateral, debt *big.Int, err error) {
	if e == nil || e.state == nil {
		return nil, nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accountSnapshot(addr)
}

// RiskView is the surface risk controllers value this market through. Its
// snapshot reads the last persisted state without taking the engine lock:
// a controller is consulted while an engine operation is in flight, and the
// operation persists nothing until the verdict is in, so the stored records
// it reads are exactly the pre-operation state.
type RiskView struct {
	engine *Engine
}

// RiskView returns the market surface to register with a risk controller.
func (e *Engine) RiskView() *RiskView {
	return &RiskView{engine: e}
}

// MarketID returns the market identifier of the underlying engine.
func (v *RiskView) MarketID() string {
	if v == nil {
		return ""
	}
	return v.engine.MarketID()
}

// AccountSnapshot values the account against the last persisted state.
func (v *RiskView) AccountSnapshot(addr crypto.Address) (collateral, debt *big.Int, err error) {
	if v == nil || v.engine == nil || v.engine.state == nil {
		return nil, nil, ErrNilState
	}
	return v.engine.accountSnapshot(addr)
}

func (e *Engine) accountSnapshot(addr crypto.Address) (collateral, debt *big.Int, err error) {
	now := e.now()

	floating, err := e.loadFloating(now)
	if err != nil {
		return nil, nil, err
	}
	user, err := e.loadUser(addr)
	if err != nil {
		return nil, nil, err
	}

	collateral = big.NewInt(0)
	if floating.TotalShares.Sign() > 0 && user.SupplyShares.Sign() > 0 {
		collateral = mulDivDown(user.SupplyShares, floating.TotalAssets, floating.TotalShares)
	}

	debt = floatingDebt(user.BorrowShares, floating)
	for _, maturity := range user.FixedBorrows {
		position, err := e.loadBorrowPosition(maturity, addr)
		if err != nil {
			return nil, nil, err
		}
		owed := position.Total()
		if now > maturity {
			perSecond := new(big.Int).Mul(e.params.PenaltyRate, new(big.Int).SetUint64(now-maturity))
			owed.Add(owed, mulWadUp(owed, perSecond))
		}
		debt.Add(debt, owed)
	}
	return collateral, debt, nil
}

// PreviewFixedBorrow quotes principal plus fee for a borrow at the given
// maturity without mutating any state.
func (e *Engine) PreviewFixedBorrow(maturity uint64, assets *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	now := e.now()
	if err := e.validateMaturity(maturity, now, true); err != nil {
		return nil, err
	}
	floating, err := e.loadFloating(now)
	if err != nil {
		return nil, err
	}
	pool, err := e.loadPool(maturity, now)
	if err != nil {
		return nil, err
	}
	rate := e.interestModel.FixedRate(pool, floating, maturity, now)
	periodRate := mulDivUp(ratToWadUp(rate), new(big.Int).SetUint64(maturity-now), secondsPerYear)
	fee := mulWadUp(assets, periodRate)
	return new(big.Int).Add(assets, fee), nil
}
