package fixedlending

import (
	"math/big"

	"termlend/crypto"
	nativecommon "termlend/native/common"
)

// Supply deposits assets into the floating pool and mints shares at the
// current assets-per-share price. Minting rounds down so depositors can
// never extract value through share price rounding.
func (e *Engine) Supply(supplier crypto.Address, assets *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.params.Asset == "" {
		return nil, ErrMarketNotConfigured
	}
	if err := nativecommon.GuardAction(e.pauses, moduleName, actionSupply); err != nil {
		return nil, err
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	now := e.now()
	floating, err := e.loadFloating(now)
	if err != nil {
		return nil, err
	}
	fees, err := e.loadFees()
	if err != nil {
		return nil, err
	}
	e.accrueFloating(floating, fees, now)

	shares := new(big.Int)
	if floating.TotalShares.Sign() == 0 || floating.TotalAssets.Sign() == 0 {
		shares.Set(assets)
	} else {
		shares = mulDivDown(assets, floating.TotalShares, floating.TotalAssets)
	}
	if shares.Sign() == 0 {
		return nil, ErrInvalidAmount
	}

	led := e.newLedger()
	if err := led.transfer(supplier, e.moduleAddress, assets); err != nil {
		return nil, err
	}

	floating.TotalAssets = new(big.Int).Add(floating.TotalAssets, assets)
	floating.TotalShares = new(big.Int).Add(floating.TotalShares, shares)

	user, err := e.loadUser(supplier)
	if err != nil {
		return nil, err
	}
	user.SupplyShares = new(big.Int).Add(user.SupplyShares, shares)

	if err := e.persistFloating(floating, fees); err != nil {
		return nil, err
	}
	if err := e.state.PutUserAccount(e.params.Asset, user); err != nil {
		return nil, err
	}
	if err := led.persist(); err != nil {
		return nil, err
	}
	return shares, nil
}

// WithdrawFloating burns shares and releases the corresponding assets. The
// redemption is capped by the pool's free liquidity so that floating debt
// and fixed backup debt are never left unfunded.
func (e *Engine) WithdrawFloating(supplier crypto.Address, shares *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.GuardAction(e.pauses, moduleName, actionWithdraw); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	now := e.now()
	floating, err := e.loadFloating(now)
	if err != nil {
		return nil, err
	}
	fees, err := e.loadFees()
	if err != nil {
		return nil, err
	}
	e.accrueFloating(floating, fees, now)
	if floating.TotalShares.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}

	user, err := e.loadUser(supplier)
	if err != nil {
		return nil, err
	}
	if user.SupplyShares.Cmp(shares) < 0 {
		return nil, ErrInsufficientShares
	}

	assets := mulDivDown(shares, floating.TotalAssets, floating.TotalShares)
	if assets.Cmp(floating.FreeLiquidity()) > 0 {
		return nil, ErrInsufficientLiquidity
	}
	if e.risk != nil {
		if err := e.risk.ValidateWithdraw(e.params.Asset, supplier, assets); err != nil {
			return nil, err
		}
	}

	led := e.newLedger()
	if err := led.transfer(e.moduleAddress, supplier, assets); err != nil {
		return nil, err
	}

	floating.TotalAssets = new(big.Int).Sub(floating.TotalAssets, assets)
	floating.TotalShares = new(big.Int).Sub(floating.TotalShares, shares)
	user.SupplyShares = new(big.Int).Sub(user.SupplyShares, shares)

	if err := e.persistFloating(floating, fees); err != nil {
		return nil, err
	}
	if err := e.state.PutUserAccount(e.params.Asset, user); err != nil {
		return nil, err
	}
	if err := led.persist(); err != nil {
		return nil, err
	}
	return assets, nil
}

// BorrowFloating opens floating-rate debt against the pool's free liquidity.
// Debt shares round up against the borrower.
func (e *Engine) BorrowFloating(borrower crypto.Address, assets *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.GuardAction(e.pauses, moduleName, actionBorrow); err != nil {
		return nil, err
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if e.risk == nil {
		return nil, ErrRiskNotConfigured
	}
	now := e.now()
	floating, err := e.loadFloating(now)
	if err != nil {
		return nil, err
	}
	fees, err := e.loadFees()
	if err != nil {
		return nil, err
	}
	e.accrueFloating(floating, fees, now)

	if assets.Cmp(floating.FreeLiquidity()) > 0 {
		return nil, ErrInsufficientLiquidity
	}
	if cap := e.params.Caps.TotalFloating; cap != nil && cap.Sign() > 0 {
		projected := new(big.Int).Add(floating.TotalBorrowed, assets)
		if projected.Cmp(cap) > 0 {
			return nil, ErrBorrowCapExceeded
		}
	}
	if err := e.risk.ValidateBorrow(e.params.Asset, borrower, assets); err != nil {
		return nil, err
	}

	shares := new(big.Int)
	if floating.TotalBorrowShares.Sign() == 0 || floating.TotalBorrowed.Sign() == 0 {
		shares.Set(assets)
	} else {
		shares = mulDivUp(assets, floating.TotalBorrowShares, floating.TotalBorrowed)
	}

	led := e.newLedger()
	if err := led.transfer(e.moduleAddress, borrower, assets); err != nil {
		return nil, err
	}

	floating.TotalBorrowed = new(big.Int).Add(floating.TotalBorrowed, assets)
	floating.TotalBorrowShares = new(big.Int).Add(floating.TotalBorrowShares, shares)

	user, err := e.loadUser(borrower)
	if err != nil {
		return nil, err
	}
	user.BorrowShares = new(big.Int).Add(user.BorrowShares, shares)

	if err := e.persistFloating(floating, fees); err != nil {
		return nil, err
	}
	if err := e.state.PutUserAccount(e.params.Asset, user); err != nil {
		return nil, err
	}
	if err := led.persist(); err != nil {
		return nil, err
	}
	return shares, nil
}

// RepayFloating settles up to assets of the borrower's floating debt and
// returns the amount actually applied.
func (e *Engine) RepayFloating(borrower crypto.Address, assets *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.GuardAction(e.pauses, moduleName, actionRepay); err != nil {
		return nil, err
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	now := e.now()
	floating, err := e.loadFloating(now)
	if err != nil {
		return nil, err
	}
	fees, err := e.loadFees()
	if err != nil {
		return nil, err
	}
	e.accrueFloating(floating, fees, now)

	user, err := e.loadUser(borrower)
	if err != nil {
		return nil, err
	}
	debt := floatingDebt(user.BorrowShares, floating)
	if debt.Sign() == 0 {
		return nil, ErrNoDebtToRepay
	}

	repaid := minBig(assets, debt)
	var burned *big.Int
	if repaid.Cmp(debt) == 0 {
		burned = cloneBig(user.BorrowShares)
	} else {
		burned = mulDivDown(user.BorrowShares, repaid, debt)
	}

	led := e.newLedger()
	if err := led.transfer(borrower, e.moduleAddress, repaid); err != nil {
		return nil, err
	}

	floating.TotalBorrowed = new(big.Int).Sub(floating.TotalBorrowed, repaid)
	if floating.TotalBorrowed.Sign() < 0 {
		floating.TotalBorrowed = big.NewInt(0)
	}
	floating.TotalBorrowShares = new(big.Int).Sub(floating.TotalBorrowShares, burned)
	user.BorrowShares = new(big.Int).Sub(user.BorrowShares, burned)

	if err := e.persistFloating(floating, fees); err != nil {
		return nil, err
	}
	if err := e.state.PutUserAccount(e.params.Asset, user); err != nil {
		return nil, err
	}
	if err := led.persist(); err != nil {
		return nil, err
	}
	return repaid, nil
}

// WithdrawTreasuryFees pays accrued treasury earnings out of the module
// account and returns the amount withdrawn.
func (e *Engine) WithdrawTreasuryFees(recipient crypto.Address, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	fees, err := e.loadFees()
	if err != nil {
		return nil, err
	}
	if fees.TreasuryFees.Cmp(amount) < 0 {
		return nil, ErrTreasuryFeesExceeded
	}
	led := e.newLedger()
	if err := led.transfer(e.moduleAddress, recipient, amount); err != nil {
		return nil, err
	}
	fees.TreasuryFees = new(big.Int).Sub(fees.TreasuryFees, amount)
	if err := e.state.PutFeeAccrual(e.params.Asset, fees); err != nil {
		return nil, err
	}
	if err := led.persist(); err != nil {
		return nil, err
	}
	return cloneBig(amount), nil
}

func (e *Engine) persistFloating(floating *FloatingState, fees *FeeAccrual) error {
	if err := e.state.PutFloatingState(e.params.Asset, floating); err != nil {
		return err
	}
	return e.state.PutFeeAccrual(e.params.Asset, fees)
}

// floatingDebt converts borrow shares into owed assets, rounding up.
func floatingDebt(shares *big.Int, floating *FloatingState) *big.Int {
	if shares == nil || shares.Sign() == 0 || floating == nil || floating.TotalBorrowShares.Sign() == 0 {
		return big.NewInt(0)
	}
	return mulDivUp(shares, floating.TotalBorrowed, floating.TotalBorrowShares)
}
