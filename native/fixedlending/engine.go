package fixedlending

import (
	"math/big"
	"sync"
	"time"

	"termlend/core/types"
	"termlend/crypto"
	nativecommon "termlend/native/common"
)

const moduleName = "fixedlending"

// Pause switch names for the individual flows.
const (
	actionFixedDeposit  = "fixed_deposit"
	actionFixedBorrow   = "fixed_borrow"
	actionFixedRepay    = "fixed_repay"
	actionFixedWithdraw = "fixed_withdraw"
	actionSupply        = "supply"
	actionWithdraw      = "withdraw"
	actionBorrow        = "borrow"
	actionRepay         = "repay"
)

// engineState is the persistence boundary of the engine. Implementations
// return nil (not an error) for records that do not exist yet.
type engineState interface {
	GetFixedPool(marketID string, maturity uint64) (*Pool, error)
	PutFixedPool(marketID string, maturity uint64, pool *Pool) error
	GetBorrowPosition(marketID string, maturity uint64, addr crypto.Address) (*Position, error)
	PutBorrowPosition(marketID string, maturity uint64, addr crypto.Address, position *Position) error
	GetDepositPosition(marketID string, maturity uint64, addr crypto.Address) (*Position, error)
	PutDepositPosition(marketID string, maturity uint64, addr crypto.Address, position *Position) error
	GetFloatingState(marketID string) (*FloatingState, error)
	PutFloatingState(marketID string, floating *FloatingState) error
	GetUserAccount(marketID string, addr crypto.Address) (*UserAccount, error)
	PutUserAccount(marketID string, account *UserAccount) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	GetFeeAccrual(marketID string) (*FeeAccrual, error)
	PutFeeAccrual(marketID string, fees *FeeAccrual) error
}

// RiskController is the external risk-accounting collaborator. It is
// consulted before any borrow and before floating collateral leaves the
// pool; whatever error it returns is surfaced uninterpreted.
type RiskController interface {
	ValidateBorrow(marketID string, borrower crypto.Address, amount *big.Int) error
	ValidateWithdraw(marketID string, owner crypto.Address, assets *big.Int) error
}

// Engine orchestrates every state transition of one lending market: the
// floating pool and all of its fixed-maturity pools. Each exported operation
// runs as a single critical section; all validation happens before any
// write, and balance movements are staged in memory and persisted after the
// domain records, so a failed call never leaves a debited account behind.
type Engine struct {
	mu            sync.Mutex
	state         engineState
	moduleAddress crypto.Address
	params        MarketParameters
	interestModel *InterestModel
	risk          RiskController
	pauses        nativecommon.PauseView
	clock         func() uint64
}

// NewEngine constructs an engine for the market described by params. The
// module address is the ledger account that custodies pooled liquidity.
func NewEngine(moduleAddr crypto.Address, params MarketParameters) *Engine {
	params.EnsureDefaults()
	return &Engine{
		moduleAddress: moduleAddr,
		params:        params.Clone(),
		interestModel: DefaultInterestModel.Clone(),
		clock:         func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRiskController wires the collateral validation collaborator.
func (e *Engine) SetRiskController(risk RiskController) {
	if e == nil {
		return
	}
	e.risk = risk
}

// SetPauses configures the governance pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetInterestModel configures the rate model used for fee quotes.
func (e *Engine) SetInterestModel(model *InterestModel) {
	if e == nil {
		return
	}
	if model != nil {
		e.interestModel = model.Clone()
	} else {
		e.interestModel = nil
	}
}

// SetClock overrides the time source. Intended for tests and for callers
// that sequence operations against an external clock.
func (e *Engine) SetClock(clock func() uint64) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// MarketID returns the market identifier (the asset symbol).
func (e *Engine) MarketID() string {
	if e == nil {
		return ""
	}
	return e.params.Asset
}

// Parameters returns a copy of the governance parameters in force.
func (e *Engine) Parameters() MarketParameters {
	if e == nil {
		return MarketParameters{}
	}
	return e.params.Clone()
}

func (e *Engine) now() uint64 { return e.clock() }

// validateMaturity rejects maturities that are not aligned to the fixed
// interval and, for operations opening new exposure, maturities outside the
// listed horizon.
func (e *Engine) validateMaturity(maturity, now uint64, opening bool) error {
	if maturity == 0 || maturity%e.params.Interval != 0 {
		return ErrInvalidMaturity
	}
	if !opening {
		return nil
	}
	if maturity <= now {
		return ErrMaturityPassed
	}
	horizon := now - now%e.params.Interval + e.params.MaxFuturePools*e.params.Interval
	if maturity > horizon {
		return ErrMaturityTooFar
	}
	return nil
}

// --- state loading helpers; every load returns a mutable deep copy ---

func (e *Engine) loadFloating(now uint64) (*FloatingState, error) {
	stored, err := e.state.GetFloatingState(e.params.Asset)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return NewFloatingState(now), nil
	}
	floating := stored.Clone()
	floating.EnsureDefaults()
	return floating, nil
}

func (e *Engine) loadPool(maturity, now uint64) (*Pool, error) {
	stored, err := e.state.GetFixedPool(e.params.Asset, maturity)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return NewPool(maturity, now), nil
	}
	pool := stored.Clone()
	pool.EnsureDefaults()
	return pool, nil
}

func (e *Engine) loadFees() (*FeeAccrual, error) {
	stored, err := e.state.GetFeeAccrual(e.params.Asset)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return &FeeAccrual{TreasuryFees: big.NewInt(0)}, nil
	}
	fees := stored.Clone()
	fees.EnsureDefaults()
	return fees, nil
}

func (e *Engine) loadUser(addr crypto.Address) (*UserAccount, error) {
	stored, err := e.state.GetUserAccount(e.params.Asset, addr)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return NewUserAccount(addr), nil
	}
	user := stored.Clone()
	user.Address = addr
	user.EnsureDefaults()
	return user, nil
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	stored, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return types.NewAccount(), nil
	}
	return stored.Clone(), nil
}

func (e *Engine) loadBorrowPosition(maturity uint64, addr crypto.Address) (*Position, error) {
	stored, err := e.state.GetBorrowPosition(e.params.Asset, maturity, addr)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return NewPosition(), nil
	}
	position := stored.Clone()
	position.EnsureDefaults()
	return position, nil
}

func (e *Engine) loadDepositPosition(maturity uint64, addr crypto.Address) (*Position, error) {
	stored, err := e.state.GetDepositPosition(e.params.Asset, maturity, addr)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return NewPosition(), nil
	}
	position := stored.Clone()
	position.EnsureDefaults()
	return position, nil
}

// ledger stages balance movements in memory during an operation. Nothing
// reaches the store until persist runs as the operation's final write, so
// a veto or a failed domain put never leaves a debited account behind.
type ledger struct {
	engine   *Engine
	accounts map[string]*types.Account
	order    []crypto.Address
}

func (e *Engine) newLedger() *ledger {
	return &ledger{engine: e, accounts: make(map[string]*types.Account)}
}

// account returns the staged copy of addr, loading it on first use.
func (l *ledger) account(addr crypto.Address) (*types.Account, error) {
	key := addr.String()
	if staged, ok := l.accounts[key]; ok {
		return staged, nil
	}
	account, err := l.engine.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	l.accounts[key] = account
	l.order = append(l.order, addr)
	return account, nil
}

// transfer moves amount of the market asset between staged accounts.
func (l *ledger) transfer(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	fromAcc, err := l.account(from)
	if err != nil {
		return err
	}
	if err := fromAcc.Debit(l.engine.params.Asset, amount); err != nil {
		return err
	}
	toAcc, err := l.account(to)
	if err != nil {
		return err
	}
	toAcc.Credit(l.engine.params.Asset, amount)
	return nil
}

// persist writes every touched account in the order it was first loaded.
func (l *ledger) persist() error {
	for _, addr := range l.order {
		if err := l.engine.state.PutAccount(addr, l.accounts[addr.String()]); err != nil {
			return err
		}
	}
	return nil
}

// accrueFloating recognises floating debt interest, releases smoothed
// accumulator earnings to the treasury and refreshes the damped assets
// average. It must run before any other mutation in the same operation.
func (e *Engine) accrueFloating(floating *FloatingState, fees *FeeAccrual, now uint64) {
	if now <= floating.LastAccrual {
		return
	}
	elapsed := now - floating.LastAccrual
	elapsedBig := new(big.Int).SetUint64(elapsed)

	if floating.TotalBorrowed.Sign() > 0 && e.interestModel != nil {
		denominator := floating.AssetsAverage
		if denominator.Sign() == 0 {
			denominator = floating.TotalAssets
		}
		rate := e.interestModel.FloatingRate(floating.TotalBorrowed, floating.BackupBorrowed, denominator)
		periodRate := mulDivDown(ratToWadUp(rate), elapsedBig, secondsPerYear)
		interest := mulWadDown(floating.TotalBorrowed, periodRate)
		if interest.Sign() > 0 {
			reserve := mulDivDown(interest, new(big.Int).SetUint64(e.params.ReserveFactorBps), basisPoints)
			floating.TotalBorrowed = new(big.Int).Add(floating.TotalBorrowed, interest)
			floating.TotalAssets = new(big.Int).Add(floating.TotalAssets, new(big.Int).Sub(interest, reserve))
			fees.TreasuryFees = new(big.Int).Add(fees.TreasuryFees, reserve)
		}
	}

	if floating.EarningsAccumulator.Sign() > 0 {
		window := mulWadDown(e.params.SmoothFactor, new(big.Int).SetUint64(e.params.MaxFuturePools*e.params.Interval))
		denominator := new(big.Int).Add(elapsedBig, window)
		release := mulDivDown(floating.EarningsAccumulator, elapsedBig, denominator)
		floating.EarningsAccumulator = new(big.Int).Sub(floating.EarningsAccumulator, release)
		fees.TreasuryFees = new(big.Int).Add(fees.TreasuryFees, release)
	}

	e.updateAssetsAverage(floating, elapsed)
	floating.LastAccrual = now
}

// updateAssetsAverage moves the damped average toward the current floating
// assets, faster downward than upward so rate quotes react quickly to
// liquidity leaving the pool. The weight 1-e^(-speed*elapsed) is evaluated
// in fixed point to keep rate inputs identical across platforms.
func (e *Engine) updateAssetsAverage(floating *FloatingState, elapsed uint64) {
	damp := e.params.DampSpeedUp
	if floating.TotalAssets.Cmp(floating.AssetsAverage) < 0 {
		damp = e.params.DampSpeedDown
	}
	exponent := new(big.Int).Mul(damp, new(big.Int).SetUint64(elapsed))
	weight := new(big.Int).Sub(wad, expNegWad(exponent))
	if weight.Sign() <= 0 {
		return
	}
	diff := new(big.Int).Sub(floating.TotalAssets, floating.AssetsAverage)
	floating.AssetsAverage = new(big.Int).Add(floating.AssetsAverage, mulWadDown(diff, weight))
}

// routeAccruedEarnings credits the two halves of a fixed pool accrual:
// backup suppliers earn into floating assets, the treasury share enters the
// smoothing accumulator.
func routeAccruedEarnings(floating *FloatingState, backup, treasury *big.Int) {
	if backup != nil && backup.Sign() > 0 {
		floating.TotalAssets = new(big.Int).Add(floating.TotalAssets, backup)
	}
	if treasury != nil && treasury.Sign() > 0 {
		floating.EarningsAccumulator = new(big.Int).Add(floating.EarningsAccumulator, treasury)
	}
}

// maxBackupDebt derives the cap on a pool's backup debt for the current
// operation: whatever it already borrowed plus the floating pool's free
// liquidity.
func maxBackupDebt(pool *Pool, floating *FloatingState) *big.Int {
	return new(big.Int).Add(cloneBig(pool.BackupBorrowed), floating.FreeLiquidity())
}

// DepositAtMaturity locks assets into the maturity pool and grants the
// depositor an immediate yield carved out of the pool's unassigned earnings.
// It returns the resulting position size (principal plus promised yield) and
// fails when that falls short of minAssetsRequired.
func (e *Engine) DepositAtMaturity(supplier crypto.Address, maturity uint64, assets, minAssetsRequired *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.GuardAction(e.pauses, moduleName, actionFixedDeposit); err != nil {
		return nil, err
	}
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
	fees, err := e.loadFees()
	if err != nil {
		return nil, err
	}
	e.accrueFloating(floating, fees, now)

	pool, err := e.loadPool(maturity, now)
	if err != nil {
		return nil, err
	}
	backupShare, treasuryShare := pool.Accrue(maturity, now)
	routeAccruedEarnings(floating, backupShare, treasuryShare)

	yield, backupFee := pool.CalculateDeposit(assets, e.params.BackupFeeRate)
	consumed := new(big.Int).Add(yield, backupFee)
	pool.UnassignedEarnings = new(big.Int).Sub(pool.UnassignedEarnings, consumed)
	floating.EarningsAccumulator = new(big.Int).Add(floating.EarningsAccumulator, backupFee)

	released := pool.Deposit(assets)
	floating.BackupBorrowed = new(big.Int).Sub(floating.BackupBorrowed, released)

	positionAssets := new(big.Int).Add(assets, yield)
	if minAssetsRequired != nil && positionAssets.Cmp(minAssetsRequired) < 0 {
		return nil, ErrTooMuchSlippage
	}

	led := e.newLedger()
	if err := led.transfer(supplier, e.moduleAddress, assets); err != nil {
		return nil, err
	}

	position, err := e.loadDepositPosition(maturity, supplier)
	if err != nil {
		return nil, err
	}
	position.Principal = new(big.Int).Add(position.Principal, assets)
	position.Fee = new(big.Int).Add(position.Fee, yield)

	user, err := e.loadUser(supplier)
	if err != nil {
		return nil, err
	}
	user.FixedDeposits = addMaturity(user.FixedDeposits, maturity)

	if err := e.persistFixed(maturity, pool, floating, fees); err != nil {
		return nil, err
	}
	if err := e.state.PutDepositPosition(e.params.Asset, maturity, supplier, position); err != nil {
		return nil, err
	}
	if err := e.state.PutUserAccount(e.params.Asset, user); err != nil {
		return nil, err
	}
	if err := led.persist(); err != nil {
		return nil, err
	}
	return positionAssets, nil
}

// BorrowAtMaturity opens fixed-rate debt at the given maturity. The quoted
// fee is added to the borrower's position up front; the call fails when
// principal plus fee exceeds maxAssetsAllowed, when backup liquidity is
// exhausted or when the risk controller vetoes the borrow.
func (e *Engine) BorrowAtMaturity(borrower crypto.Address, maturity uint64, assets, maxAssetsAllowed *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.GuardAction(e.pauses, moduleName, actionFixedBorrow); err != nil {
		return nil, err
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if e.risk == nil {
		return nil, ErrRiskNotConfigured
	}
	now := e.now()
	if err := e.validateMaturity(maturity, now, true); err != nil {
		return nil, err
	}

	floating, err := e.loadFloating(now)
	if err != nil {
		return nil, err
	}
	fees, err := e.loadFees()
	if err != nil {
		return nil, err
	}
	e.accrueFloating(floating, fees, now)

	pool, err := e.loadPool(maturity, now)
	if err != nil {
		return nil, err
	}
	backupShare, treasuryShare := pool.Accrue(maturity, now)
	routeAccruedEarnings(floating, backupShare, treasuryShare)

	// Quote against the pre-netting snapshot so the borrow itself does not
	// move its own price.
	rate := e.interestModel.FixedRate(pool, floating, maturity, now)
	periodRate := mulDivUp(ratToWadUp(rate), new(big.Int).SetUint64(maturity-now), secondsPerYear)
	fee := mulWadUp(assets, periodRate)
	positionAssets := new(big.Int).Add(assets, fee)
	if maxAssetsAllowed != nil && positionAssets.Cmp(maxAssetsAllowed) > 0 {
		return nil, ErrTooMuchSlippage
	}

	if cap := e.params.Caps.TotalFixed; cap != nil && cap.Sign() > 0 {
		projected := new(big.Int).Add(floating.TotalFixedBorrowed, positionAssets)
		if projected.Cmp(cap) > 0 {
			return nil, ErrBorrowCapExceeded
		}
	}

	delta, err := pool.Borrow(positionAssets, maxBackupDebt(pool, floating))
	if err != nil {
		return nil, err
	}
	floating.BackupBorrowed = new(big.Int).Add(floating.BackupBorrowed, delta)
	floating.TotalFixedBorrowed = new(big.Int).Add(floating.TotalFixedBorrowed, positionAssets)
	pool.UnassignedEarnings = new(big.Int).Add(pool.UnassignedEarnings, fee)

	if err := e.risk.ValidateBorrow(e.params.Asset, borrower, positionAssets); err != nil {
		return nil, err
	}

	led := e.newLedger()
	moduleAcc, err := led.account(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	if moduleAcc.Balance(e.params.Asset).Cmp(assets) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	if err := led.transfer(e.moduleAddress, borrower, assets); err != nil {
		return nil, err
	}

	position, err := e.loadBorrowPosition(maturity, borrower)
	if err != nil {
		return nil, err
	}
	position.Principal = new(big.Int).Add(position.Principal, assets)
	position.Fee = new(big.Int).Add(position.Fee, fee)

	user, err := e.loadUser(borrower)
	if err != nil {
		return nil, err
	}
	user.FixedBorrows = addMaturity(user.FixedBorrows, maturity)

	if err := e.persistFixed(maturity, pool, floating, fees); err != nil {
		return nil, err
	}
	if err := e.state.PutBorrowPosition(e.params.Asset, maturity, borrower, position); err != nil {
		return nil, err
	}
	if err := e.state.PutUserAccount(e.params.Asset, user); err != nil {
		return nil, err
	}
	if err := led.persist(); err != nil {
		return nil, err
	}
	return positionAssets, nil
}

// RepayAtMaturity settles up to positionAssets of the borrower's fixed debt
// at the given maturity. Early repayments earn a discount funded by the
// pool's unassigned earnings; late repayments pay a linear per-second
// penalty. The amount actually transferred is returned and must not exceed
// maxAssetsAllowed.
func (e *Engine) RepayAtMaturity(borrower crypto.Address, maturity uint64, positionAssets, maxAssetsAllowed *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.GuardAction(e.pauses, moduleName, actionFixedRepay); err != nil {
		return nil, err
	}
	if positionAssets == nil || positionAssets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	now := e.now()
	if err := e.validateMaturity(maturity, now, false); err != nil {
		return nil, err
	}

	position, err := e.loadBorrowPosition(maturity, borrower)
	if err != nil {
		return nil, err
	}
	if position.Empty() {
		return nil, ErrNoDebtToRepay
	}

	floating, err := e.loadFloating(now)
	if err != nil {
		return nil, err
	}
	fees, err := e.loadFees()
	if err != nil {
		return nil, err
	}
	e.accrueFloating(floating, fees, now)

	pool, err := e.loadPool(maturity, now)
	if err != nil {
		return nil, err
	}
	backupShare, treasuryShare := pool.Accrue(maturity, now)
	routeAccruedEarnings(floating, backupShare, treasuryShare)

	covered := minBig(positionAssets, position.Total())
	scaled := position.ScaleProportionally(covered)
	actual := cloneBig(covered)

	if now < maturity {
		// Covering principal early frees backup capital, so the repayer is
		// granted the same discount a depositor would earn.
		discount, backupFee := pool.CalculateDeposit(scaled.Principal, e.params.BackupFeeRate)
		consumed := new(big.Int).Add(discount, backupFee)
		pool.UnassignedEarnings = new(big.Int).Sub(pool.UnassignedEarnings, consumed)
		floating.EarningsAccumulator = new(big.Int).Add(floating.EarningsAccumulator, backupFee)
		actual.Sub(actual, discount)
	} else if now > maturity {
		perSecond := new(big.Int).Mul(e.params.PenaltyRate, new(big.Int).SetUint64(now-maturity))
		penalty := mulWadDown(covered, perSecond)
		actual.Add(actual, penalty)
		floating.EarningsAccumulator = new(big.Int).Add(floating.EarningsAccumulator, penalty)
	}

	if maxAssetsAllowed != nil && actual.Cmp(maxAssetsAllowed) > 0 {
		return nil, ErrTooMuchSlippage
	}

	released, err := pool.Repay(covered)
	if err != nil {
		return nil, err
	}
	floating.BackupBorrowed = new(big.Int).Sub(floating.BackupBorrowed, released)
	floating.TotalFixedBorrowed = new(big.Int).Sub(floating.TotalFixedBorrowed, covered)

	led := e.newLedger()
	if err := led.transfer(borrower, e.moduleAddress, actual); err != nil {
		return nil, err
	}

	position.ReduceProportionally(covered)
	user, err := e.loadUser(borrower)
	if err != nil {
		return nil, err
	}
	if position.Empty() {
		user.FixedBorrows = removeMaturity(user.FixedBorrows, maturity)
	}

	if err := e.persistFixed(maturity, pool, floating, fees); err != nil {
		return nil, err
	}
	if err := e.state.PutBorrowPosition(e.params.Asset, maturity, borrower, position); err != nil {
		return nil, err
	}
	if err := e.state.PutUserAccount(e.params.Asset, user); err != nil {
		return nil, err
	}
	if err := led.persist(); err != nil {
		return nil, err
	}
	return actual, nil
}

// WithdrawAtMaturity redeems up to positionAssets of the owner's fixed
// deposit. Before maturity the claim is discounted back at the current fixed
// rate; afterwards it redeems at face value. The amount transferred out is
// returned and must reach minAssetsRequired.
func (e *Engine) WithdrawAtMaturity(owner crypto.Address, maturity uint64, positionAssets, minAssetsRequired *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.GuardAction(e.pauses, moduleName, actionFixedWithdraw); err != nil {
		return nil, err
	}
	if positionAssets == nil || positionAssets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	now := e.now()
	if err := e.validateMaturity(maturity, now, false); err != nil {
		return nil, err
	}

	position, err := e.loadDepositPosition(maturity, owner)
	if err != nil {
		return nil, err
	}
	if position.Empty() {
		return nil, ErrNoPosition
	}

	floating, err := e.loadFloating(now)
	if err != nil {
		return nil, err
	}
	fees, err := e.loadFees()
	if err != nil {
		return nil, err
	}
	e.accrueFloating(floating, fees, now)

	pool, err := e.loadPool(maturity, now)
	if err != nil {
		return nil, err
	}
	backupShare, treasuryShare := pool.Accrue(maturity, now)
	routeAccruedEarnings(floating, backupShare, treasuryShare)

	covered := minBig(positionAssets, position.Total())
	scaled := position.ScaleProportionally(covered)
	actual := cloneBig(covered)

	if now < maturity {
		rate := e.interestModel.FixedRate(pool, floating, maturity, now)
		periodRate := mulDivUp(ratToWadUp(rate), new(big.Int).SetUint64(maturity-now), secondsPerYear)
		actual = divWadDown(covered, new(big.Int).Add(wad, periodRate))
		// The value the early withdrawer leaves behind stays with the pool.
		forgone := new(big.Int).Sub(covered, actual)
		pool.UnassignedEarnings = new(big.Int).Add(pool.UnassignedEarnings, forgone)
	}
	if minAssetsRequired != nil && actual.Cmp(minAssetsRequired) < 0 {
		return nil, ErrTooMuchSlippage
	}

	delta, err := pool.Withdraw(scaled.Principal, maxBackupDebt(pool, floating))
	if err != nil {
		return nil, err
	}
	floating.BackupBorrowed = new(big.Int).Add(floating.BackupBorrowed, delta)

	led := e.newLedger()
	moduleAcc, err := led.account(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	if moduleAcc.Balance(e.params.Asset).Cmp(actual) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	if err := led.transfer(e.moduleAddress, owner, actual); err != nil {
		return nil, err
	}

	position.ReduceProportionally(covered)
	user, err := e.loadUser(owner)
	if err != nil {
		return nil, err
	}
	if position.Empty() {
		user.FixedDeposits = removeMaturity(user.FixedDeposits, maturity)
	}

	if err := e.persistFixed(maturity, pool, floating, fees); err != nil {
		return nil, err
	}
	if err := e.state.PutDepositPosition(e.params.Asset, maturity, owner, position); err != nil {
		return nil, err
	}
	if err := e.state.PutUserAccount(e.params.Asset, user); err != nil {
		return nil, err
	}
	if err := led.persist(); err != nil {
		return nil, err
	}
	return actual, nil
}

func (e *Engine) persistFixed(maturity uint64, pool *Pool, floating *FloatingState, fees *FeeAccrual) error {
	if err := e.state.PutFixedPool(e.params.Asset, maturity, pool); err != nil {
		return err
	}
	if err := e.state.PutFloatingState(e.params.Asset, floating); err != nil {
		return err
	}
	return e.state.PutFeeAccrual(e.params.Asset, fees)
}
