package fixedlending

import (
	"math/big"

	"termlend/crypto"
)

// Pool is the aggregate accounting state of one fixed-maturity pool. All
// amounts are denominated in the market asset's smallest unit.
type Pool struct {
	// Borrowed is the total principal plus fee owed by borrowers at this
	// maturity.
	Borrowed *big.Int `json:"borrowed"`
	// Supplied is the principal deposited directly by maturity suppliers.
	Supplied *big.Int `json:"supplied"`
	// BackupBorrowed is the share of Borrowed funded by the floating pool
	// rather than by maturity suppliers.
	BackupBorrowed *big.Int `json:"backupBorrowed"`
	// UnassignedEarnings holds fees not yet recognised as belonging to any
	// party. It only grows when new fixed debt is taken out and shrinks
	// monotonically through accrual.
	UnassignedEarnings *big.Int `json:"unassignedEarnings"`
	// LastAccrual is the Unix timestamp of the last earnings recognition,
	// capped at the pool maturity.
	LastAccrual uint64 `json:"lastAccrual"`
}

// NewPool returns a pool whose accrual clock starts at now, clamped to the
// maturity so pools touched late never accrue retroactively.
func NewPool(maturity, now uint64) *Pool {
	start := now
	if start > maturity {
		start = maturity
	}
	return &Pool{
		Borrowed:           big.NewInt(0),
		Supplied:           big.NewInt(0),
		BackupBorrowed:     big.NewInt(0),
		UnassignedEarnings: big.NewInt(0),
		LastAccrual:        start,
	}
}

// EnsureDefaults populates nil big.Int fields so decoded pools are safe to
// operate on.
func (p *Pool) EnsureDefaults() {
	if p == nil {
		return
	}
	if p.Borrowed == nil {
		p.Borrowed = big.NewInt(0)
	}
	if p.Supplied == nil {
		p.Supplied = big.NewInt(0)
	}
	if p.BackupBorrowed == nil {
		p.BackupBorrowed = big.NewInt(0)
	}
	if p.UnassignedEarnings == nil {
		p.UnassignedEarnings = big.NewInt(0)
	}
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := &Pool{LastAccrual: p.LastAccrual}
	clone.Borrowed = cloneBig(p.Borrowed)
	clone.Supplied = cloneBig(p.Supplied)
	clone.BackupBorrowed = cloneBig(p.BackupBorrowed)
	clone.UnassignedEarnings = cloneBig(p.UnassignedEarnings)
	return clone
}

// Settled reports whether the pool is fully wound down: matured, repaid and
// with no earnings left to recognise.
func (p *Pool) Settled(maturity uint64) bool {
	if p == nil {
		return false
	}
	return p.LastAccrual == maturity &&
		(p.Borrowed == nil || p.Borrowed.Sign() == 0) &&
		(p.UnassignedEarnings == nil || p.UnassignedEarnings.Sign() == 0)
}

// Position records the principal and fee components of a fixed-rate claim.
// For borrows the fee is owed interest, for deposits it is promised yield.
type Position struct {
	Principal *big.Int `json:"principal"`
	Fee       *big.Int `json:"fee"`
}

// NewPosition returns an empty position.
func NewPosition() *Position {
	return &Position{Principal: big.NewInt(0), Fee: big.NewInt(0)}
}

// EnsureDefaults populates nil components of a decoded position.
func (p *Position) EnsureDefaults() {
	if p == nil {
		return
	}
	if p.Principal == nil {
		p.Principal = big.NewInt(0)
	}
	if p.Fee == nil {
		p.Fee = big.NewInt(0)
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	return &Position{Principal: cloneBig(p.Principal), Fee: cloneBig(p.Fee)}
}

// Total returns principal plus fee.
func (p *Position) Total() *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Add(cloneBig(p.Principal), cloneBig(p.Fee))
}

// Empty reports whether both components are zero.
func (p *Position) Empty() bool {
	return p == nil ||
		((p.Principal == nil || p.Principal.Sign() == 0) &&
			(p.Fee == nil || p.Fee.Sign() == 0))
}

// ScaleProportionally carves a partial position worth amount out of p while
// preserving the principal to fee ratio. The scaled part and the remainder
// left in p sum exactly to the original position.
func (p *Position) ScaleProportionally(amount *big.Int) Position {
	total := p.Total()
	if total.Sign() == 0 || amount == nil || amount.Sign() <= 0 {
		return Position{Principal: big.NewInt(0), Fee: big.NewInt(0)}
	}
	capped := minBig(amount, total)
	principal := mulDivDown(cloneBig(p.Principal), capped, total)
	fee := new(big.Int).Sub(capped, principal)
	return Position{Principal: principal, Fee: fee}
}

// ReduceProportionally shrinks the position by amount, splitting the
// reduction between principal and fee at the position's current ratio.
func (p *Position) ReduceProportionally(amount *big.Int) {
	if p == nil {
		return
	}
	scaled := p.ScaleProportionally(amount)
	p.Principal = new(big.Int).Sub(cloneBig(p.Principal), scaled.Principal)
	p.Fee = new(big.Int).Sub(cloneBig(p.Fee), scaled.Fee)
}

// FloatingState is the aggregate state of the open-ended floating pool that
// backs every fixed maturity.
type FloatingState struct {
	// TotalAssets is the liquidity owned by floating suppliers, including
	// earnings already recognised in their favour.
	TotalAssets *big.Int `json:"totalAssets"`
	// TotalShares is the supply of floating pool shares outstanding.
	TotalShares *big.Int `json:"totalShares"`
	// TotalBorrowed is the floating-rate debt outstanding, excluding backup
	// debt lent to fixed pools.
	TotalBorrowed *big.Int `json:"totalBorrowed"`
	// TotalBorrowShares is the supply of floating debt shares outstanding.
	TotalBorrowShares *big.Int `json:"totalBorrowShares"`
	// BackupBorrowed is the sum of every maturity pool's BackupBorrowed.
	BackupBorrowed *big.Int `json:"backupBorrowed"`
	// TotalFixedBorrowed is the sum of every maturity pool's Borrowed, kept
	// for cap enforcement and reporting.
	TotalFixedBorrowed *big.Int `json:"totalFixedBorrowed"`
	// EarningsAccumulator smooths treasury-bound earnings before release.
	EarningsAccumulator *big.Int `json:"earningsAccumulator"`
	// AssetsAverage is the damped moving average of TotalAssets used as the
	// utilisation denominator by the rate model.
	AssetsAverage *big.Int `json:"assetsAverage"`
	// LastAccrual is the Unix timestamp of the last floating accrual.
	LastAccrual uint64 `json:"lastAccrual"`
}

// NewFloatingState returns a floating pool with its accrual clock at now.
func NewFloatingState(now uint64) *FloatingState {
	return &FloatingState{
		TotalAssets:         big.NewInt(0),
		TotalShares:         big.NewInt(0),
		TotalBorrowed:       big.NewInt(0),
		TotalBorrowShares:   big.NewInt(0),
		BackupBorrowed:      big.NewInt(0),
		TotalFixedBorrowed:  big.NewInt(0),
		EarningsAccumulator: big.NewInt(0),
		AssetsAverage:       big.NewInt(0),
		LastAccrual:         now,
	}
}

// EnsureDefaults populates nil big.Int fields of a decoded floating state.
func (f *FloatingState) EnsureDefaults() {
	if f == nil {
		return
	}
	if f.TotalAssets == nil {
		f.TotalAssets = big.NewInt(0)
	}
	if f.TotalShares == nil {
		f.TotalShares = big.NewInt(0)
	}
	if f.TotalBorrowed == nil {
		f.TotalBorrowed = big.NewInt(0)
	}
	if f.TotalBorrowShares == nil {
		f.TotalBorrowShares = big.NewInt(0)
	}
	if f.BackupBorrowed == nil {
		f.BackupBorrowed = big.NewInt(0)
	}
	if f.TotalFixedBorrowed == nil {
		f.TotalFixedBorrowed = big.NewInt(0)
	}
	if f.EarningsAccumulator == nil {
		f.EarningsAccumulator = big.NewInt(0)
	}
	if f.AssetsAverage == nil {
		f.AssetsAverage = big.NewInt(0)
	}
}

// Clone returns a deep copy of the floating state.
func (f *FloatingState) Clone() *FloatingState {
	if f == nil {
		return nil
	}
	return &FloatingState{
		TotalAssets:         cloneBig(f.TotalAssets),
		TotalShares:         cloneBig(f.TotalShares),
		TotalBorrowed:       cloneBig(f.TotalBorrowed),
		TotalBorrowShares:   cloneBig(f.TotalBorrowShares),
		BackupBorrowed:      cloneBig(f.BackupBorrowed),
		TotalFixedBorrowed:  cloneBig(f.TotalFixedBorrowed),
		EarningsAccumulator: cloneBig(f.EarningsAccumulator),
		AssetsAverage:       cloneBig(f.AssetsAverage),
		LastAccrual:         f.LastAccrual,
	}
}

// FreeLiquidity returns the floating assets not already lent out either as
// floating debt or as backup for fixed pools. This is the hard cap on any
// operation that takes liquidity out of the floating pool.
func (f *FloatingState) FreeLiquidity() *big.Int {
	if f == nil {
		return big.NewInt(0)
	}
	free := cloneBig(f.TotalAssets)
	free.Sub(free, cloneBig(f.TotalBorrowed))
	free.Sub(free, cloneBig(f.BackupBorrowed))
	if free.Sign() < 0 {
		return big.NewInt(0)
	}
	return free
}

// UserAccount tracks one participant's footprint in a market.
type UserAccount struct {
	// Address identifies the participant on the ledger.
	Address crypto.Address `json:"-"`
	// SupplyShares is the participant's floating pool share balance.
	SupplyShares *big.Int `json:"supplyShares"`
	// BorrowShares is the participant's floating debt share balance.
	BorrowShares *big.Int `json:"borrowShares"`
	// FixedBorrows lists the maturities where the account has open borrow
	// positions, kept sorted for deterministic iteration.
	FixedBorrows []uint64 `json:"fixedBorrows"`
	// FixedDeposits lists the maturities with open deposit positions.
	FixedDeposits []uint64 `json:"fixedDeposits"`
}

// NewUserAccount returns an empty account for addr.
func NewUserAccount(addr crypto.Address) *UserAccount {
	return &UserAccount{
		Address:      addr,
		SupplyShares: big.NewInt(0),
		BorrowShares: big.NewInt(0),
	}
}

// EnsureDefaults populates nil fields of a decoded user account.
func (u *UserAccount) EnsureDefaults() {
	if u == nil {
		return
	}
	if u.SupplyShares == nil {
		u.SupplyShares = big.NewInt(0)
	}
	if u.BorrowShares == nil {
		u.BorrowShares = big.NewInt(0)
	}
}

// Clone returns a deep copy of the user account.
func (u *UserAccount) Clone() *UserAccount {
	if u == nil {
		return nil
	}
	clone := &UserAccount{
		Address:      u.Address,
		SupplyShares: cloneBig(u.SupplyShares),
		BorrowShares: cloneBig(u.BorrowShares),
	}
	clone.FixedBorrows = append([]uint64(nil), u.FixedBorrows...)
	clone.FixedDeposits = append([]uint64(nil), u.FixedDeposits...)
	return clone
}

func addMaturity(list []uint64, maturity uint64) []uint64 {
	for i, m := range list {
		if m == maturity {
			return list
		}
		if m > maturity {
			list = append(list, 0)
			copy(list[i+1:], list[i:])
			list[i] = maturity
			return list
		}
	}
	return append(list, maturity)
}

func removeMaturity(list []uint64, maturity uint64) []uint64 {
	for i, m := range list {
		if m == maturity {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// FeeAccrual captures treasury earnings awaiting withdrawal.
type FeeAccrual struct {
	TreasuryFees *big.Int `json:"treasuryFees"`
}

// EnsureDefaults populates nil fields of a decoded fee accrual.
func (f *FeeAccrual) EnsureDefaults() {
	if f == nil {
		return
	}
	if f.TreasuryFees == nil {
		f.TreasuryFees = big.NewInt(0)
	}
}

// Clone returns a deep copy of the fee accrual.
func (f *FeeAccrual) Clone() *FeeAccrual {
	if f == nil {
		return nil
	}
	return &FeeAccrual{TreasuryFees: cloneBig(f.TreasuryFees)}
}
