package fixedlending

import "math/big"

// Accrue recognises the share of UnassignedEarnings earned since the last
// accrual, proportional to elapsed time over remaining pool life. It returns
// the split of the recognised amount: the part owed to floating (backup)
// suppliers and the part owed to the treasury. Accrual must run before any
// other mutation of the pool within the same operation.
func (p *Pool) Accrue(maturity, now uint64) (backup, treasury *big.Int) {
	backup, treasury = big.NewInt(0), big.NewInt(0)
	if p == nil {
		return backup, treasury
	}
	p.EnsureDefaults()
	if p.LastAccrual >= maturity {
		// Settled: the whole pool life has already been recognised.
		return backup, treasury
	}
	current := now
	if current > maturity {
		current = maturity
	}
	if current <= p.LastAccrual {
		return backup, treasury
	}
	elapsed := new(big.Int).SetUint64(current - p.LastAccrual)
	total := new(big.Int).SetUint64(maturity - p.LastAccrual)

	earnings := mulDivDown(p.UnassignedEarnings, elapsed, total)
	p.UnassignedEarnings = new(big.Int).Sub(p.UnassignedEarnings, earnings)
	p.LastAccrual = current

	if p.Borrowed.Sign() == 0 {
		// Nothing is borrowed so no backup capital is at work; everything
		// recognised goes to the treasury.
		return backup, earnings
	}
	backup = mulDivDown(earnings, p.BackupBorrowed, p.Borrowed)
	treasury = new(big.Int).Sub(earnings, backup)
	return backup, treasury
}

// Borrow adds amount to the pool's debt. Whatever maturity suppliers cannot
// fund is drawn from the floating pool as backup debt, capped at
// maxBackupDebt. The increase in backup debt is returned.
func (p *Pool) Borrow(amount, maxBackupDebt *big.Int) (*big.Int, error) {
	if p == nil || amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0), ErrInvalidAmount
	}
	p.EnsureDefaults()
	newBorrowed := new(big.Int).Add(p.Borrowed, amount)
	funded := new(big.Int).Add(p.Supplied, p.BackupBorrowed)
	delta := big.NewInt(0)
	if newBorrowed.Cmp(funded) > 0 {
		delta = new(big.Int).Sub(newBorrowed, funded)
		newBackup := new(big.Int).Add(p.BackupBorrowed, delta)
		if maxBackupDebt == nil || newBackup.Cmp(maxBackupDebt) > 0 {
			return big.NewInt(0), ErrInsufficientBackupLiquidity
		}
		p.BackupBorrowed = newBackup
	}
	p.Borrowed = newBorrowed
	return delta, nil
}

// Withdraw removes amount of directly supplied principal from the pool. If
// the remaining supply no longer covers the debt the difference shifts onto
// the floating pool as backup debt, capped at maxBackupDebt. The increase in
// backup debt is returned.
func (p *Pool) Withdraw(amount, maxBackupDebt *big.Int) (*big.Int, error) {
	if p == nil || amount == nil || amount.Sign() < 0 {
		return big.NewInt(0), ErrInvalidAmount
	}
	p.EnsureDefaults()
	if amount.Cmp(p.Supplied) > 0 {
		return big.NewInt(0), ErrInsufficientPoolSupply
	}
	newSupplied := new(big.Int).Sub(p.Supplied, amount)
	funded := new(big.Int).Add(newSupplied, p.BackupBorrowed)
	delta := big.NewInt(0)
	if p.Borrowed.Cmp(funded) > 0 {
		delta = new(big.Int).Sub(p.Borrowed, funded)
		newBackup := new(big.Int).Add(p.BackupBorrowed, delta)
		if maxBackupDebt == nil || newBackup.Cmp(maxBackupDebt) > 0 {
			return big.NewInt(0), ErrInsufficientBackupLiquidity
		}
		p.BackupBorrowed = newBackup
	}
	p.Supplied = newSupplied
	return delta, nil
}

// Deposit adds directly supplied principal. New deposits pay down backup
// debt before growing net pool supply; the amount of backup debt released
// back to the floating pool is returned.
func (p *Pool) Deposit(amount *big.Int) *big.Int {
	if p == nil || amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	p.EnsureDefaults()
	released := minBig(p.BackupBorrowed, amount)
	p.BackupBorrowed = new(big.Int).Sub(p.BackupBorrowed, released)
	p.Supplied = new(big.Int).Add(p.Supplied, amount)
	return released
}

// Repay removes amount from the pool's debt, releasing backup debt first.
// The amount of backup debt released back to the floating pool is returned.
func (p *Pool) Repay(amount *big.Int) (*big.Int, error) {
	if p == nil || amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0), ErrInvalidAmount
	}
	p.EnsureDefaults()
	if amount.Cmp(p.Borrowed) > 0 {
		return big.NewInt(0), ErrRepayExceedsDebt
	}
	released := minBig(p.BackupBorrowed, amount)
	p.BackupBorrowed = new(big.Int).Sub(p.BackupBorrowed, released)
	p.Borrowed = new(big.Int).Sub(p.Borrowed, amount)
	return released, nil
}

// CalculateDeposit previews the yield granted for depositing (or covering
// with a repayment) amount of principal, and the treasury cut taken from it.
// The preview is pure; callers consume yield+backupFee from
// UnassignedEarnings once they commit. Yield rounds down, against the
// depositor.
func (p *Pool) CalculateDeposit(amount, backupFeeRate *big.Int) (yield, backupFee *big.Int) {
	yield, backupFee = big.NewInt(0), big.NewInt(0)
	if p == nil || amount == nil || amount.Sign() <= 0 {
		return yield, backupFee
	}
	p.EnsureDefaults()
	if p.BackupBorrowed.Sign() == 0 || p.UnassignedEarnings.Sign() == 0 {
		return yield, backupFee
	}
	gross := mulDivDown(p.UnassignedEarnings, minBig(amount, p.BackupBorrowed), p.BackupBorrowed)
	backupFee = mulWadDown(gross, backupFeeRate)
	yield = new(big.Int).Sub(gross, backupFee)
	return yield, backupFee
}
