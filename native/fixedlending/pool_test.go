package fixedlending

import (
	"math/big"
	"testing"
)

func TestAccrueSplitsEarningsBetweenBackupAndTreasury(t *testing.T) {
	const day = uint64(24 * 60 * 60)
	start := uint64(1_700_000_000)
	maturity := start + 70*day

	pool := &Pool{
		Borrowed:           big.NewInt(1000),
		Supplied:           big.NewInt(800),
		BackupBorrowed:     big.NewInt(200),
		UnassignedEarnings: big.NewInt(100),
		LastAccrual:        start,
	}

	backup, treasury := pool.Accrue(maturity, start+35*day)
	if backup.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected backup share: got %s want 10", backup)
	}
	if treasury.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected treasury share: got %s want 40", treasury)
	}
	if pool.UnassignedEarnings.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected remaining earnings: got %s want 50", pool.UnassignedEarnings)
	}
	if pool.LastAccrual != start+35*day {
		t.Fatalf("unexpected last accrual: got %d", pool.LastAccrual)
	}
}

func TestAccrueClampsAtMaturity(t *testing.T) {
	start := uint64(1000)
	maturity := start + 100

	pool := &Pool{
		Borrowed:           big.NewInt(500),
		Supplied:           big.NewInt(500),
		BackupBorrowed:     big.NewInt(0),
		UnassignedEarnings: big.NewInt(77),
		LastAccrual:        start,
	}

	// Well past maturity: the whole remainder is recognised exactly once.
	backup, treasury := pool.Accrue(maturity, maturity+5000)
	if backup.Sign() != 0 {
		t.Fatalf("no backup debt, expected zero backup share, got %s", backup)
	}
	if treasury.Cmp(big.NewInt(77)) != 0 {
		t.Fatalf("unexpected treasury share: got %s want 77", treasury)
	}
	if pool.UnassignedEarnings.Sign() != 0 {
		t.Fatalf("earnings should be exhausted, got %s", pool.UnassignedEarnings)
	}
	if pool.LastAccrual != maturity {
		t.Fatalf("last accrual should clamp to maturity, got %d", pool.LastAccrual)
	}

	// A second accrual after settlement must be a no-op.
	backup, treasury = pool.Accrue(maturity, maturity+9000)
	if backup.Sign() != 0 || treasury.Sign() != 0 {
		t.Fatalf("settled pool accrued again: backup %s treasury %s", backup, treasury)
	}
}

func TestAccrueZeroBorrowedRoutesAllToTreasury(t *testing.T) {
	pool := &Pool{
		Borrowed:           big.NewInt(0),
		Supplied:           big.NewInt(0),
		BackupBorrowed:     big.NewInt(0),
		UnassignedEarnings: big.NewInt(40),
		LastAccrual:        0,
	}
	backup, treasury := pool.Accrue(100, 50)
	if backup.Sign() != 0 {
		t.Fatalf("unexpected backup share: %s", backup)
	}
	if treasury.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("unexpected treasury share: got %s want 20", treasury)
	}
}

func TestLiquidityNettingRoundTrip(t *testing.T) {
	pool := NewPool(1000, 0)

	released := pool.Deposit(big.NewInt(1000))
	if released.Sign() != 0 {
		t.Fatalf("deposit into empty pool released backup debt: %s", released)
	}

	delta, err := pool.Borrow(big.NewInt(1500), big.NewInt(10_000))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if delta.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected backup draw: got %s want 500", delta)
	}
	if pool.BackupBorrowed.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected backup borrowed: %s", pool.BackupBorrowed)
	}
	if pool.Borrowed.Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("unexpected borrowed: %s", pool.Borrowed)
	}

	released, err = pool.Repay(big.NewInt(500))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if released.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected release: got %s want 500", released)
	}
	if pool.BackupBorrowed.Sign() != 0 {
		t.Fatalf("backup debt should be cleared, got %s", pool.BackupBorrowed)
	}
	if pool.Borrowed.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected borrowed after repay: %s", pool.Borrowed)
	}

	// Funding invariant: debt never exceeds supplied plus backup.
	funded := new(big.Int).Add(pool.Supplied, pool.BackupBorrowed)
	if pool.Borrowed.Cmp(funded) > 0 {
		t.Fatalf("debt %s exceeds funding %s", pool.Borrowed, funded)
	}
}

func TestBorrowRejectsWhenBackupCapExhausted(t *testing.T) {
	pool := NewPool(1000, 0)
	pool.Deposit(big.NewInt(100))

	if _, err := pool.Borrow(big.NewInt(500), big.NewInt(300)); err != ErrInsufficientBackupLiquidity {
		t.Fatalf("expected backup liquidity error, got %v", err)
	}
	// Failed borrows must leave the pool untouched.
	if pool.Borrowed.Sign() != 0 || pool.BackupBorrowed.Sign() != 0 {
		t.Fatalf("failed borrow mutated pool: borrowed %s backup %s", pool.Borrowed, pool.BackupBorrowed)
	}
}

func TestWithdrawShiftsDebtOntoBackup(t *testing.T) {
	pool := NewPool(1000, 0)
	pool.Deposit(big.NewInt(1000))
	if _, err := pool.Borrow(big.NewInt(800), big.NewInt(0)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	delta, err := pool.Withdraw(big.NewInt(600), big.NewInt(1000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if delta.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected backup draw: got %s want 400", delta)
	}
	if pool.Supplied.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected supplied: %s", pool.Supplied)
	}

	if _, err := pool.Withdraw(big.NewInt(500), big.NewInt(1000)); err != ErrInsufficientPoolSupply {
		t.Fatalf("expected pool supply error, got %v", err)
	}
}

func TestRepayExceedingDebtFails(t *testing.T) {
	pool := NewPool(1000, 0)
	pool.Deposit(big.NewInt(100))
	if _, err := pool.Borrow(big.NewInt(100), big.NewInt(0)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := pool.Repay(big.NewInt(101)); err != ErrRepayExceedsDebt {
		t.Fatalf("expected repay exceeds debt error, got %v", err)
	}
}

func TestCalculateDepositSplitsYieldAndFee(t *testing.T) {
	pool := &Pool{
		Borrowed:           big.NewInt(1500),
		Supplied:           big.NewInt(1000),
		BackupBorrowed:     big.NewInt(500),
		UnassignedEarnings: big.NewInt(100),
	}
	tenPercent := big.NewInt(100_000_000_000_000_000)

	yield, fee := pool.CalculateDeposit(big.NewInt(500), tenPercent)
	if yield.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("unexpected yield: got %s want 90", yield)
	}
	if fee.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected backup fee: got %s want 10", fee)
	}

	// Deposits beyond the backup debt earn nothing extra.
	yieldBig, feeBig := pool.CalculateDeposit(big.NewInt(10_000), tenPercent)
	if yieldBig.Cmp(yield) != 0 || feeBig.Cmp(fee) != 0 {
		t.Fatalf("oversized deposit changed the split: yield %s fee %s", yieldBig, feeBig)
	}

	// The preview itself must not mutate the pool.
	if pool.UnassignedEarnings.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("preview consumed earnings: %s", pool.UnassignedEarnings)
	}
}

func TestPositionScaleProportionally(t *testing.T) {
	position := &Position{Principal: big.NewInt(1000), Fee: big.NewInt(100)}

	scaled := position.ScaleProportionally(big.NewInt(550))
	if scaled.Principal.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected scaled principal: %s", scaled.Principal)
	}
	if scaled.Fee.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected scaled fee: %s", scaled.Fee)
	}

	position.ReduceProportionally(big.NewInt(550))
	if position.Principal.Cmp(big.NewInt(500)) != 0 || position.Fee.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected remainder: principal %s fee %s", position.Principal, position.Fee)
	}

	// Scaled part plus remainder always reconstruct the original total.
	sum := new(big.Int).Add(scaled.Principal, scaled.Fee)
	sum.Add(sum, position.Total())
	if sum.Cmp(big.NewInt(1100)) != 0 {
		t.Fatalf("scale lost value: total %s", sum)
	}
}

func TestPositionScaleWithAwkwardRatio(t *testing.T) {
	position := &Position{Principal: big.NewInt(997), Fee: big.NewInt(31)}
	original := position.Total()

	scaled := position.ScaleProportionally(big.NewInt(333))
	position.ReduceProportionally(big.NewInt(333))

	sum := new(big.Int).Add(scaled.Principal, scaled.Fee)
	sum.Add(sum, position.Total())
	if sum.Cmp(original) != 0 {
		t.Fatalf("scale lost value: got %s want %s", sum, original)
	}
	if position.Principal.Sign() < 0 || position.Fee.Sign() < 0 {
		t.Fatalf("negative remainder: principal %s fee %s", position.Principal, position.Fee)
	}
}
