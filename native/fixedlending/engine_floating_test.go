package fixedlending

import (
	"math/big"
	"testing"
)

func TestSupplyMintsSharesAtPoolPrice(t *testing.T) {
	supplier := makeAddress(0x20)
	state := newMockEngineState()
	state.setBalance(supplier, 1500)

	engine := newTestEngine(state, 0)

	shares, err := engine.Supply(supplier, big.NewInt(1000))
	if err != nil {
		t.Fatalf("bootstrap supply: %v", err)
	}
	if shares.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("bootstrap should mint one to one: got %s", shares)
	}

	// Double the share price, then supply again.
	state.floating.TotalAssets = big.NewInt(2000)
	shares, err = engine.Supply(supplier, big.NewInt(500))
	if err != nil {
		t.Fatalf("second supply: %v", err)
	}
	if shares.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("unexpected shares at doubled price: got %s want 250", shares)
	}

	user := state.users[state.key(supplier)]
	if user.SupplyShares.Cmp(big.NewInt(1250)) != 0 {
		t.Fatalf("unexpected share balance: %s", user.SupplyShares)
	}
	if state.floating.TotalAssets.Cmp(big.NewInt(2500)) != 0 {
		t.Fatalf("unexpected total assets: %s", state.floating.TotalAssets)
	}
}

func TestWithdrawFloatingRespectsFreeLiquidity(t *testing.T) {
	supplier := makeAddress(0x21)
	module := makeAddress(0x01)

	state := newMockEngineState()
	state.floating = &FloatingState{
		TotalAssets:    big.NewInt(1000),
		TotalShares:    big.NewInt(1000),
		BackupBorrowed: big.NewInt(700),
	}
	state.users[state.key(supplier)] = &UserAccount{
		Address:      supplier,
		SupplyShares: big.NewInt(1000),
	}
	state.setBalance(module, 1000)

	engine := newTestEngine(state, 0)

	// 700 is lent to fixed pools, so only 300 can leave.
	if _, err := engine.WithdrawFloating(supplier, big.NewInt(400)); err != ErrInsufficientLiquidity {
		t.Fatalf("expected liquidity error, got %v", err)
	}

	assets, err := engine.WithdrawFloating(supplier, big.NewInt(300))
	if err != nil {
		t.Fatalf("withdraw floating: %v", err)
	}
	if assets.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("unexpected assets: got %s want 300", assets)
	}
	if state.balance(supplier).Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("supplier balance: %s", state.balance(supplier))
	}
	if state.floating.TotalShares.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("unexpected total shares: %s", state.floating.TotalShares)
	}
}

func TestWithdrawFloatingInsufficientShares(t *testing.T) {
	supplier := makeAddress(0x22)
	state := newMockEngineState()
	state.floating = &FloatingState{
		TotalAssets: big.NewInt(1000),
		TotalShares: big.NewInt(1000),
	}
	engine := newTestEngine(state, 0)
	if _, err := engine.WithdrawFloating(supplier, big.NewInt(1)); err != ErrInsufficientShares {
		t.Fatalf("expected share balance error, got %v", err)
	}
}

func TestBorrowFloatingLifecycle(t *testing.T) {
	borrower := makeAddress(0x23)
	module := makeAddress(0x01)

	state := newMockEngineState()
	state.floating = &FloatingState{
		TotalAssets: big.NewInt(1000),
		TotalShares: big.NewInt(1000),
	}
	state.setBalance(module, 1000)

	engine := newTestEngine(state, 0)
	engine.SetRiskController(&stubRisk{})

	shares, err := engine.BorrowFloating(borrower, big.NewInt(600))
	if err != nil {
		t.Fatalf("borrow floating: %v", err)
	}
	if shares.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("unexpected debt shares: got %s want 600", shares)
	}
	if state.balance(borrower).Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("borrower balance: %s", state.balance(borrower))
	}

	// Only 400 of free liquidity remains.
	if _, err := engine.BorrowFloating(borrower, big.NewInt(500)); err != ErrInsufficientLiquidity {
		t.Fatalf("expected liquidity error, got %v", err)
	}

	repaid, err := engine.RepayFloating(borrower, big.NewInt(1000))
	if err != nil {
		t.Fatalf("repay floating: %v", err)
	}
	if repaid.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("unexpected repayment: got %s want 600", repaid)
	}
	user := state.users[state.key(borrower)]
	if user.BorrowShares.Sign() != 0 {
		t.Fatalf("debt shares not burned: %s", user.BorrowShares)
	}
	if state.floating.TotalBorrowed.Sign() != 0 || state.floating.TotalBorrowShares.Sign() != 0 {
		t.Fatalf("pool debt not cleared: %s / %s", state.floating.TotalBorrowed, state.floating.TotalBorrowShares)
	}
}

func TestBorrowFloatingCap(t *testing.T) {
	state := newMockEngineState()
	state.floating = &FloatingState{TotalAssets: big.NewInt(1000)}
	state.setBalance(makeAddress(0x01), 1000)

	engine := newTestEngine(state, 0)
	engine.SetRiskController(&stubRisk{})
	engine.params.Caps.TotalFloating = big.NewInt(500)

	if _, err := engine.BorrowFloating(makeAddress(0x24), big.NewInt(600)); err != ErrBorrowCapExceeded {
		t.Fatalf("expected cap error, got %v", err)
	}
}

func TestRepayFloatingWithoutDebt(t *testing.T) {
	state := newMockEngineState()
	state.floating = &FloatingState{}
	engine := newTestEngine(state, 0)
	if _, err := engine.RepayFloating(makeAddress(0x25), big.NewInt(10)); err != ErrNoDebtToRepay {
		t.Fatalf("expected no debt error, got %v", err)
	}
}

func TestWithdrawTreasuryFees(t *testing.T) {
	recipient := makeAddress(0x26)
	module := makeAddress(0x01)

	state := newMockEngineState()
	state.fees = &FeeAccrual{TreasuryFees: big.NewInt(150)}
	state.setBalance(module, 200)

	engine := newTestEngine(state, 0)

	withdrawn, err := engine.WithdrawTreasuryFees(recipient, big.NewInt(100))
	if err != nil {
		t.Fatalf("withdraw treasury fees: %v", err)
	}
	if withdrawn.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected withdrawal: %s", withdrawn)
	}
	if state.balance(recipient).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("recipient balance: %s", state.balance(recipient))
	}
	if state.fees.TreasuryFees.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected remaining fees: %s", state.fees.TreasuryFees)
	}

	if _, err := engine.WithdrawTreasuryFees(recipient, big.NewInt(100)); err != ErrTreasuryFeesExceeded {
		t.Fatalf("expected fee balance error, got %v", err)
	}
}
