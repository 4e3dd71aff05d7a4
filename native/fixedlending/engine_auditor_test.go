package fixedlending_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"termlend/core/types"
	"termlend/crypto"
	"termlend/native/auditor"
	"termlend/native/fixedlending"
	"termlend/state"
	"termlend/storage"
)

// These tests wire a real auditor to a real engine the same way marketd
// does: the auditor is the engine's risk controller and the engine's risk
// view is registered as an auditor market. Every guarded call runs with a
// deadline because a regression here surfaces as a hang, not a failure.

var oneWad = big.NewInt(1_000_000_000_000_000_000)

func marketAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.MustNewAddress(crypto.TLPrefix, raw)
}

func newAuditedMarket(t *testing.T) (*fixedlending.Engine, *state.Manager) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	engine := fixedlending.NewEngine(marketAddress(0xff), fixedlending.MarketParameters{
		Asset:          "TUSD",
		Interval:       100,
		MaxFuturePools: 3,
	})
	engine.SetState(manager)
	engine.SetClock(func() uint64 { return 1000 })

	oracle := auditor.NewStaticOracle(map[string]*big.Int{"TUSD": oneWad})
	risk := auditor.New(oracle)
	engine.SetRiskController(risk)
	if err := risk.RegisterMarket(engine.RiskView(), auditor.MarketRisk{}); err != nil {
		t.Fatalf("register market: %v", err)
	}
	return engine, manager
}

func fundLedger(t *testing.T, manager *state.Manager, addr crypto.Address, amount int64) {
	t.Helper()
	account := types.NewAccount()
	account.Credit("TUSD", big.NewInt(amount))
	if err := manager.PutAccount(addr, account); err != nil {
		t.Fatalf("fund account: %v", err)
	}
}

// call runs op with a deadline so an engine operation that never returns
// fails the test instead of wedging the run.
func call(t *testing.T, name string, op func() (*big.Int, error)) (*big.Int, error) {
	t.Helper()
	type outcome struct {
		value *big.Int
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := op()
		done <- outcome{value: value, err: err}
	}()
	select {
	case result := <-done:
		return result.value, result.err
	case <-time.After(5 * time.Second):
		t.Fatalf("%s did not return", name)
		return nil, nil
	}
}

func TestAuditedMarketOperationsComplete(t *testing.T) {
	engine, manager := newAuditedMarket(t)
	account := marketAddress(0x02)
	fundLedger(t, manager, account, 10_000)

	if _, err := engine.Supply(account, big.NewInt(1000)); err != nil {
		t.Fatalf("supply: %v", err)
	}

	borrowed, err := call(t, "BorrowFloating", func() (*big.Int, error) {
		return engine.BorrowFloating(account, big.NewInt(100))
	})
	if err != nil {
		t.Fatalf("floating borrow: %v", err)
	}
	if borrowed.Sign() <= 0 {
		t.Fatalf("expected borrow shares, got %s", borrowed)
	}

	position, err := call(t, "BorrowAtMaturity", func() (*big.Int, error) {
		return engine.BorrowAtMaturity(account, 1100, big.NewInt(200), nil)
	})
	if err != nil {
		t.Fatalf("fixed borrow: %v", err)
	}
	if position.Cmp(big.NewInt(200)) < 0 {
		t.Fatalf("position should cover principal plus fee, got %s", position)
	}

	assets, err := call(t, "WithdrawFloating", func() (*big.Int, error) {
		return engine.WithdrawFloating(account, big.NewInt(100))
	})
	if err != nil {
		t.Fatalf("floating withdraw: %v", err)
	}
	if assets.Sign() <= 0 {
		t.Fatalf("expected redeemed assets, got %s", assets)
	}
}

func TestAuditedMarketVetoesUndercollateralisedBorrow(t *testing.T) {
	engine, manager := newAuditedMarket(t)
	account := marketAddress(0x03)
	fundLedger(t, manager, account, 10_000)

	if _, err := engine.Supply(account, big.NewInt(1000)); err != nil {
		t.Fatalf("supply: %v", err)
	}

	// The default adjust factor is 0.8: 1000 of collateral supports at most
	// 800 of adjusted debt, and a 1000 draw values at 1250.
	_, err := call(t, "BorrowFloating", func() (*big.Int, error) {
		return engine.BorrowFloating(account, big.NewInt(1000))
	})
	if !errors.Is(err, auditor.ErrUndercollateralised) {
		t.Fatalf("expected undercollateralised veto, got %v", err)
	}

	if _, err := call(t, "BorrowFloating", func() (*big.Int, error) {
		return engine.BorrowFloating(account, big.NewInt(100))
	}); err != nil {
		t.Fatalf("collateralised borrow rejected: %v", err)
	}
}

func TestAuditedMarketAllowsUnencumberedWithdrawal(t *testing.T) {
	engine, manager := newAuditedMarket(t)
	account := marketAddress(0x04)
	fundLedger(t, manager, account, 5000)

	shares, err := engine.Supply(account, big.NewInt(2000))
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	assets, err := call(t, "WithdrawFloating", func() (*big.Int, error) {
		return engine.WithdrawFloating(account, shares)
	})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if assets.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("full redemption should return the deposit, got %s", assets)
	}
}
