package fixedlending

import (
	"errors"
	"math/big"
	"testing"

	"termlend/crypto"
)

// faultyState injects storage failures on selected writes so the tests can
// check that a half-finished operation leaves no balance movement behind.
type faultyState struct {
	*mockEngineState
	poolErr     error
	positionErr error
}

func (f *faultyState) PutFixedPool(market string, maturity uint64, pool *Pool) error {
	if f.poolErr != nil {
		return f.poolErr
	}
	return f.mockEngineState.PutFixedPool(market, maturity, pool)
}

func (f *faultyState) PutBorrowPosition(market string, maturity uint64, addr crypto.Address, position *Position) error {
	if f.positionErr != nil {
		return f.positionErr
	}
	return f.mockEngineState.PutBorrowPosition(market, maturity, addr, position)
}

func newFaultyEngine(state *faultyState, now uint64) *Engine {
	engine := NewEngine(makeAddress(0x01), MarketParameters{
		Asset:          testAsset,
		Interval:       yearSeconds,
		MaxFuturePools: 3,
	})
	engine.SetState(state)
	engine.SetInterestModel(flatModel())
	engine.SetClock(func() uint64 { return now })
	return engine
}

func TestDepositKeepsLedgerWhenPoolPersistFails(t *testing.T) {
	mock := newMockEngineState()
	state := &faultyState{mockEngineState: mock, poolErr: errors.New("disk full")}
	engine := newFaultyEngine(state, yearSeconds/2)

	supplier := makeAddress(0x02)
	mock.setBalance(supplier, 1000)

	_, err := engine.DepositAtMaturity(supplier, yearSeconds, big.NewInt(400), nil)
	if err == nil {
		t.Fatal("expected persist failure to surface")
	}
	if got := mock.balance(supplier); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("supplier balance moved on failed deposit: %s", got)
	}
	if len(mock.deposits) != 0 {
		t.Fatalf("deposit position written despite failure")
	}
	if _, ok := mock.accounts[mock.key(makeAddress(0x01))]; ok {
		t.Fatal("module account credited despite failure")
	}
}

func TestBorrowKeepsLedgerWhenPositionPersistFails(t *testing.T) {
	now := yearSeconds / 2
	mock := newMockEngineState()
	state := &faultyState{mockEngineState: mock}
	engine := newFaultyEngine(state, now)
	engine.SetRiskController(&stubRisk{})

	supplier := makeAddress(0x02)
	borrower := makeAddress(0x03)
	mock.setBalance(supplier, 1000)
	mock.setBalance(borrower, 500)
	if _, err := engine.Supply(supplier, big.NewInt(1000)); err != nil {
		t.Fatalf("supply: %v", err)
	}

	state.positionErr = errors.New("disk full")
	_, err := engine.BorrowAtMaturity(borrower, yearSeconds, big.NewInt(100), nil)
	if err == nil {
		t.Fatal("expected persist failure to surface")
	}
	if got := mock.balance(borrower); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("borrower credited on failed borrow: %s", got)
	}
	if got := mock.balance(makeAddress(0x01)); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("module balance moved on failed borrow: %s", got)
	}
}
