package types

import (
	"errors"
	"math/big"
)

// ErrInsufficientBalance is returned when a debit exceeds the available funds.
var ErrInsufficientBalance = errors.New("account: insufficient balance")

// Account is a ledger entry mapping asset symbols to balances. Balances are
// denominated in the asset's smallest unit and held as big integers so that
// 18-decimal amounts never overflow.
type Account struct {
	Balances map[string]*big.Int `json:"balances"`
}

// NewAccount returns an account with an initialised balance table.
func NewAccount() *Account {
	return &Account{Balances: make(map[string]*big.Int)}
}

// Balance returns the balance held for asset, zero when absent. The returned
// value is a copy and safe to mutate.
func (a *Account) Balance(asset string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if balance, ok := a.Balances[asset]; ok && balance != nil {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

// Credit adds amount to the asset balance.
func (a *Account) Credit(asset string, amount *big.Int) {
	if a == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	a.Balances[asset] = new(big.Int).Add(a.Balance(asset), amount)
}

// Debit removes amount from the asset balance, failing when funds are short.
func (a *Account) Debit(asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("account: invalid debit amount")
	}
	balance := a.Balance(asset)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	a.Balances[asset] = balance.Sub(balance, amount)
	return nil
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := NewAccount()
	for asset, balance := range a.Balances {
		if balance != nil {
			clone.Balances[asset] = new(big.Int).Set(balance)
		}
	}
	return clone
}
