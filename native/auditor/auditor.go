package auditor

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"termlend/crypto"
)

var (
	errMarketUnknown       = errors.New("auditor: market not registered")
	errOracleNotConfigured = errors.New("auditor: price oracle not configured")
	errInvalidAmount       = errors.New("auditor: amount must be positive")

	// ErrUndercollateralised is returned when an operation would leave the
	// account's debt value above its adjusted collateral value.
	ErrUndercollateralised = errors.New("auditor: position would be undercollateralised")
)

var wad = big.NewInt(1_000_000_000_000_000_000)

// PriceOracle supplies asset prices in WAD units of the reference currency.
type PriceOracle interface {
	Price(asset string) (*big.Int, error)
}

// MarketView is the per-market surface the auditor values positions through.
type MarketView interface {
	MarketID() string
	AccountSnapshot(addr crypto.Address) (collateral, debt *big.Int, err error)
}

// MarketRisk holds the auditor's per-market risk settings.
type MarketRisk struct {
	// AdjustFactor discounts collateral and inflates debt, in WAD. A factor
	// of 0.8 means 100 of collateral supports at most 80 of debt value.
	AdjustFactor *big.Int
}

// EnsureDefaults fills in a conservative adjust factor when unset.
func (r *MarketRisk) EnsureDefaults() {
	if r == nil {
		return
	}
	if r.AdjustFactor == nil || r.AdjustFactor.Sign() <= 0 {
		r.AdjustFactor = new(big.Int).Quo(new(big.Int).Mul(wad, big.NewInt(8)), big.NewInt(10))
	}
}

type registeredMarket struct {
	view MarketView
	risk MarketRisk
}

// Auditor aggregates positions across every registered market and vetoes
// borrows and collateral withdrawals that would leave an account
// undercollateralised. It implements the engines' risk controller interface.
type Auditor struct {
	mu      sync.RWMutex
	oracle  PriceOracle
	markets map[string]registeredMarket
}

// New returns an auditor with no markets registered.
func New(oracle PriceOracle) *Auditor {
	return &Auditor{
		oracle:  oracle,
		markets: make(map[string]registeredMarket),
	}
}

// SetOracle swaps the price source.
func (a *Auditor) SetOracle(oracle PriceOracle) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.oracle = oracle
}

// RegisterMarket enrolls a market so its positions count toward account
// health. Registering the same id again replaces the previous entry.
func (a *Auditor) RegisterMarket(view MarketView, risk MarketRisk) error {
	if a == nil || view == nil {
		return errMarketUnknown
	}
	id := view.MarketID()
	if id == "" {
		return fmt.Errorf("auditor: market id required")
	}
	risk.AdjustFactor = cloneBig(risk.AdjustFactor)
	risk.EnsureDefaults()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markets[id] = registeredMarket{view: view, risk: risk}
	return nil
}

// accountLimits sums the adjusted collateral value and debt value of an
// account across every registered market. Collateral is discounted by the
// adjust factor and rounds down; debt is inflated by it and rounds up.
func (a *Auditor) accountLimits(addr crypto.Address) (adjustedCollateral, adjustedDebt *big.Int, err error) {
	if a.oracle == nil {
		return nil, nil, errOracleNotConfigured
	}
	adjustedCollateral, adjustedDebt = big.NewInt(0), big.NewInt(0)

	ids := make([]string, 0, len(a.markets))
	for id := range a.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		market := a.markets[id]
		collateral, debt, err := market.view.AccountSnapshot(addr)
		if err != nil {
			return nil, nil, fmt.Errorf("auditor: snapshot %s: %w", id, err)
		}
		price, err := a.oracle.Price(id)
		if err != nil {
			return nil, nil, fmt.Errorf("auditor: price %s: %w", id, err)
		}
		if collateral != nil && collateral.Sign() > 0 {
			value := mulWadDown(collateral, price)
			adjustedCollateral.Add(adjustedCollateral, mulWadDown(value, market.risk.AdjustFactor))
		}
		if debt != nil && debt.Sign() > 0 {
			value := mulWadUp(debt, price)
			adjustedDebt.Add(adjustedDebt, divWadUp(value, market.risk.AdjustFactor))
		}
	}
	return adjustedCollateral, adjustedDebt, nil
}

// ValidateBorrow vetoes a borrow of amount in marketID when the account's
// debt, including the new draw, would exceed its adjusted collateral.
func (a *Auditor) ValidateBorrow(marketID string, borrower crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	market, ok := a.markets[marketID]
	if !ok {
		return errMarketUnknown
	}
	collateral, debt, err := a.accountLimits(borrower)
	if err != nil {
		return err
	}
	price, err := a.oracle.Price(marketID)
	if err != nil {
		return fmt.Errorf("auditor: price %s: %w", marketID, err)
	}
	extra := divWadUp(mulWadUp(amount, price), market.risk.AdjustFactor)
	debt.Add(debt, extra)
	if debt.Cmp(collateral) > 0 {
		return ErrUndercollateralised
	}
	return nil
}

// ValidateWithdraw vetoes removing assets of collateral from marketID when
// the remaining collateral would no longer cover the account's debt.
func (a *Auditor) ValidateWithdraw(marketID string, owner crypto.Address, assets *big.Int) error {
	if assets == nil || assets.Sign() <= 0 {
		return errInvalidAmount
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	market, ok := a.markets[marketID]
	if !ok {
		return errMarketUnknown
	}
	collateral, debt, err := a.accountLimits(owner)
	if err != nil {
		return err
	}
	if debt.Sign() == 0 {
		return nil
	}
	price, err := a.oracle.Price(marketID)
	if err != nil {
		return fmt.Errorf("auditor: price %s: %w", marketID, err)
	}
	// Removed collateral rounds up so a withdrawal can never squeak through
	// on rounding dust.
	removed := mulWadUp(mulWadUp(assets, price), market.risk.AdjustFactor)
	collateral.Sub(collateral, removed)
	if debt.Cmp(collateral) > 0 {
		return ErrUndercollateralised
	}
	return nil
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func mulWadDown(a, b *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, wad)
}

func mulWadUp(a, b *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	if product.Sign() == 0 {
		return product
	}
	product.Sub(product, big.NewInt(1))
	product.Quo(product, wad)
	return product.Add(product, big.NewInt(1))
}

func divWadUp(a, b *big.Int) *big.Int {
	if b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, wad)
	if product.Sign() == 0 {
		return product
	}
	product.Sub(product, big.NewInt(1))
	product.Quo(product, b)
	return product.Add(product, big.NewInt(1))
}
