package auditor

import (
	"errors"
	"math/big"
	"sync"
)

// ErrPriceUnavailable is returned when no price has been posted for an asset.
var ErrPriceUnavailable = errors.New("auditor: price unavailable")

// StaticOracle is a posted-price oracle: an operator (or a price feed
// adapter) pushes WAD prices and markets read them. Suitable for stablecoin
// markets and for tests.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]*big.Int
}

// NewStaticOracle returns an oracle with the given initial prices.
func NewStaticOracle(prices map[string]*big.Int) *StaticOracle {
	oracle := &StaticOracle{prices: make(map[string]*big.Int)}
	for asset, price := range prices {
		if price != nil && price.Sign() > 0 {
			oracle.prices[asset] = new(big.Int).Set(price)
		}
	}
	return oracle
}

// SetPrice posts a new price for an asset. Non-positive prices remove it.
func (o *StaticOracle) SetPrice(asset string, price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if price == nil || price.Sign() <= 0 {
		delete(o.prices, asset)
		return
	}
	o.prices[asset] = new(big.Int).Set(price)
}

// Price returns the posted WAD price for an asset.
func (o *StaticOracle) Price(asset string) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[asset]
	if !ok {
		return nil, ErrPriceUnavailable
	}
	return new(big.Int).Set(price), nil
}
