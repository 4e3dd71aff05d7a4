package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics exposes gauge views of each market's pool state so operators
// can watch liquidity and debt without querying the RPC surface.
type MarketMetrics struct {
	floatingAssets   *prometheus.GaugeVec
	floatingBorrowed *prometheus.GaugeVec
	backupBorrowed   *prometheus.GaugeVec
	fixedBorrowed    *prometheus.GaugeVec
	treasuryFees     *prometheus.GaugeVec
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the lazily-initialised market state metrics registry.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			floatingAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "termlend_floating_assets",
				Help: "Assets held by the floating pool per market.",
			}, []string{"market"}),
			floatingBorrowed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "termlend_floating_borrowed",
				Help: "Outstanding floating-rate debt per market.",
			}, []string{"market"}),
			backupBorrowed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "termlend_backup_borrowed",
				Help: "Floating liquidity lent to fixed pools per market.",
			}, []string{"market"}),
			fixedBorrowed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "termlend_fixed_borrowed",
				Help: "Outstanding fixed-rate debt across all maturities per market.",
			}, []string{"market"}),
			treasuryFees: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "termlend_treasury_fees",
				Help: "Treasury earnings awaiting withdrawal per market.",
			}, []string{"market"}),
		}
		prometheus.MustRegister(
			marketRegistry.floatingAssets,
			marketRegistry.floatingBorrowed,
			marketRegistry.backupBorrowed,
			marketRegistry.fixedBorrowed,
			marketRegistry.treasuryFees,
		)
	})
	return marketRegistry
}

// UpdatePool refreshes the floating pool gauges for one market.
func (m *MarketMetrics) UpdatePool(market string, totalAssets, totalBorrowed, backupBorrowed, fixedBorrowed *big.Int) {
	if m == nil {
		return
	}
	m.floatingAssets.WithLabelValues(market).Set(approximate(totalAssets))
	m.floatingBorrowed.WithLabelValues(market).Set(approximate(totalBorrowed))
	m.backupBorrowed.WithLabelValues(market).Set(approximate(backupBorrowed))
	m.fixedBorrowed.WithLabelValues(market).Set(approximate(fixedBorrowed))
}

// UpdateTreasury refreshes the treasury gauge for one market.
func (m *MarketMetrics) UpdateTreasury(market string, fees *big.Int) {
	if m == nil {
		return
	}
	m.treasuryFees.WithLabelValues(market).Set(approximate(fees))
}

// approximate converts a big integer to float64 for gauge export. Precision
// loss is acceptable here; exact values stay in state.
func approximate(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
