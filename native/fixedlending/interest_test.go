package fixedlending

import (
	"math/big"
	"testing"
)

// Model parameters in these tests are dyadic fractions so the float64
// constructor represents them exactly and rates compare equal as rationals.

func TestCurveBelowAndAboveKink(t *testing.T) {
	model := NewInterestModel(0.25, 0.5, 2.0, 0.5, 0)

	if got := model.curve(new(big.Rat)); got.Cmp(big.NewRat(1, 4)) != 0 {
		t.Fatalf("zero utilisation: got %s", got.RatString())
	}
	// 25% utilisation: 0.25 + 0.5*0.25 = 0.375
	if got := model.curve(big.NewRat(1, 4)); got.Cmp(big.NewRat(3, 8)) != 0 {
		t.Fatalf("below kink: got %s", got.RatString())
	}
	// 75% utilisation: 0.25 + 0.5*0.5 + 2.0*0.25 = 1.0
	if got := model.curve(big.NewRat(3, 4)); got.Cmp(big.NewRat(1, 1)) != 0 {
		t.Fatalf("above kink: got %s", got.RatString())
	}
}

func TestFloatingRateCountsBackupDebt(t *testing.T) {
	model := NewInterestModel(0, 0.5, 0, 1, 0)

	// 300 floating debt plus 200 backup debt over 1000 average assets.
	got := model.FloatingRate(big.NewInt(300), big.NewInt(200), big.NewInt(1000))
	if got.Cmp(big.NewRat(1, 4)) != 0 {
		t.Fatalf("got %s want 1/4", got.RatString())
	}

	// Without backup debt the rate drops.
	lower := model.FloatingRate(big.NewInt(300), big.NewInt(0), big.NewInt(1000))
	if lower.Cmp(got) >= 0 {
		t.Fatalf("backup debt did not raise the rate: %s vs %s", lower.RatString(), got.RatString())
	}
}

func TestFixedRateUsesWorstUtilisation(t *testing.T) {
	model := NewInterestModel(0, 0.5, 0, 1, 0)

	pool := &Pool{
		Borrowed:       big.NewInt(900),
		Supplied:       big.NewInt(1000),
		BackupBorrowed: big.NewInt(0),
	}
	floating := &FloatingState{
		TotalAssets:    big.NewInt(10_000),
		AssetsAverage:  big.NewInt(10_000),
		TotalBorrowed:  big.NewInt(1000),
		BackupBorrowed: big.NewInt(0),
	}

	// Pool utilisation 90% dominates the global 10%.
	got := model.FixedRate(pool, floating, 100, 100)
	if got.Cmp(big.NewRat(9, 20)) != 0 {
		t.Fatalf("got %s want 9/20", got.RatString())
	}

	// Flip it: an idle pool inherits the global utilisation.
	idle := &Pool{Borrowed: big.NewInt(0), Supplied: big.NewInt(1000), BackupBorrowed: big.NewInt(0)}
	got = model.FixedRate(idle, floating, 100, 100)
	if got.Cmp(big.NewRat(1, 20)) != 0 {
		t.Fatalf("got %s want 1/20", got.RatString())
	}
}

func TestFixedRateAddsTermPremium(t *testing.T) {
	model := NewInterestModel(0.25, 0, 0, 1, 0.5)
	year := uint64(365 * 24 * 60 * 60)

	got := model.FixedRate(nil, nil, year, 0)
	// One full year to maturity adds the whole spread: 0.25 + 0.5.
	if got.Cmp(big.NewRat(3, 4)) != 0 {
		t.Fatalf("got %s want 3/4", got.RatString())
	}

	half := model.FixedRate(nil, nil, year/2, 0)
	if half.Cmp(got) >= 0 {
		t.Fatalf("shorter maturity should quote lower: %s vs %s", half.RatString(), got.RatString())
	}
}

func TestUtilisationDegenerateInputs(t *testing.T) {
	model := DefaultInterestModel
	if got := model.Utilisation(big.NewInt(0), big.NewInt(100)); got.Sign() != 0 {
		t.Fatalf("zero borrowed: got %s", got.RatString())
	}
	if got := model.Utilisation(big.NewInt(100), big.NewInt(0)); got.Sign() != 0 {
		t.Fatalf("zero supplied: got %s", got.RatString())
	}
	if got := model.Utilisation(nil, nil); got.Sign() != 0 {
		t.Fatalf("nil inputs: got %s", got.RatString())
	}
}
