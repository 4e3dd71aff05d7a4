package fixedlending

import "math/big"

var (
	wad            = big.NewInt(1_000_000_000_000_000_000) // 1e18 fixed-point unit
	basisPoints    = big.NewInt(10_000)
	secondsPerYear = big.NewInt(365 * 24 * 60 * 60)

	// e^-1 in WAD, truncated.
	expNegOneWad = big.NewInt(367_879_441_171_442_321)
	// Past this exponent e^-x is below one wei of WAD resolution.
	expNegFloor = new(big.Int).Mul(big.NewInt(42), wad)
)

// The engine never rounds symmetrically: amounts owed to the protocol round
// up, amounts owed to users round down.

func mulDivDown(a, b, denominator *big.Int) *big.Int {
	if a == nil || b == nil || denominator == nil || denominator.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, denominator)
}

func mulDivUp(a, b, denominator *big.Int) *big.Int {
	if a == nil || b == nil || denominator == nil || denominator.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	if product.Sign() == 0 {
		return product
	}
	product.Sub(product, big.NewInt(1))
	product.Quo(product, denominator)
	return product.Add(product, big.NewInt(1))
}

func mulWadDown(a, b *big.Int) *big.Int {
	return mulDivDown(a, b, wad)
}

func mulWadUp(a, b *big.Int) *big.Int {
	return mulDivUp(a, b, wad)
}

func divWadDown(a, b *big.Int) *big.Int {
	return mulDivDown(a, wad, b)
}

func divWadUp(a, b *big.Int) *big.Int {
	return mulDivUp(a, wad, b)
}

func minBig(a, b *big.Int) *big.Int {
	if a == nil {
		return cloneBig(b)
	}
	if b == nil || a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// ratToWadUp converts a rational rate into WAD representation rounding up,
// so borrow fees never lose dust in the protocol's disfavour.
func ratToWadUp(r *big.Rat) *big.Int {
	if r == nil || r.Sign() <= 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(wad))
	return mulDivUp(scaled.Num(), big.NewInt(1), scaled.Denom())
}

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// expNegWad evaluates e^-x for a non-negative WAD exponent, in WAD. The
// integer part is folded in through repeated multiplication by e^-1 and the
// fractional remainder through an alternating Taylor series, so the result
// is identical on every platform.
func expNegWad(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return new(big.Int).Set(wad)
	}
	if x.Cmp(expNegFloor) >= 0 {
		return big.NewInt(0)
	}
	whole := new(big.Int).Quo(x, wad)
	frac := new(big.Int).Rem(x, wad)

	result := expNegFracWad(frac)
	for i := uint64(0); i < whole.Uint64(); i++ {
		result = mulWadDown(result, expNegOneWad)
	}
	return result
}

// expNegFracWad sums the Taylor series of e^-f for f in [0, 1) WAD. Terms
// shrink by at least f/k each step, so the series is exhausted well before
// the iteration cap.
func expNegFracWad(f *big.Int) *big.Int {
	sum := new(big.Int).Set(wad)
	term := new(big.Int).Set(wad)
	for k := int64(1); k < 32; k++ {
		term = new(big.Int).Mul(term, f)
		term.Quo(term, wad)
		term.Quo(term, big.NewInt(k))
		if term.Sign() == 0 {
			break
		}
		if k%2 == 1 {
			sum.Sub(sum, term)
		} else {
			sum.Add(sum, term)
		}
	}
	if sum.Sign() < 0 {
		return big.NewInt(0)
	}
	return sum
}
