package lending

import (
	"math/big"
	"strconv"
)

// InterestModel is a kinked utilisation curve. Rates are annual and exact.
type InterestModel struct {
	BaseRate *big.Rat
	Slope1   *big.Rat
	Slope2   *big.Rat
	// Kink is the utilisation above which Slope2 applies.
	Kink *big.Rat
}

// NewInterestModel builds a model from decimal inputs, e.g. 0.02 for a 2%
// base rate and 0.8 for an 80% kink.
func NewInterestModel(baseRate, slope1, slope2, kink float64) *InterestModel {
	return &InterestModel{
		BaseRate: decimalRat(baseRate),
		Slope1:   decimalRat(slope1),
		Slope2:   decimalRat(slope2),
		Kink:     decimalRat(kink),
	}
}

// decimalRat reads a float through its shortest decimal form so 0.02 is
// exactly 1/50 rather than the nearest binary fraction.
func decimalRat(v float64) *big.Rat {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(v, 'g', -1, 64))
	if !ok {
		return new(big.Rat)
	}
	return r
}

// DefaultInterestModel is a modest curve used when a market has no explicit
// parameters.
var DefaultInterestModel = NewInterestModel(0.02, 0.15, 0.6, 0.8)

func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		BaseRate: cloneRat(m.BaseRate),
		Slope1:   cloneRat(m.Slope1),
		Slope2:   cloneRat(m.Slope2),
		Kink:     cloneRat(m.Kink),
	}
}

// Utilisation is borrows / supply, zero for an empty market.
func (m *InterestModel) Utilisation(totalBorrows, totalSupply *big.Int) *big.Rat {
	if totalBorrows == nil || totalBorrows.Sign() == 0 || totalSupply == nil || totalSupply.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(totalBorrows, totalSupply)
}

// BorrowAPR evaluates the curve at the current utilisation.
func (m *InterestModel) BorrowAPR(totalBorrows, totalSupply *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	u := m.Utilisation(totalBorrows, totalSupply)
	if u.Sign() == 0 {
		return rate
	}
	kink := cloneRat(m.Kink)
	if kink.Sign() == 0 || u.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), u))
	}
	rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), kink))
	excess := new(big.Rat).Sub(u, kink)
	return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope2), excess))
}

// SupplyAPY is the borrow APR spread over suppliers after reserves.
func (m *InterestModel) SupplyAPY(totalBorrows, totalSupply *big.Int, reserveFactorBps uint64) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	u := m.Utilisation(totalBorrows, totalSupply)
	if u.Sign() == 0 {
		return new(big.Rat)
	}
	if reserveFactorBps > 10_000 {
		reserveFactorBps = 10_000
	}
	keep := new(big.Rat).SetFrac64(int64(10_000-reserveFactorBps), 10_000)
	apy := new(big.Rat).Mul(m.BorrowAPR(totalBorrows, totalSupply), u)
	return apy.Mul(apy, keep)
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}
