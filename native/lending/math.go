package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	mantissa    = big.NewInt(1_000_000_000_000_000_000)
)

const blocksPerYear = 10_512_000

// Mantissa returns the scale of the borrow index.
func Mantissa() *big.Int {
	return new(big.Int).Set(mantissa)
}

// mulMantissa computes a*b/1e18, truncating.
func mulMantissa(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, mantissa)
}

func mulBps(a *big.Int, bps uint64) *big.Int {
	if a == nil || bps == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, new(big.Int).SetUint64(bps))
	return product.Quo(product, basisPoints)
}

// simpleInterestFactor converts an annual rate into the Mantissa scaled
// interest owed per unit of debt over delta blocks.
func simpleInterestFactor(rate *big.Rat, delta uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || delta == 0 {
		return big.NewInt(0)
	}
	perBlock := new(big.Rat).Quo(rate, new(big.Rat).SetUint64(blocksPerYear))
	perBlock.Mul(perBlock, new(big.Rat).SetUint64(delta))
	perBlock.Mul(perBlock, new(big.Rat).SetInt(mantissa))
	return new(big.Int).Quo(perBlock.Num(), perBlock.Denom())
}

// borrowBalance scales a stored principal from the index it was recorded at
// to the current market index.
func borrowBalance(principal, recordedIndex, marketIndex *big.Int) *big.Int {
	if principal == nil || principal.Sign() == 0 || recordedIndex == nil || recordedIndex.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(principal, marketIndex)
	return scaled.Quo(scaled, recordedIndex)
}
