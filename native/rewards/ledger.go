package rewards

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// RefreshIndex advances a market index to currentBlock given the
// interest-bearing total of the side and its per-block speed. The input is
// never mutated. changed reports whether the returned state differs from the
// input.
//
// A block at or before LastUpdatedBlock is a no-op. When the total or the
// speed is zero only the block advances. Borrow totals must already be
// normalised (see NormalizeBorrow).
func RefreshIndex(current *MarketIndexState, currentBlock uint64, total, speed *big.Int) (*MarketIndexState, bool, error) {
	if current == nil {
		return nil, false, fmt.Errorf("%w: market index not initialised", ErrInvariantViolation)
	}
	next := current.Clone()
	if next.Index == nil || next.Index.Sign() == 0 {
		next.Index = IndexMantissa()
	}
	if next.Index.Cmp(indexMantissaBig) < 0 {
		return nil, false, fmt.Errorf("%w: market index %s below baseline", ErrInvariantViolation, next.Index)
	}
	if currentBlock <= next.LastUpdatedBlock {
		return next, false, nil
	}
	elapsed := currentBlock - next.LastUpdatedBlock
	next.LastUpdatedBlock = currentBlock

	totalU, err := toU256(total)
	if err != nil {
		return nil, false, err
	}
	speedU, err := toU256(speed)
	if err != nil {
		return nil, false, err
	}
	if totalU.IsZero() || speedU.IsZero() {
		return next, true, nil
	}

	accrued, err := mul(speedU, uint256.NewInt(elapsed))
	if err != nil {
		return nil, false, err
	}
	deltaIndex, err := mulDiv(accrued, indexMantissa, totalU)
	if err != nil {
		return nil, false, err
	}
	indexU, err := toU256(next.Index)
	if err != nil {
		return nil, false, err
	}
	updated, err := add(indexU, deltaIndex)
	if err != nil {
		return nil, false, err
	}
	next.Index = updated.ToBig()
	return next, true, nil
}
