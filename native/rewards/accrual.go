package rewards

import (
	"fmt"
	"math/big"
)

// EffectiveSnapshot applies the bootstrap rule: a user with no snapshot
// starts from the baseline once the market index has reached it, so growth
// that happened before they held a balance is never credited.
func EffectiveSnapshot(globalIndex, snapshot *big.Int) *big.Int {
	if (snapshot == nil || snapshot.Sign() == 0) && globalIndex != nil && globalIndex.Cmp(indexMantissaBig) >= 0 {
		return IndexMantissa()
	}
	if snapshot == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(snapshot)
}

// ComputeDelta returns the reward earned by balance between the user's
// snapshot and the current market index. It does not touch state.
func ComputeDelta(globalIndex, snapshot, balance *big.Int) (*big.Int, error) {
	reward, _, err := computeDelta(globalIndex, snapshot, balance)
	return reward, err
}

func computeDelta(globalIndex, snapshot, balance *big.Int) (*big.Int, *big.Int, error) {
	from := EffectiveSnapshot(globalIndex, snapshot)
	global := globalIndex
	if global == nil {
		global = new(big.Int)
	}
	if from.Cmp(global) > 0 {
		return nil, nil, fmt.Errorf("%w: snapshot %s ahead of market index %s", ErrInvariantViolation, from, global)
	}
	globalU, err := toU256(global)
	if err != nil {
		return nil, nil, err
	}
	fromU, err := toU256(from)
	if err != nil {
		return nil, nil, err
	}
	balanceU, err := toU256(balance)
	if err != nil {
		return nil, nil, err
	}
	delta, err := indexDelta(globalU, fromU)
	if err != nil {
		return nil, nil, err
	}
	if delta.IsZero() || balanceU.IsZero() {
		return big.NewInt(0), from, nil
	}
	reward, err := mulDiv(balanceU, delta, mantissa)
	if err != nil {
		return nil, nil, err
	}
	return reward.ToBig(), from, nil
}
