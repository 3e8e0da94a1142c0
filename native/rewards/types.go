package rewards

import (
	"fmt"
	"math/big"
	"strings"

	"poolrewards/crypto"
)

// Side selects one of the two independent index tracks of a market.
type Side uint8

const (
	SideSupply Side = iota + 1
	SideBorrow
)

// Sides lists both sides in settlement order.
var Sides = []Side{SideSupply, SideBorrow}

func (s Side) String() string {
	switch s {
	case SideSupply:
		return "supply"
	case SideBorrow:
		return "borrow"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Valid reports whether s names a known side.
func (s Side) Valid() bool {
	return s == SideSupply || s == SideBorrow
}

// ParseSide maps the textual form back to a Side.
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "supply":
		return SideSupply, nil
	case "borrow":
		return SideBorrow, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSide, raw)
	}
}

// MarketIndexState is the global index of one (distributor, market, side).
type MarketIndexState struct {
	// Index is scaled by IndexMantissa and never decreases.
	Index *big.Int
	// LastUpdatedBlock is the block of the most recent refresh.
	LastUpdatedBlock uint64
}

// NewMarketIndexState returns the baseline state of a market first observed
// at block.
func NewMarketIndexState(block uint64) *MarketIndexState {
	return &MarketIndexState{Index: IndexMantissa(), LastUpdatedBlock: block}
}

// Clone returns a deep copy of the state.
func (s *MarketIndexState) Clone() *MarketIndexState {
	if s == nil {
		return nil
	}
	clone := &MarketIndexState{LastUpdatedBlock: s.LastUpdatedBlock}
	if s.Index != nil {
		clone.Index = new(big.Int).Set(s.Index)
	}
	return clone
}

// ParticipantSnapshot is the market index a user was last settled against.
type ParticipantSnapshot struct {
	Index *big.Int
}

// Clone returns a deep copy of the snapshot.
func (s *ParticipantSnapshot) Clone() *ParticipantSnapshot {
	if s == nil {
		return nil
	}
	clone := &ParticipantSnapshot{}
	if s.Index != nil {
		clone.Index = new(big.Int).Set(s.Index)
	}
	return clone
}

// Speeds holds the per-block reward emission of a market, Mantissa scaled.
type Speeds struct {
	Supply *big.Int
	Borrow *big.Int
}

// For returns the speed of the requested side, never nil.
func (s *Speeds) For(side Side) *big.Int {
	if s == nil {
		return big.NewInt(0)
	}
	var v *big.Int
	switch side {
	case SideSupply:
		v = s.Supply
	case SideBorrow:
		v = s.Borrow
	}
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Clone returns a deep copy of the speeds.
func (s *Speeds) Clone() *Speeds {
	if s == nil {
		return nil
	}
	return &Speeds{Supply: s.For(SideSupply), Borrow: s.For(SideBorrow)}
}

// Settlement describes the outcome of settling one user.
type Settlement struct {
	Distributor crypto.Address
	Market      crypto.Address
	Side        Side
	User        crypto.Address
	// Balance is the interest-bearing balance the reward was priced on.
	// Borrow balances are already normalised to principal.
	Balance *big.Int
	// FromIndex is the effective snapshot after bootstrapping.
	FromIndex *big.Int
	// ToIndex is the market index the snapshot now points at.
	ToIndex *big.Int
	// Reward is the amount credited by this settlement.
	Reward *big.Int
	// Accrued is the user's total after the credit.
	Accrued *big.Int
}
