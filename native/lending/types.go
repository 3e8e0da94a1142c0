package lending

import "math/big"

// Market captures the aggregate accounting of one lending market. Amounts are
// denominated in the market's underlying asset with 18 decimals.
type Market struct {
	// TotalSupply is the sum of every supplier balance.
	TotalSupply *big.Int
	// TotalBorrows is the outstanding debt including accrued interest.
	TotalBorrows *big.Int
	// TotalReserves is the protocol share of accrued interest.
	TotalReserves *big.Int
	// Cash is the underlying held by the market and available to borrow or
	// redeem.
	Cash *big.Int
	// BorrowIndex is the cumulative interest index, Mantissa scaled, starting
	// at one.
	BorrowIndex *big.Int
	// LastUpdateBlock records the block height when interest was last
	// accrued.
	LastUpdateBlock uint64
}

// Position is one account's standing in one market.
type Position struct {
	SupplyBalance *big.Int
	// BorrowPrincipal is the debt as of the last borrow or repay, measured
	// when the market index was BorrowIndex.
	BorrowPrincipal *big.Int
	BorrowIndex     *big.Int
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Clone returns a deep copy of the market with nil amounts zeroed.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	return &Market{
		TotalSupply:     cloneInt(m.TotalSupply),
		TotalBorrows:    cloneInt(m.TotalBorrows),
		TotalReserves:   cloneInt(m.TotalReserves),
		Cash:            cloneInt(m.Cash),
		BorrowIndex:     cloneInt(m.BorrowIndex),
		LastUpdateBlock: m.LastUpdateBlock,
	}
}

// Clone returns a deep copy of the position with nil amounts zeroed.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	return &Position{
		SupplyBalance:   cloneInt(p.SupplyBalance),
		BorrowPrincipal: cloneInt(p.BorrowPrincipal),
		BorrowIndex:     cloneInt(p.BorrowIndex),
	}
}
