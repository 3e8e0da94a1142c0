package events

import (
	"math/big"
	"strconv"

	"poolrewards/core/types"
	"poolrewards/crypto"
)

// TypeMarketOperation is emitted after a balance-affecting market operation
// has been applied.
const TypeMarketOperation = "lending.operation"

// MarketOperation summarises a committed mint, redeem, borrow, repay,
// transfer or seize.
type MarketOperation struct {
	Market       crypto.Address
	Operation    string
	Account      crypto.Address
	Counterparty crypto.Address
	Amount       *big.Int
	BorrowIndex  *big.Int
	Block        uint64
}

func (MarketOperation) EventType() string { return TypeMarketOperation }

func (e MarketOperation) Event() *types.Event {
	attrs := map[string]string{
		"market":       e.Market.String(),
		"operation":    e.Operation,
		"account":      e.Account.String(),
		"amount":       amountString(e.Amount),
		"borrow_index": amountString(e.BorrowIndex),
		"block":        strconv.FormatUint(e.Block, 10),
	}
	if !e.Counterparty.IsZero() {
		attrs["counterparty"] = e.Counterparty.String()
	}
	return &types.Event{Type: TypeMarketOperation, Attributes: attrs}
}
