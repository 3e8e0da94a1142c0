package events

import (
	"math/big"
	"strconv"

	"poolrewards/core/types"
	"poolrewards/crypto"
)

const (
	// TypeRewardsIndexUpdated is emitted when a market index is refreshed.
	TypeRewardsIndexUpdated = "rewards.index_updated"
	// TypeRewardsUserSettled is emitted when a user is settled against the
	// market index.
	TypeRewardsUserSettled = "rewards.user_settled"
	// TypeRewardsSpeedUpdated is emitted when an admin changes market speeds.
	TypeRewardsSpeedUpdated = "rewards.speed_updated"
)

// RewardsIndexUpdated captures a market index refresh.
type RewardsIndexUpdated struct {
	Distributor crypto.Address
	Market      crypto.Address
	Side        string
	Index       *big.Int
	Block       uint64
}

func (RewardsIndexUpdated) EventType() string { return TypeRewardsIndexUpdated }

func (e RewardsIndexUpdated) Event() *types.Event {
	return &types.Event{Type: TypeRewardsIndexUpdated, Attributes: map[string]string{
		"distributor": e.Distributor.String(),
		"market":      e.Market.String(),
		"side":        e.Side,
		"index":       amountString(e.Index),
		"block":       strconv.FormatUint(e.Block, 10),
	}}
}

// RewardsUserSettled captures the credit applied to one user.
type RewardsUserSettled struct {
	Distributor crypto.Address
	Token       string
	Market      crypto.Address
	Side        string
	User        crypto.Address
	Balance     *big.Int
	Index       *big.Int
	Reward      *big.Int
	Accrued     *big.Int
}

func (RewardsUserSettled) EventType() string { return TypeRewardsUserSettled }

func (e RewardsUserSettled) Event() *types.Event {
	attrs := map[string]string{
		"distributor": e.Distributor.String(),
		"market":      e.Market.String(),
		"side":        e.Side,
		"user":        e.User.String(),
		"balance":     amountString(e.Balance),
		"index":       amountString(e.Index),
		"reward":      amountString(e.Reward),
		"accrued":     amountString(e.Accrued),
	}
	if token := normalizeAsset(e.Token); token != "" {
		attrs["token"] = token
	}
	return &types.Event{Type: TypeRewardsUserSettled, Attributes: attrs}
}

// RewardsSpeedUpdated records a speed change for both sides of a market.
type RewardsSpeedUpdated struct {
	Distributor crypto.Address
	Market      crypto.Address
	SupplySpeed *big.Int
	BorrowSpeed *big.Int
	Block       uint64
}

func (RewardsSpeedUpdated) EventType() string { return TypeRewardsSpeedUpdated }

func (e RewardsSpeedUpdated) Event() *types.Event {
	return &types.Event{Type: TypeRewardsSpeedUpdated, Attributes: map[string]string{
		"distributor":  e.Distributor.String(),
		"market":       e.Market.String(),
		"supply_speed": amountString(e.SupplySpeed),
		"borrow_speed": amountString(e.BorrowSpeed),
		"block":        strconv.FormatUint(e.Block, 10),
	}}
}
