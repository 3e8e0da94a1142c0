package state

import (
	"encoding/hex"

	"poolrewards/crypto"
)

var (
	blockHeightKey = []byte("chain/height")
	genesisKey     = []byte("chain/genesis")

	rewardIndexPrefix    = "rewards/index/"
	rewardSnapshotPrefix = "rewards/snapshot/"
	rewardAccruedPrefix  = "rewards/accrued/"
	rewardSpeedPrefix    = "rewards/speed/"

	lendingMarketPrefix   = "lending/market/"
	lendingPositionPrefix = "lending/position/"
)

func addrKey(addr crypto.Address) string {
	return hex.EncodeToString(addr.Bytes())
}

func join(prefix string, parts ...string) []byte {
	buf := []byte(prefix)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, '/')
		}
		buf = append(buf, part...)
	}
	return buf
}

// RewardIndexKey locates the index of one distributor, market and side.
func RewardIndexKey(distributor, market crypto.Address, side string) []byte {
	return join(rewardIndexPrefix, addrKey(distributor), addrKey(market), side)
}

// RewardSnapshotKey locates a participant snapshot.
func RewardSnapshotKey(distributor, market crypto.Address, side string, user crypto.Address) []byte {
	return join(rewardSnapshotPrefix, addrKey(distributor), addrKey(market), side, addrKey(user))
}

// RewardAccruedKey locates the accrued balance of a user with a distributor.
func RewardAccruedKey(distributor, user crypto.Address) []byte {
	return join(rewardAccruedPrefix, addrKey(distributor), addrKey(user))
}

// RewardAccruedPrefix is the iteration prefix of every accrued balance held
// with distributor.
func RewardAccruedPrefix(distributor crypto.Address) []byte {
	return join(rewardAccruedPrefix, addrKey(distributor), "")
}

// RewardSpeedKey locates the speeds a distributor pays on a market.
func RewardSpeedKey(distributor, market crypto.Address) []byte {
	return join(rewardSpeedPrefix, addrKey(distributor), addrKey(market))
}

// LendingMarketKey locates the aggregate record of a market.
func LendingMarketKey(market crypto.Address) []byte {
	return join(lendingMarketPrefix, addrKey(market))
}

// LendingPositionKey locates an account position within a market.
func LendingPositionKey(market, account crypto.Address) []byte {
	return join(lendingPositionPrefix, addrKey(market), addrKey(account))
}
