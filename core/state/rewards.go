package state

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"poolrewards/crypto"
	"poolrewards/native/rewards"
)

type storedRewardIndex struct {
	Index            *big.Int
	LastUpdatedBlock uint64
}

type storedRewardSpeeds struct {
	Supply *big.Int
	Borrow *big.Int
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (m *Manager) GetRewardIndex(distributor, market crypto.Address, side rewards.Side) (*rewards.MarketIndexState, error) {
	var stored storedRewardIndex
	ok, err := m.KVGet(RewardIndexKey(distributor, market, side.String()), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &rewards.MarketIndexState{Index: nonNil(stored.Index), LastUpdatedBlock: stored.LastUpdatedBlock}, nil
}

func (m *Manager) PutRewardIndex(distributor, market crypto.Address, side rewards.Side, state *rewards.MarketIndexState) error {
	if state == nil {
		return fmt.Errorf("rewards state: nil market index")
	}
	return m.KVPut(RewardIndexKey(distributor, market, side.String()), &storedRewardIndex{
		Index:            nonNil(state.Index),
		LastUpdatedBlock: state.LastUpdatedBlock,
	})
}

func (m *Manager) GetRewardSnapshot(distributor, market crypto.Address, side rewards.Side, user crypto.Address) (*rewards.ParticipantSnapshot, error) {
	index := new(big.Int)
	ok, err := m.KVGet(RewardSnapshotKey(distributor, market, side.String(), user), index)
	if err != nil || !ok {
		return nil, err
	}
	return &rewards.ParticipantSnapshot{Index: index}, nil
}

func (m *Manager) PutRewardSnapshot(distributor, market crypto.Address, side rewards.Side, user crypto.Address, snapshot *rewards.ParticipantSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("rewards state: nil snapshot")
	}
	return m.KVPut(RewardSnapshotKey(distributor, market, side.String(), user), nonNil(snapshot.Index))
}

func (m *Manager) GetRewardAccrued(distributor, user crypto.Address) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(RewardAccruedKey(distributor, user), amount)
	if err != nil || !ok {
		return nil, err
	}
	return amount, nil
}

func (m *Manager) PutRewardAccrued(distributor, user crypto.Address, amount *big.Int) error {
	return m.KVPut(RewardAccruedKey(distributor, user), nonNil(amount))
}

func (m *Manager) GetRewardSpeeds(distributor, market crypto.Address) (*rewards.Speeds, error) {
	var stored storedRewardSpeeds
	ok, err := m.KVGet(RewardSpeedKey(distributor, market), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &rewards.Speeds{Supply: nonNil(stored.Supply), Borrow: nonNil(stored.Borrow)}, nil
}

func (m *Manager) PutRewardSpeeds(distributor, market crypto.Address, speeds *rewards.Speeds) error {
	return m.KVPut(RewardSpeedKey(distributor, market), &storedRewardSpeeds{
		Supply: speeds.For(rewards.SideSupply),
		Borrow: speeds.For(rewards.SideBorrow),
	})
}

// AccruedEntry is one user's accrued balance with a distributor.
type AccruedEntry struct {
	User   crypto.Address
	Amount *big.Int
}

// AccruedEntries lists every accrued balance held with distributor, ordered
// by user address.
func (m *Manager) AccruedEntries(distributor crypto.Address) ([]AccruedEntry, error) {
	prefix := RewardAccruedPrefix(distributor)
	var (
		entries []AccruedEntry
		iterErr error
	)
	err := m.db.Iterate(prefix, func(key, value []byte) bool {
		raw, err := hex.DecodeString(string(bytes.TrimPrefix(key, prefix)))
		if err != nil || len(raw) != crypto.AddressLength {
			iterErr = fmt.Errorf("rewards state: malformed accrued key %q", key)
			return false
		}
		amount := new(big.Int)
		if err := rlp.DecodeBytes(value, amount); err != nil {
			iterErr = fmt.Errorf("rewards state: decode accrued %q: %w", key, err)
			return false
		}
		entries = append(entries, AccruedEntry{
			User:   crypto.NewAddress(crypto.AccountPrefix, raw),
			Amount: amount,
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return entries, nil
}
