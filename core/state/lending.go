package state

import (
	"fmt"

	"poolrewards/crypto"
	"poolrewards/native/lending"
)

func (m *Manager) GetMarket(market crypto.Address) (*lending.Market, error) {
	stored := new(lending.Market)
	ok, err := m.KVGet(LendingMarketKey(market), stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.Clone(), nil
}

func (m *Manager) PutMarket(market crypto.Address, record *lending.Market) error {
	if record == nil {
		return fmt.Errorf("lending state: nil market")
	}
	return m.KVPut(LendingMarketKey(market), record.Clone())
}

func (m *Manager) GetPosition(market, account crypto.Address) (*lending.Position, error) {
	stored := new(lending.Position)
	ok, err := m.KVGet(LendingPositionKey(market, account), stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.Clone(), nil
}

func (m *Manager) PutPosition(market, account crypto.Address, record *lending.Position) error {
	if record == nil {
		return fmt.Errorf("lending state: nil position")
	}
	return m.KVPut(LendingPositionKey(market, account), record.Clone())
}
