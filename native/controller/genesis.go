package controller

import (
	"fmt"
	"math/big"

	"poolrewards/core/events"
	"poolrewards/core/state"
	"poolrewards/crypto"
	"poolrewards/native/lending"
)

// MarketGenesis declares a market and its parameters.
type MarketGenesis struct {
	Address crypto.Address
	Params  lending.MarketParams
}

// SpeedGenesis declares the initial speeds a distributor pays on a market.
type SpeedGenesis struct {
	Distributor crypto.Address
	Market      crypto.Address
	Supply      *big.Int
	Borrow      *big.Int
}

// Genesis is the initial state of the controller.
type Genesis struct {
	Admin   crypto.Address
	Height  uint64
	Markets []MarketGenesis
	Speeds  []SpeedGenesis
}

// ConfigureMarkets registers market parameters with the lending engine. It
// writes no state and must run on every start.
func (c *Controller) ConfigureMarkets(markets []MarketGenesis) {
	for _, m := range markets {
		c.lending.Configure(m.Address, m.Params)
	}
}

// ApplyGenesis writes the genesis state once. It reports false when the
// state already holds a genesis.
func (c *Controller) ApplyGenesis(g Genesis) (bool, error) {
	if c == nil || c.state == nil {
		return false, ErrNilState
	}
	done, err := c.state.GenesisApplied()
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}
	c.ConfigureMarkets(g.Markets)

	distributors := c.Distributors()
	c.mu.Lock()
	defer c.mu.Unlock()
	err = c.transact("genesis", func(tx *state.Manager, lend *lending.Engine, sink events.Emitter) error {
		if err := tx.SetBlockHeight(g.Height); err != nil {
			return err
		}
		lend.SetBlockHeight(g.Height)
		for _, m := range g.Markets {
			if _, err := lend.InitMarket(m.Address); err != nil {
				return err
			}
		}
		for _, s := range g.Speeds {
			var matched bool
			for _, d := range distributors {
				if !d.ID().Equal(s.Distributor) {
					continue
				}
				matched = true
				if err := d.Bind(tx, lend, sink).SetSpeeds(g.Admin, s.Market, s.Supply, s.Borrow); err != nil {
					return err
				}
			}
			if !matched {
				return fmt.Errorf("%w: %s", ErrUnknownDistributor, s.Distributor.String())
			}
		}
		return tx.MarkGenesisApplied()
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
