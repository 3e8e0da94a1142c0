package config

import (
	"strings"

	"poolrewards/crypto"
	"poolrewards/native/controller"
	"poolrewards/native/rewards"
)

// DistributorSpec identifies a distributor to construct at startup.
type DistributorSpec struct {
	Address     crypto.Address
	RewardToken string
}

// Resolved is a validated genesis in runtime types.
type Resolved struct {
	Controller   crypto.Address
	Admin        crypto.Address
	Distributors []DistributorSpec
	Genesis      controller.Genesis
}

// NewDistributors builds one engine per declared distributor, bound to the
// resolved controller and admin.
func (r *Resolved) NewDistributors() []*rewards.Engine {
	out := make([]*rewards.Engine, 0, len(r.Distributors))
	for _, d := range r.Distributors {
		out = append(out, rewards.NewEngine(d.Address, d.RewardToken, r.Controller, r.Admin))
	}
	return out
}

// Resolve validates the genesis and converts it to runtime types.
func (g *Genesis) Resolve() (*Resolved, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	// Validate has already parsed every address and amount below.
	ctrl, _ := crypto.ParseAddress(g.Controller, crypto.ControllerPrefix)
	admin, _ := crypto.ParseAddress(g.Admin, crypto.ControllerPrefix)
	out := &Resolved{
		Controller: ctrl,
		Admin:      admin,
		Genesis:    controller.Genesis{Admin: admin, Height: g.Height},
	}
	for _, m := range g.Markets {
		addr, _ := crypto.ParseAddress(m.Address, crypto.MarketPrefix)
		out.Genesis.Markets = append(out.Genesis.Markets, controller.MarketGenesis{
			Address: addr,
			Params:  m.MarketParams,
		})
	}
	for _, d := range g.Distributors {
		addr, _ := crypto.ParseAddress(d.Address, crypto.DistributorPrefix)
		out.Distributors = append(out.Distributors, DistributorSpec{
			Address:     addr,
			RewardToken: strings.ToUpper(strings.TrimSpace(d.RewardToken)),
		})
		for _, s := range d.Speeds {
			market, _ := crypto.ParseAddress(s.Market, crypto.MarketPrefix)
			supply, _ := parseUintAmount(s.Supply)
			borrow, _ := parseUintAmount(s.Borrow)
			out.Genesis.Speeds = append(out.Genesis.Speeds, controller.SpeedGenesis{
				Distributor: addr,
				Market:      market,
				Supply:      supply,
				Borrow:      borrow,
			})
		}
	}
	return out, nil
}
