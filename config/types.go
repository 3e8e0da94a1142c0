package config

import "poolrewards/native/lending"

// Genesis is the TOML document that seeds a fresh rewards state.
type Genesis struct {
	// Controller is the identity distributors accept update and settle calls
	// from.
	Controller string `toml:"Controller"`
	// Admin may change speeds on every distributor.
	Admin        string        `toml:"Admin"`
	Height       uint64        `toml:"Height"`
	Markets      []Market      `toml:"Markets"`
	Distributors []Distributor `toml:"Distributors"`
}

// Market declares a lending market and its risk and rate parameters.
type Market struct {
	Address string `toml:"Address"`
	lending.MarketParams
}

// Distributor declares a reward distributor and the speeds it pays.
type Distributor struct {
	Address     string  `toml:"Address"`
	RewardToken string  `toml:"RewardToken"`
	Speeds      []Speed `toml:"Speeds"`
}

// Speed holds per-block emissions for one market as decimal integers in
// 1e18 units.
type Speed struct {
	Market string `toml:"Market"`
	Supply string `toml:"Supply"`
	Borrow string `toml:"Borrow"`
}
