package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"poolrewards/crypto"
)

const maxBps = 10_000

var ErrInvalidGenesis = errors.New("config: invalid genesis")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidGenesis, fmt.Sprintf(format, args...))
}

// Validate checks addresses, market parameters and speeds without touching
// any state.
func (g *Genesis) Validate() error {
	if g == nil {
		return invalid("empty genesis")
	}
	if _, err := crypto.ParseAddress(g.Controller, crypto.ControllerPrefix); err != nil {
		return invalid("controller: %v", err)
	}
	if _, err := crypto.ParseAddress(g.Admin, crypto.ControllerPrefix); err != nil {
		return invalid("admin: %v", err)
	}

	markets := make(map[string]struct{}, len(g.Markets))
	for i, m := range g.Markets {
		addr, err := crypto.ParseAddress(m.Address, crypto.MarketPrefix)
		if err != nil {
			return invalid("markets[%d]: %v", i, err)
		}
		if _, dup := markets[addr.Hex()]; dup {
			return invalid("markets[%d]: duplicate market %s", i, m.Address)
		}
		markets[addr.Hex()] = struct{}{}
		if m.CollateralFactorBps > maxBps || m.ReserveFactorBps > maxBps {
			return invalid("markets[%d]: factors must not exceed %d bps", i, maxBps)
		}
		if m.BaseRate < 0 || m.Slope1 < 0 || m.Slope2 < 0 {
			return invalid("markets[%d]: negative rate", i)
		}
		if m.Kink <= 0 || m.Kink > 1 {
			return invalid("markets[%d]: kink must be in (0, 1]", i)
		}
	}

	distributors := make(map[string]struct{}, len(g.Distributors))
	for i, d := range g.Distributors {
		addr, err := crypto.ParseAddress(d.Address, crypto.DistributorPrefix)
		if err != nil {
			return invalid("distributors[%d]: %v", i, err)
		}
		if _, dup := distributors[addr.Hex()]; dup {
			return invalid("distributors[%d]: duplicate distributor %s", i, d.Address)
		}
		distributors[addr.Hex()] = struct{}{}
		if strings.TrimSpace(d.RewardToken) == "" {
			return invalid("distributors[%d]: reward token required", i)
		}

		seen := make(map[string]struct{}, len(d.Speeds))
		for j, s := range d.Speeds {
			market, err := crypto.ParseAddress(s.Market, crypto.MarketPrefix)
			if err != nil {
				return invalid("distributors[%d].speeds[%d]: %v", i, j, err)
			}
			if _, ok := markets[market.Hex()]; !ok {
				return invalid("distributors[%d].speeds[%d]: unknown market %s", i, j, s.Market)
			}
			if _, dup := seen[market.Hex()]; dup {
				return invalid("distributors[%d].speeds[%d]: market %s listed twice", i, j, s.Market)
			}
			seen[market.Hex()] = struct{}{}
			if _, err := parseUintAmount(s.Supply); err != nil {
				return invalid("distributors[%d].speeds[%d].supply: %v", i, j, err)
			}
			if _, err := parseUintAmount(s.Borrow); err != nil {
				return invalid("distributors[%d].speeds[%d].borrow: %v", i, j, err)
			}
		}
	}
	return nil
}

// parseUintAmount reads a non-negative decimal integer. Empty means zero and
// underscores may group digits.
func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", raw)
	}
	return v, nil
}
