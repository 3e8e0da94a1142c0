package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"poolrewards/native/lending"
)

// Default identities written into a generated genesis. They are fixed so a
// local node restarts against the same state.
const (
	defaultController  = "0x00000000000000000000000000000000000c0001"
	defaultAdmin       = "0x00000000000000000000000000000000000a0001"
	defaultMarket      = "0x00000000000000000000000000000000000b0001"
	defaultDistributor = "0x00000000000000000000000000000000000d0001"
)

// Load loads the genesis from the given path. A missing file is replaced by
// a single-market devnet genesis.
func Load(path string) (*Genesis, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	g := &Genesis{}
	meta, err := toml.DecodeFile(path, g)
	if err != nil {
		return nil, fmt.Errorf("decode genesis %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("genesis %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("genesis %s: %w", path, err)
	}
	return g, nil
}

// createDefault creates and saves a default genesis file.
func createDefault(path string) (*Genesis, error) {
	g := &Genesis{
		Controller: defaultController,
		Admin:      defaultAdmin,
		Markets: []Market{{
			Address:      defaultMarket,
			MarketParams: lending.DefaultMarketParams(),
		}},
		Distributors: []Distributor{{
			Address:     defaultDistributor,
			RewardToken: "RWD",
			Speeds: []Speed{{
				Market: defaultMarket,
				Supply: "1000000000000000000",
				Borrow: "500000000000000000",
			}},
		}},
	}
	if err := persist(path, g); err != nil {
		return nil, err
	}
	return g, nil
}

func persist(path string, g *Genesis) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(g)
}
