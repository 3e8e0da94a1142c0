package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"poolrewards/crypto"
)

const sampleGenesis = `Controller = "0x00000000000000000000000000000000000000c1"
Admin = "0x00000000000000000000000000000000000000a1"
Height = 42

[[Markets]]
Address = "0x00000000000000000000000000000000000000b1"
CollateralFactorBps = 6000
ReserveFactorBps = 500
BaseRate = 0.01
Slope1 = 0.1
Slope2 = 1.5
Kink = 0.9

[[Markets]]
Address = "0x00000000000000000000000000000000000000b2"
CollateralFactorBps = 7500
ReserveFactorBps = 1000
BaseRate = 0.02
Slope1 = 0.15
Slope2 = 0.6
Kink = 0.8

[[Distributors]]
Address = "0x00000000000000000000000000000000000000d1"
RewardToken = "xvs"

  [[Distributors.Speeds]]
  Market = "0x00000000000000000000000000000000000000b1"
  Supply = "1_000_000_000_000_000_000"
  Borrow = "250000000000000000"

  [[Distributors.Speeds]]
  Market = "0x00000000000000000000000000000000000000b2"
  Supply = "3"

[[Distributors]]
Address = "0x00000000000000000000000000000000000000d2"
RewardToken = "BONUS"
`

func writeGenesis(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genesis.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesGenesis(t *testing.T) {
	g, err := Load(writeGenesis(t, sampleGenesis))
	require.NoError(t, err)
	require.Equal(t, uint64(42), g.Height)
	require.Len(t, g.Markets, 2)
	require.Equal(t, uint64(6000), g.Markets[0].CollateralFactorBps)
	require.InDelta(t, 1.5, g.Markets[0].Slope2, 1e-12)
	require.Len(t, g.Distributors, 2)
	require.Len(t, g.Distributors[0].Speeds, 2)

	resolved, err := g.Resolve()
	require.NoError(t, err)
	require.Equal(t, crypto.ControllerPrefix, resolved.Controller.Prefix())
	require.Equal(t, "XVS", resolved.Distributors[0].RewardToken)
	require.Len(t, resolved.Genesis.Markets, 2)
	require.Len(t, resolved.Genesis.Speeds, 2)
	require.Equal(t, "1000000000000000000", resolved.Genesis.Speeds[0].Supply.String())
	require.Equal(t, "250000000000000000", resolved.Genesis.Speeds[0].Borrow.String())
	require.Zero(t, resolved.Genesis.Speeds[1].Borrow.Sign())
	require.True(t, resolved.Genesis.Admin.Equal(resolved.Admin))

	engines := resolved.NewDistributors()
	require.Len(t, engines, 2)
	require.True(t, engines[1].Controller().Equal(resolved.Controller))
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "genesis.toml")
	g, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, g.Controller, again.Controller)
	require.Equal(t, g.Distributors[0].Speeds, again.Distributors[0].Speeds)
	require.Equal(t, g.Markets[0].MarketParams, again.Markets[0].MarketParams)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeGenesis(t, sampleGenesis+"\nValidatorKey = \"x\"\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "ValidatorKey")
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(string) string
		want   string
	}{
		{
			name: "bad controller",
			mutate: func(s string) string {
				return strings.Replace(s, "0x00000000000000000000000000000000000000c1", "nope", 1)
			},
			want: "controller",
		},
		{
			name: "duplicate market",
			mutate: func(s string) string {
				return strings.Replace(s, "0x00000000000000000000000000000000000000b2\"\nCollateral", "0x00000000000000000000000000000000000000b1\"\nCollateral", 1)
			},
			want: "duplicate market",
		},
		{
			name: "collateral factor",
			mutate: func(s string) string {
				return strings.Replace(s, "CollateralFactorBps = 6000", "CollateralFactorBps = 10001", 1)
			},
			want: "bps",
		},
		{
			name: "kink",
			mutate: func(s string) string {
				return strings.Replace(s, "Kink = 0.9", "Kink = 0", 1)
			},
			want: "kink",
		},
		{
			name: "negative speed",
			mutate: func(s string) string {
				return strings.Replace(s, `Supply = "3"`, `Supply = "-3"`, 1)
			},
			want: "negative amount",
		},
		{
			name: "malformed speed",
			mutate: func(s string) string {
				return strings.Replace(s, `Supply = "3"`, `Supply = "1e18"`, 1)
			},
			want: "invalid amount",
		},
		{
			name: "unknown market",
			mutate: func(s string) string {
				return strings.Replace(s, "Market = \"0x00000000000000000000000000000000000000b2\"", "Market = \"0x00000000000000000000000000000000000000b9\"", 1)
			},
			want: "unknown market",
		},
		{
			name: "duplicate distributor",
			mutate: func(s string) string {
				return strings.Replace(s, "00d2", "00d1", 1)
			},
			want: "duplicate distributor",
		},
		{
			name: "reward token",
			mutate: func(s string) string {
				return strings.Replace(s, `RewardToken = "BONUS"`, `RewardToken = " "`, 1)
			},
			want: "reward token",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeGenesis(t, tc.mutate(sampleGenesis)))
			require.ErrorIs(t, err, ErrInvalidGenesis)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
