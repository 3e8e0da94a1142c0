package rewards

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeDeltaBootstrap(t *testing.T) {
	balance := mustBig(t, "500000000000000000000")
	grown := new(big.Int).Add(IndexMantissa(), mustBig(t, "20000000000000000000000000000000000")) // 1.02

	cases := []struct {
		name     string
		global   *big.Int
		snapshot *big.Int
		want     string
	}{
		{name: "first settle at baseline", global: IndexMantissa(), snapshot: nil, want: "0"},
		{name: "first settle after growth starts at baseline", global: grown, snapshot: big.NewInt(0), want: "10000000000000000000"},
		{name: "both zero", global: big.NewInt(0), snapshot: nil, want: "0"},
		{name: "stored snapshot", global: grown, snapshot: IndexMantissa(), want: "10000000000000000000"},
		{name: "up to date", global: grown, snapshot: grown, want: "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeDelta(tc.global, tc.snapshot, balance)
			require.NoError(t, err)
			require.Equal(t, tc.want, got.String())
		})
	}
}

func TestComputeDeltaZeroBalance(t *testing.T) {
	grown := new(big.Int).Mul(IndexMantissa(), big.NewInt(3))
	got, err := ComputeDelta(grown, IndexMantissa(), big.NewInt(0))
	require.NoError(t, err)
	require.Zero(t, got.Sign())
}

func TestComputeDeltaSnapshotAheadOfIndex(t *testing.T) {
	ahead := new(big.Int).Add(IndexMantissa(), big.NewInt(1))
	_, err := ComputeDelta(IndexMantissa(), ahead, big.NewInt(10))
	require.ErrorIs(t, err, ErrInvariantViolation)
}

func TestComputeDeltaOverflow(t *testing.T) {
	balance := new(big.Int).Lsh(big.NewInt(1), 255)
	global := new(big.Int).Mul(IndexMantissa(), big.NewInt(1_000_000))
	_, err := ComputeDelta(global, IndexMantissa(), balance)
	require.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestEffectiveSnapshot(t *testing.T) {
	require.Equal(t, IndexMantissa().String(), EffectiveSnapshot(IndexMantissa(), nil).String())
	require.Equal(t, "0", EffectiveSnapshot(big.NewInt(10), nil).String())
	stored := big.NewInt(77)
	got := EffectiveSnapshot(IndexMantissa(), stored)
	require.Equal(t, "77", got.String())
	got.SetInt64(1)
	require.Equal(t, int64(77), stored.Int64())
}
