package lending

// MarketParams captures the governance controlled settings of one market.
type MarketParams struct {
	// CollateralFactorBps is the share of a supply balance that may back
	// debt in the same market, in basis points.
	CollateralFactorBps uint64 `toml:"CollateralFactorBps"`
	// ReserveFactorBps is the share of accrued interest routed to reserves.
	ReserveFactorBps uint64 `toml:"ReserveFactorBps"`
	// Interest rate curve, expressed as decimals (0.02 is 2% APR).
	BaseRate float64 `toml:"BaseRate"`
	Slope1   float64 `toml:"Slope1"`
	Slope2   float64 `toml:"Slope2"`
	Kink     float64 `toml:"Kink"`
}

// DefaultMarketParams mirrors DefaultInterestModel with a 75% collateral
// factor and a 10% reserve factor.
func DefaultMarketParams() MarketParams {
	return MarketParams{
		CollateralFactorBps: 7_500,
		ReserveFactorBps:    1_000,
		BaseRate:            0.02,
		Slope1:              0.15,
		Slope2:              0.6,
		Kink:                0.8,
	}
}

// InterestModel builds the rate curve described by the parameters.
func (p MarketParams) InterestModel() *InterestModel {
	return NewInterestModel(p.BaseRate, p.Slope1, p.Slope2, p.Kink)
}
