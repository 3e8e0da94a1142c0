package lending

import (
	"errors"
	"fmt"
	"math/big"

	"poolrewards/crypto"
)

var (
	ErrNilState              = errors.New("lending engine: state not configured")
	ErrUnknownMarket         = errors.New("lending engine: market not initialised")
	ErrInvalidAmount         = errors.New("lending engine: amount must be positive")
	ErrInsufficientBalance   = errors.New("lending engine: insufficient balance")
	ErrInsufficientLiquidity = errors.New("lending engine: insufficient liquidity")
	ErrHealthCheckFailed     = errors.New("lending engine: borrow exceeds collateral capacity")
	ErrNoDebtToRepay         = errors.New("lending engine: no outstanding debt to repay")
	ErrNotLiquidatable       = errors.New("lending engine: borrower not eligible for liquidation")
	ErrSelfTransfer          = errors.New("lending engine: source and destination are the same account")
)

type engineState interface {
	GetMarket(market crypto.Address) (*Market, error)
	PutMarket(market crypto.Address, m *Market) error
	GetPosition(market, account crypto.Address) (*Position, error)
	PutPosition(market, account crypto.Address, p *Position) error
}

// Engine applies balance-affecting market operations. It also serves as the
// read-only market view consumed by reward distributors.
type Engine struct {
	state       engineState
	params      map[string]MarketParams
	models      map[string]*InterestModel
	blockHeight uint64
}

// NewEngine constructs a lending engine with no configured markets.
func NewEngine() *Engine {
	return &Engine{
		params: make(map[string]MarketParams),
		models: make(map[string]*InterestModel),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBlockHeight records the block height used when accruing interest.
func (e *Engine) SetBlockHeight(height uint64) {
	if e == nil {
		return
	}
	e.blockHeight = height
}

// Configure registers the parameters of a market.
func (e *Engine) Configure(market crypto.Address, params MarketParams) {
	if e == nil {
		return
	}
	e.params[market.Hex()] = params
	e.models[market.Hex()] = params.InterestModel()
}

// Params returns the parameters of a market and whether it is configured.
func (e *Engine) Params(market crypto.Address) (MarketParams, bool) {
	if e == nil {
		return MarketParams{}, false
	}
	p, ok := e.params[market.Hex()]
	return p, ok
}

// InterestModel returns a copy of the market's rate curve.
func (e *Engine) InterestModel(market crypto.Address) *InterestModel {
	if e == nil {
		return nil
	}
	if m, ok := e.models[market.Hex()]; ok {
		return m.Clone()
	}
	return DefaultInterestModel.Clone()
}

// Bind returns a copy of the engine reading and writing through state. The
// configuration maps are shared.
func (e *Engine) Bind(state engineState) *Engine {
	if e == nil {
		return nil
	}
	bound := *e
	bound.state = state
	return &bound
}

// InitMarket creates the market at the current block unless it exists.
func (e *Engine) InitMarket(market crypto.Address) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	existing, err := e.state.GetMarket(market)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	m := &Market{
		TotalSupply:     big.NewInt(0),
		TotalBorrows:    big.NewInt(0),
		TotalReserves:   big.NewInt(0),
		Cash:            big.NewInt(0),
		BorrowIndex:     Mantissa(),
		LastUpdateBlock: e.blockHeight,
	}
	if err := e.state.PutMarket(market, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (e *Engine) loadMarket(market crypto.Address) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	m, err := e.state.GetMarket(market)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, market.String())
	}
	m = m.Clone()
	if m.BorrowIndex.Sign() == 0 {
		m.BorrowIndex = Mantissa()
	}
	return m, nil
}

func (e *Engine) loadPosition(market, account crypto.Address) (*Position, error) {
	p, err := e.state.GetPosition(market, account)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return &Position{SupplyBalance: big.NewInt(0), BorrowPrincipal: big.NewInt(0), BorrowIndex: big.NewInt(0)}, nil
	}
	return p.Clone(), nil
}

// AccrueInterest brings the market's borrow index and totals up to the
// current block using simple interest over the elapsed blocks.
func (e *Engine) AccrueInterest(market crypto.Address) (*Market, error) {
	m, err := e.loadMarket(market)
	if err != nil {
		return nil, err
	}
	if e.blockHeight <= m.LastUpdateBlock {
		return m, nil
	}
	delta := e.blockHeight - m.LastUpdateBlock
	m.LastUpdateBlock = e.blockHeight

	if m.TotalBorrows.Sign() > 0 {
		rate := e.InterestModel(market).BorrowAPR(m.TotalBorrows, m.TotalSupply)
		factor := simpleInterestFactor(rate, delta)
		if factor.Sign() > 0 {
			interest := mulMantissa(factor, m.TotalBorrows)
			params, _ := e.Params(market)
			m.TotalBorrows.Add(m.TotalBorrows, interest)
			m.TotalReserves.Add(m.TotalReserves, mulBps(interest, params.ReserveFactorBps))
			m.BorrowIndex.Add(m.BorrowIndex, mulMantissa(factor, m.BorrowIndex))
		}
	}
	if err := e.state.PutMarket(market, m); err != nil {
		return nil, err
	}
	return m, nil
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Mint deposits amount for account.
func (e *Engine) Mint(market, account crypto.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	m, err := e.loadMarket(market)
	if err != nil {
		return err
	}
	p, err := e.loadPosition(market, account)
	if err != nil {
		return err
	}
	p.SupplyBalance.Add(p.SupplyBalance, amount)
	m.TotalSupply.Add(m.TotalSupply, amount)
	m.Cash.Add(m.Cash, amount)
	if err := e.state.PutPosition(market, account, p); err != nil {
		return err
	}
	return e.state.PutMarket(market, m)
}

// Redeem withdraws amount of the account's supply. The remaining supply must
// still cover the account's debt.
func (e *Engine) Redeem(market, account crypto.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	m, err := e.loadMarket(market)
	if err != nil {
		return err
	}
	p, err := e.loadPosition(market, account)
	if err != nil {
		return err
	}
	if p.SupplyBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if m.Cash.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	p.SupplyBalance.Sub(p.SupplyBalance, amount)
	if !e.healthy(market, m, p) {
		return ErrHealthCheckFailed
	}
	m.TotalSupply.Sub(m.TotalSupply, amount)
	m.Cash.Sub(m.Cash, amount)
	if err := e.state.PutPosition(market, account, p); err != nil {
		return err
	}
	return e.state.PutMarket(market, m)
}

// Borrow lends amount to account against its supply in the same market.
func (e *Engine) Borrow(market, account crypto.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	m, err := e.loadMarket(market)
	if err != nil {
		return err
	}
	p, err := e.loadPosition(market, account)
	if err != nil {
		return err
	}
	if m.Cash.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	owed := borrowBalance(p.BorrowPrincipal, p.BorrowIndex, m.BorrowIndex)
	p.BorrowPrincipal = owed.Add(owed, amount)
	p.BorrowIndex = new(big.Int).Set(m.BorrowIndex)
	if !e.healthy(market, m, p) {
		return ErrHealthCheckFailed
	}
	m.TotalBorrows.Add(m.TotalBorrows, amount)
	m.Cash.Sub(m.Cash, amount)
	if err := e.state.PutPosition(market, account, p); err != nil {
		return err
	}
	return e.state.PutMarket(market, m)
}

// Repay reduces the borrower's debt. A nil amount or one above the debt
// repays everything. The amount actually repaid is returned.
func (e *Engine) Repay(market, borrower crypto.Address, amount *big.Int) (*big.Int, error) {
	if amount != nil && amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	m, err := e.loadMarket(market)
	if err != nil {
		return nil, err
	}
	p, err := e.loadPosition(market, borrower)
	if err != nil {
		return nil, err
	}
	owed := borrowBalance(p.BorrowPrincipal, p.BorrowIndex, m.BorrowIndex)
	if owed.Sign() == 0 {
		return nil, ErrNoDebtToRepay
	}
	repaid := new(big.Int).Set(owed)
	if amount != nil && amount.Cmp(owed) < 0 {
		repaid.Set(amount)
	}
	p.BorrowPrincipal = owed.Sub(owed, repaid)
	p.BorrowIndex = new(big.Int).Set(m.BorrowIndex)
	m.TotalBorrows.Sub(m.TotalBorrows, repaid)
	if m.TotalBorrows.Sign() < 0 {
		// Per-account truncation can leave the aggregate a few units short.
		m.TotalBorrows.SetInt64(0)
	}
	m.Cash.Add(m.Cash, repaid)
	if err := e.state.PutPosition(market, borrower, p); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(market, m); err != nil {
		return nil, err
	}
	return repaid, nil
}

// Transfer moves supply between accounts. The sender must stay healthy.
func (e *Engine) Transfer(market, from, to crypto.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	if from.Equal(to) {
		return ErrSelfTransfer
	}
	m, err := e.loadMarket(market)
	if err != nil {
		return err
	}
	src, err := e.loadPosition(market, from)
	if err != nil {
		return err
	}
	if src.SupplyBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	src.SupplyBalance.Sub(src.SupplyBalance, amount)
	if !e.healthy(market, m, src) {
		return ErrHealthCheckFailed
	}
	return e.moveSupply(market, from, to, src, amount)
}

// Seize moves supply from an unhealthy borrower to the liquidator.
func (e *Engine) Seize(market, liquidator, borrower crypto.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	if liquidator.Equal(borrower) {
		return ErrSelfTransfer
	}
	m, err := e.loadMarket(market)
	if err != nil {
		return err
	}
	src, err := e.loadPosition(market, borrower)
	if err != nil {
		return err
	}
	if e.healthy(market, m, src) {
		return ErrNotLiquidatable
	}
	if src.SupplyBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	src.SupplyBalance.Sub(src.SupplyBalance, amount)
	return e.moveSupply(market, borrower, liquidator, src, amount)
}

func (e *Engine) moveSupply(market, from, to crypto.Address, src *Position, amount *big.Int) error {
	dst, err := e.loadPosition(market, to)
	if err != nil {
		return err
	}
	dst.SupplyBalance.Add(dst.SupplyBalance, amount)
	if err := e.state.PutPosition(market, from, src); err != nil {
		return err
	}
	return e.state.PutPosition(market, to, dst)
}

func (e *Engine) healthy(market crypto.Address, m *Market, p *Position) bool {
	owed := borrowBalance(p.BorrowPrincipal, p.BorrowIndex, m.BorrowIndex)
	if owed.Sign() == 0 {
		return true
	}
	params, _ := e.Params(market)
	return owed.Cmp(mulBps(p.SupplyBalance, params.CollateralFactorBps)) <= 0
}

// Market returns a copy of the stored market.
func (e *Engine) Market(market crypto.Address) (*Market, error) {
	return e.loadMarket(market)
}

// Position returns the account's position, zero valued when absent.
func (e *Engine) Position(market, account crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.loadPosition(market, account)
}

// BlockNumber reports the height the engine is operating at.
func (e *Engine) BlockNumber() uint64 {
	if e == nil {
		return 0
	}
	return e.blockHeight
}

func (e *Engine) TotalSupply(market crypto.Address) (*big.Int, error) {
	m, err := e.loadMarket(market)
	if err != nil {
		return nil, err
	}
	return m.TotalSupply, nil
}

func (e *Engine) BalanceOf(market, account crypto.Address) (*big.Int, error) {
	p, err := e.Position(market, account)
	if err != nil {
		return nil, err
	}
	return p.SupplyBalance, nil
}

func (e *Engine) TotalBorrows(market crypto.Address) (*big.Int, error) {
	m, err := e.loadMarket(market)
	if err != nil {
		return nil, err
	}
	return m.TotalBorrows, nil
}

// BorrowBalanceStored is the account's debt at the market's last accrual.
func (e *Engine) BorrowBalanceStored(market, account crypto.Address) (*big.Int, error) {
	m, err := e.loadMarket(market)
	if err != nil {
		return nil, err
	}
	p, err := e.loadPosition(market, account)
	if err != nil {
		return nil, err
	}
	return borrowBalance(p.BorrowPrincipal, p.BorrowIndex, m.BorrowIndex), nil
}

func (e *Engine) BorrowIndex(market crypto.Address) (*big.Int, error) {
	m, err := e.loadMarket(market)
	if err != nil {
		return nil, err
	}
	return m.BorrowIndex, nil
}
