package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"poolrewards/core/events"
	"poolrewards/core/state"
	"poolrewards/crypto"
	nativecommon "poolrewards/native/common"
	"poolrewards/native/lending"
	"poolrewards/native/rewards"
	"poolrewards/observability/metrics"
)

const moduleName = "controller"

var (
	ErrNilState             = errors.New("controller: state not configured")
	ErrUnknownOperation     = errors.New("controller: unknown operation")
	ErrMissingCounterparty  = errors.New("controller: counterparty required")
	ErrDuplicateDistributor = errors.New("controller: distributor already registered")
	ErrForeignDistributor   = errors.New("controller: distributor is bound to another controller")
	ErrUnknownDistributor   = errors.New("controller: unknown distributor")
)

// Operation names a balance-affecting market action.
type Operation string

const (
	OpMint           Operation = "mint"
	OpRedeem         Operation = "redeem"
	OpBorrow         Operation = "borrow"
	OpRepay          Operation = "repay"
	OpTransfer       Operation = "transfer"
	OpSeize          Operation = "seize"
	OpAccrueInterest Operation = "accrue_interest"
)

// ParseOperation validates a textual operation name.
func ParseOperation(raw string) (Operation, error) {
	op := Operation(raw)
	switch op {
	case OpMint, OpRedeem, OpBorrow, OpRepay, OpTransfer, OpSeize, OpAccrueInterest:
		return op, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOperation, raw)
}

// Request describes one market operation. Account is the actor: the
// supplier, borrower, transfer sender or liquidator. Counterparty is the
// transfer recipient or the borrower being seized.
type Request struct {
	Op           Operation
	Market       crypto.Address
	Account      crypto.Address
	Counterparty crypto.Address
	Amount       *big.Int
}

// Result reports what a committed operation did.
type Result struct {
	Op          Operation
	Block       uint64
	Amount      *big.Int
	BorrowIndex *big.Int
	Settlements []*rewards.Settlement
}

type sideAccounts struct {
	side     rewards.Side
	accounts []crypto.Address
}

// affected lists the reward sides an operation changes and the accounts whose
// balances move, in settlement order.
func affected(req Request) ([]sideAccounts, error) {
	switch req.Op {
	case OpMint, OpRedeem:
		return []sideAccounts{{rewards.SideSupply, []crypto.Address{req.Account}}}, nil
	case OpBorrow, OpRepay:
		return []sideAccounts{{rewards.SideBorrow, []crypto.Address{req.Account}}}, nil
	case OpTransfer:
		if req.Counterparty.IsZero() {
			return nil, ErrMissingCounterparty
		}
		return []sideAccounts{{rewards.SideSupply, []crypto.Address{req.Account, req.Counterparty}}}, nil
	case OpSeize:
		if req.Counterparty.IsZero() {
			return nil, ErrMissingCounterparty
		}
		return []sideAccounts{{rewards.SideSupply, []crypto.Address{req.Counterparty, req.Account}}}, nil
	case OpAccrueInterest:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, req.Op)
}

// Controller is the market controller. Every operation accrues market
// interest, refreshes and settles every registered distributor against the
// pre-operation balances, then applies the balance change. All of it
// commits together or not at all.
type Controller struct {
	mu sync.Mutex

	id           crypto.Address
	state        *state.Manager
	lending      *lending.Engine
	distributors []*rewards.Engine
	emitter      events.Emitter
	pauses       nativecommon.PauseView
	logger       *slog.Logger
	metrics      *metrics.RewardsMetrics
}

// New constructs a controller identified by id.
func New(id crypto.Address, mgr *state.Manager, lend *lending.Engine) *Controller {
	return &Controller{
		id:      id,
		state:   mgr,
		lending: lend,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		metrics: metrics.Rewards(),
	}
}

func (c *Controller) SetEmitter(emitter events.Emitter) {
	if c == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	c.emitter = emitter
}

func (c *Controller) SetLogger(logger *slog.Logger) {
	if c == nil || logger == nil {
		return
	}
	c.logger = logger.With(slog.String("module", moduleName))
}

func (c *Controller) SetPauses(p nativecommon.PauseView) {
	if c == nil {
		return
	}
	c.pauses = p
}

// ID returns the identity the controller presents to distributors.
func (c *Controller) ID() crypto.Address { return c.id }

// AddDistributor registers a distributor. It must name this controller as
// its authorised caller.
func (c *Controller) AddDistributor(d *rewards.Engine) error {
	if c == nil || c.state == nil {
		return ErrNilState
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !d.Controller().Equal(c.id) {
		return fmt.Errorf("%w: %s", ErrForeignDistributor, d.ID().String())
	}
	for _, existing := range c.distributors {
		if existing.ID().Equal(d.ID()) {
			return fmt.Errorf("%w: %s", ErrDuplicateDistributor, d.ID().String())
		}
	}
	d.SetState(c.state)
	d.SetMarkets(c.lending.Bind(c.state))
	c.distributors = append(c.distributors, d)
	c.metrics.InitDistributor(d.ID().String())
	return nil
}

// Distributors returns the registered distributors in registration order.
// They read committed state.
func (c *Controller) Distributors() []*rewards.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*rewards.Engine(nil), c.distributors...)
}

// Distributor finds a registered distributor by identity.
func (c *Controller) Distributor(id crypto.Address) (*rewards.Engine, error) {
	for _, d := range c.Distributors() {
		if d.ID().Equal(id) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownDistributor, id.String())
}

// Lending returns the market engine bound to committed state.
func (c *Controller) Lending() *lending.Engine {
	return c.lending.Bind(c.state)
}

// BlockHeight returns the committed block height.
func (c *Controller) BlockHeight() (uint64, error) {
	if c == nil || c.state == nil {
		return 0, ErrNilState
	}
	return c.state.BlockHeight()
}

// AccruedEntries lists a distributor's accrued balances together with the
// height they were read at.
func (c *Controller) AccruedEntries(distributor crypto.Address) (uint64, []state.AccruedEntry, error) {
	if c == nil || c.state == nil {
		return 0, nil, ErrNilState
	}
	if _, err := c.Distributor(distributor); err != nil {
		return 0, nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	height, err := c.state.BlockHeight()
	if err != nil {
		return 0, nil, err
	}
	entries, err := c.state.AccruedEntries(distributor)
	if err != nil {
		return 0, nil, err
	}
	return height, entries, nil
}

// transact runs fn in one state transaction with events buffered until
// commit.
func (c *Controller) transact(op string, fn func(tx *state.Manager, lend *lending.Engine, sink events.Emitter) error) error {
	if c == nil || c.state == nil {
		return ErrNilState
	}
	start := time.Now()
	buf := &events.Buffer{}
	err := c.state.Atomic(op, func(tx *state.Manager) error {
		height, err := tx.BlockHeight()
		if err != nil {
			return err
		}
		lend := c.lending.Bind(tx)
		lend.SetBlockHeight(height)
		return fn(tx, lend, buf)
	})
	c.metrics.ObserveOperation(op, time.Since(start), err)
	if err != nil {
		buf.Reset()
		c.metrics.IncRollback(op)
		c.logger.Warn("operation rolled back", slog.String("op", op), slog.Any("error", err))
		return err
	}
	buf.Flush(c.emitter)
	return nil
}

// Execute runs one market operation atomically.
func (c *Controller) Execute(req Request) (*Result, error) {
	if c == nil {
		return nil, ErrNilState
	}
	plan, err := affected(req)
	if err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(c.pauses, moduleName); err != nil {
		c.metrics.IncRejected(moduleName, "paused")
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	result := &Result{Op: req.Op}
	err = c.transact(string(req.Op), func(tx *state.Manager, lend *lending.Engine, sink events.Emitter) error {
		market, err := lend.AccrueInterest(req.Market)
		if err != nil {
			return err
		}
		result.Block = lend.BlockNumber()
		result.BorrowIndex = new(big.Int).Set(market.BorrowIndex)
		if req.Op == OpAccrueInterest {
			return nil
		}

		for _, d := range c.distributors {
			bound := d.Bind(tx, lend, sink)
			for _, step := range plan {
				if _, err := bound.UpdateIndex(c.id, req.Market, step.side); err != nil {
					return err
				}
				for _, account := range step.accounts {
					s, err := bound.SettleUser(c.id, req.Market, step.side, account, market.BorrowIndex)
					if err != nil {
						return err
					}
					result.Settlements = append(result.Settlements, s)
				}
			}
		}

		amount, err := c.apply(lend, req)
		if err != nil {
			return err
		}
		result.Amount = amount
		sink.Emit(events.MarketOperation{
			Market:       req.Market,
			Operation:    string(req.Op),
			Account:      req.Account,
			Counterparty: req.Counterparty,
			Amount:       amount,
			BorrowIndex:  market.BorrowIndex,
			Block:        result.Block,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Controller) apply(lend *lending.Engine, req Request) (*big.Int, error) {
	amount := req.Amount
	var err error
	switch req.Op {
	case OpMint:
		err = lend.Mint(req.Market, req.Account, req.Amount)
	case OpRedeem:
		err = lend.Redeem(req.Market, req.Account, req.Amount)
	case OpBorrow:
		err = lend.Borrow(req.Market, req.Account, req.Amount)
	case OpRepay:
		amount, err = lend.Repay(req.Market, req.Account, req.Amount)
	case OpTransfer:
		err = lend.Transfer(req.Market, req.Account, req.Counterparty, req.Amount)
	case OpSeize:
		err = lend.Seize(req.Market, req.Account, req.Counterparty, req.Amount)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownOperation, req.Op)
	}
	if err != nil {
		return nil, err
	}
	if amount == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(amount), nil
}

// SetSpeeds changes a distributor's speeds on a market on behalf of caller,
// who must be that distributor's admin.
func (c *Controller) SetSpeeds(caller, distributor, market crypto.Address, supply, borrow *big.Int) error {
	d, err := c.Distributor(distributor)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transact("set_speeds", func(tx *state.Manager, lend *lending.Engine, sink events.Emitter) error {
		if _, err := lend.AccrueInterest(market); err != nil {
			return err
		}
		return d.Bind(tx, lend, sink).SetSpeeds(caller, market, supply, borrow)
	})
}

// AdvanceBlocks moves the chain height forward by n and returns the new
// height.
func (c *Controller) AdvanceBlocks(n uint64) (uint64, error) {
	if c == nil {
		return 0, ErrNilState
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var height uint64
	err := c.transact("advance_blocks", func(tx *state.Manager, lend *lending.Engine, _ events.Emitter) error {
		height = lend.BlockNumber() + n
		return tx.SetBlockHeight(height)
	})
	return height, err
}
