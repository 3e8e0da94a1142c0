package rewards

import (
	"fmt"
	"log/slog"
	"math/big"

	"poolrewards/core/events"
	"poolrewards/crypto"
	"poolrewards/observability/metrics"
)

const moduleName = "rewards"

// State is the keyed persistence the engine owns. Getters return nil, nil
// when nothing has been stored yet.
type State interface {
	GetRewardIndex(distributor, market crypto.Address, side Side) (*MarketIndexState, error)
	PutRewardIndex(distributor, market crypto.Address, side Side, state *MarketIndexState) error
	GetRewardSnapshot(distributor, market crypto.Address, side Side, user crypto.Address) (*ParticipantSnapshot, error)
	PutRewardSnapshot(distributor, market crypto.Address, side Side, user crypto.Address, snapshot *ParticipantSnapshot) error
	GetRewardAccrued(distributor, user crypto.Address) (*big.Int, error)
	PutRewardAccrued(distributor, user crypto.Address, amount *big.Int) error
	GetRewardSpeeds(distributor, market crypto.Address) (*Speeds, error)
	PutRewardSpeeds(distributor, market crypto.Address, speeds *Speeds) error
}

// MarketView is the read-only market collaborator. Borrow balances and
// totals are raw, i.e. still inflated by the market's interest index.
type MarketView interface {
	BlockNumber() uint64
	TotalSupply(market crypto.Address) (*big.Int, error)
	BalanceOf(market, account crypto.Address) (*big.Int, error)
	TotalBorrows(market crypto.Address) (*big.Int, error)
	BorrowBalanceStored(market, account crypto.Address) (*big.Int, error)
	BorrowIndex(market crypto.Address) (*big.Int, error)
}

// Engine distributes one reward token across markets. Only the registered
// controller may refresh indices or settle users; only the admin may change
// speeds.
type Engine struct {
	id          crypto.Address
	rewardToken string
	controller  crypto.Address
	admin       crypto.Address

	state   State
	markets MarketView
	emitter events.Emitter
	logger  *slog.Logger
	metrics *metrics.RewardsMetrics
}

// NewEngine constructs a distributor identified by id.
func NewEngine(id crypto.Address, rewardToken string, controller, admin crypto.Address) *Engine {
	return &Engine{
		id:          id,
		rewardToken: rewardToken,
		controller:  controller,
		admin:       admin,
		emitter:     events.NoopEmitter{},
		logger:      slog.Default(),
		metrics:     metrics.Rewards(),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

// SetMarkets wires the market collaborator.
func (e *Engine) SetMarkets(markets MarketView) {
	if e == nil {
		return
	}
	e.markets = markets
}

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger.With(slog.String("module", moduleName), slog.String("distributor", e.id.String()))
}

// Bind returns a copy of the engine that reads and writes through the
// supplied transaction-scoped collaborators. The receiver is left untouched.
func (e *Engine) Bind(state State, markets MarketView, emitter events.Emitter) *Engine {
	if e == nil {
		return nil
	}
	bound := *e
	bound.state = state
	bound.markets = markets
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	bound.emitter = emitter
	return &bound
}

// ID returns the distributor identity.
func (e *Engine) ID() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.id
}

// RewardToken returns the symbol of the distributed token.
func (e *Engine) RewardToken() string {
	if e == nil {
		return ""
	}
	return e.rewardToken
}

// Controller returns the only identity allowed to update and settle.
func (e *Engine) Controller() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.controller
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.markets == nil {
		return ErrNilMarkets
	}
	return nil
}

// guard rejects unauthorised callers before checking that the engine is
// bound, so a foreign caller always sees ErrUnauthorized.
func (e *Engine) guard(caller, allowed crypto.Address, op string) error {
	if e == nil {
		return ErrNilState
	}
	if err := e.authorize(caller, allowed, op); err != nil {
		return err
	}
	return e.ready()
}

func (e *Engine) authorize(caller, allowed crypto.Address, op string) error {
	if allowed.Equal(caller) {
		return nil
	}
	e.metrics.IncRejected(moduleName, "unauthorized")
	e.logger.Warn("rewards call rejected",
		slog.String("op", op),
		slog.String("caller", caller.String()))
	return fmt.Errorf("%w: %s by %s", ErrUnauthorized, op, caller.String())
}

// UpdateIndex refreshes the (market, side) index to the current block using
// the configured speed. Calling it again in the same block changes nothing.
func (e *Engine) UpdateIndex(caller, market crypto.Address, side Side) (*MarketIndexState, error) {
	if err := e.guard(caller, e.controller, "update_index"); err != nil {
		return nil, err
	}
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	return e.updateIndex(market, side)
}

func (e *Engine) updateIndex(market crypto.Address, side Side) (*MarketIndexState, error) {
	block := e.markets.BlockNumber()
	current, err := e.state.GetRewardIndex(e.id, market, side)
	if err != nil {
		return nil, err
	}
	fresh := current == nil
	if fresh {
		current = NewMarketIndexState(block)
	}
	speeds, err := e.state.GetRewardSpeeds(e.id, market)
	if err != nil {
		return nil, err
	}
	speed := speeds.For(side)

	total := big.NewInt(0)
	if block > current.LastUpdatedBlock && speed.Sign() > 0 {
		total, err = e.interestBearingTotal(market, side)
		if err != nil {
			return nil, err
		}
	}
	next, changed, err := RefreshIndex(current, block, total, speed)
	if err != nil {
		return nil, err
	}
	if !changed && !fresh {
		return next, nil
	}
	if err := e.state.PutRewardIndex(e.id, market, side, next); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.RewardsIndexUpdated{
		Distributor: e.id,
		Market:      market,
		Side:        side.String(),
		Index:       new(big.Int).Set(next.Index),
		Block:       next.LastUpdatedBlock,
	})
	e.metrics.ObserveIndexUpdate(e.id.String(), side.String())
	e.logger.Debug("rewards index updated",
		slog.String("market", market.String()),
		slog.String("side", side.String()),
		slog.String("index", next.Index.String()),
		slog.Uint64("block", next.LastUpdatedBlock))
	return next, nil
}

func (e *Engine) interestBearingTotal(market crypto.Address, side Side) (*big.Int, error) {
	if side == SideSupply {
		return e.markets.TotalSupply(market)
	}
	borrows, err := e.markets.TotalBorrows(market)
	if err != nil {
		return nil, err
	}
	borrowIndex, err := e.markets.BorrowIndex(market)
	if err != nil {
		return nil, err
	}
	return NormalizeBorrow(borrows, borrowIndex)
}

func (e *Engine) participantBalance(market crypto.Address, side Side, user crypto.Address, borrowIndexOverride *big.Int) (*big.Int, error) {
	if side == SideSupply {
		return e.markets.BalanceOf(market, user)
	}
	stored, err := e.markets.BorrowBalanceStored(market, user)
	if err != nil {
		return nil, err
	}
	borrowIndex := borrowIndexOverride
	if borrowIndex == nil || borrowIndex.Sign() == 0 {
		borrowIndex, err = e.markets.BorrowIndex(market)
		if err != nil {
			return nil, err
		}
	}
	return NormalizeBorrow(stored, borrowIndex)
}

// SettleUser credits the user with everything earned since their snapshot
// and moves the snapshot to the current market index, even when nothing was
// earned. On the borrow side the stored borrow balance is normalised by
// borrowIndexOverride, or the market's own index when the override is nil.
func (e *Engine) SettleUser(caller, market crypto.Address, side Side, user crypto.Address, borrowIndexOverride *big.Int) (*Settlement, error) {
	if err := e.guard(caller, e.controller, "settle_user"); err != nil {
		return nil, err
	}
	if !side.Valid() {
		return nil, ErrInvalidSide
	}

	indexState, err := e.state.GetRewardIndex(e.id, market, side)
	if err != nil {
		return nil, err
	}
	if indexState == nil {
		indexState = NewMarketIndexState(e.markets.BlockNumber())
	}
	snapshot, err := e.state.GetRewardSnapshot(e.id, market, side, user)
	if err != nil {
		return nil, err
	}
	var stored *big.Int
	if snapshot != nil {
		stored = snapshot.Index
	}
	balance, err := e.participantBalance(market, side, user, borrowIndexOverride)
	if err != nil {
		return nil, err
	}
	reward, from, err := computeDelta(indexState.Index, stored, balance)
	if err != nil {
		return nil, err
	}

	accrued, err := e.state.GetRewardAccrued(e.id, user)
	if err != nil {
		return nil, err
	}
	accruedU, err := toU256(accrued)
	if err != nil {
		return nil, err
	}
	rewardU, err := toU256(reward)
	if err != nil {
		return nil, err
	}
	totalU, err := add(accruedU, rewardU)
	if err != nil {
		return nil, err
	}
	total := totalU.ToBig()

	if reward.Sign() > 0 {
		if err := e.state.PutRewardAccrued(e.id, user, total); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutRewardSnapshot(e.id, market, side, user, &ParticipantSnapshot{Index: new(big.Int).Set(indexState.Index)}); err != nil {
		return nil, err
	}

	settlement := &Settlement{
		Distributor: e.id,
		Market:      market,
		Side:        side,
		User:        user,
		Balance:     balance,
		FromIndex:   from,
		ToIndex:     new(big.Int).Set(indexState.Index),
		Reward:      reward,
		Accrued:     total,
	}
	e.emitter.Emit(events.RewardsUserSettled{
		Distributor: e.id,
		Token:       e.rewardToken,
		Market:      market,
		Side:        side.String(),
		User:        user,
		Balance:     new(big.Int).Set(balance),
		Index:       new(big.Int).Set(indexState.Index),
		Reward:      new(big.Int).Set(reward),
		Accrued:     new(big.Int).Set(total),
	})
	e.metrics.ObserveSettlement(e.id.String(), side.String(), reward)
	e.logger.Debug("rewards user settled",
		slog.String("market", market.String()),
		slog.String("side", side.String()),
		slog.String("user", user.String()),
		slog.String("reward", reward.String()))
	return settlement, nil
}

// SetSpeeds changes the per-block emission of a market. Both indices are
// first brought up to date at the old speed, so past blocks keep the price
// they accrued at.
func (e *Engine) SetSpeeds(caller, market crypto.Address, supply, borrow *big.Int) error {
	if err := e.guard(caller, e.admin, "set_speeds"); err != nil {
		return err
	}
	if (supply != nil && supply.Sign() < 0) || (borrow != nil && borrow.Sign() < 0) {
		return ErrInvalidSpeed
	}
	for _, side := range Sides {
		if _, err := e.updateIndex(market, side); err != nil {
			return err
		}
	}
	next := (&Speeds{Supply: supply, Borrow: borrow}).Clone()
	if err := e.state.PutRewardSpeeds(e.id, market, next); err != nil {
		return err
	}
	e.emitter.Emit(events.RewardsSpeedUpdated{
		Distributor: e.id,
		Market:      market,
		SupplySpeed: next.For(SideSupply),
		BorrowSpeed: next.For(SideBorrow),
		Block:       e.markets.BlockNumber(),
	})
	e.logger.Info("rewards speeds updated",
		slog.String("market", market.String()),
		slog.String("supply", next.Supply.String()),
		slog.String("borrow", next.Borrow.String()))
	return nil
}

// MarketIndex returns the stored index of a market side, or nil when the
// side has never been refreshed.
func (e *Engine) MarketIndex(market crypto.Address, side Side) (*MarketIndexState, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	state, err := e.state.GetRewardIndex(e.id, market, side)
	if err != nil {
		return nil, err
	}
	return state.Clone(), nil
}

// Snapshot returns the user's snapshot, or nil before their first
// settlement.
func (e *Engine) Snapshot(market crypto.Address, side Side, user crypto.Address) (*ParticipantSnapshot, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	snapshot, err := e.state.GetRewardSnapshot(e.id, market, side, user)
	if err != nil {
		return nil, err
	}
	return snapshot.Clone(), nil
}

// Accrued returns the user's accrued reward, zero when nothing was credited.
func (e *Engine) Accrued(user crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	amount, err := e.state.GetRewardAccrued(e.id, user)
	if err != nil {
		return nil, err
	}
	if amount == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(amount), nil
}

// Speeds returns the configured speeds of a market, zero when unset.
func (e *Engine) Speeds(market crypto.Address) (*Speeds, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	speeds, err := e.state.GetRewardSpeeds(e.id, market)
	if err != nil {
		return nil, err
	}
	if speeds == nil {
		return &Speeds{Supply: big.NewInt(0), Borrow: big.NewInt(0)}, nil
	}
	return speeds.Clone(), nil
}
