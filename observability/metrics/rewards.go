package metrics

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RewardsMetrics tracks the reward distribution engines and the market
// controller that drives them.
type RewardsMetrics struct {
	indexUpdates *prometheus.CounterVec
	settlements  *prometheus.CounterVec
	rewarded     *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	rollbacks    *prometheus.CounterVec
	operations   *prometheus.HistogramVec
}

var (
	rewardsOnce     sync.Once
	rewardsRegistry *RewardsMetrics

	rewardUnit = new(big.Float).SetInt(big.NewInt(1_000_000_000_000_000_000))
)

func Rewards() *RewardsMetrics {
	rewardsOnce.Do(func() {
		rewardsRegistry = &RewardsMetrics{
			indexUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rewards_index_updates_total",
				Help: "Count of market index refreshes that advanced state, by side.",
			}, []string{"distributor", "side"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rewards_settlements_total",
				Help: "Count of user settlements, by side.",
			}, []string{"distributor", "side"}),
			rewarded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rewards_credited_tokens_total",
				Help: "Reward tokens credited to users in whole-token units.",
			}, []string{"distributor"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rewards_rejected_calls_total",
				Help: "Mutating calls rejected before any state change, by reason.",
			}, []string{"module", "reason"}),
			rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rewards_rollbacks_total",
				Help: "Market operations rolled back, by operation.",
			}, []string{"operation"}),
			operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "rewards_operation_duration_seconds",
				Help:    "Latency of market operations including reward fan-out.",
				Buckets: prometheus.DefBuckets,
			}, []string{"operation", "outcome"}),
		}
		prometheus.MustRegister(
			rewardsRegistry.indexUpdates,
			rewardsRegistry.settlements,
			rewardsRegistry.rewarded,
			rewardsRegistry.rejected,
			rewardsRegistry.rollbacks,
			rewardsRegistry.operations,
		)
	})
	return rewardsRegistry
}

func label(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func (m *RewardsMetrics) ObserveIndexUpdate(distributor, side string) {
	if m == nil {
		return
	}
	m.indexUpdates.WithLabelValues(label(distributor), label(side)).Inc()
}

// ObserveSettlement counts a settlement and adds the credited amount, given
// in Mantissa units, to the whole-token counter.
func (m *RewardsMetrics) ObserveSettlement(distributor, side string, reward *big.Int) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(label(distributor), label(side)).Inc()
	if reward == nil || reward.Sign() <= 0 {
		return
	}
	tokens, _ := new(big.Float).Quo(new(big.Float).SetInt(reward), rewardUnit).Float64()
	m.rewarded.WithLabelValues(label(distributor)).Add(tokens)
}

func (m *RewardsMetrics) IncRejected(module, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(label(module), label(reason)).Inc()
}

func (m *RewardsMetrics) IncRollback(operation string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(label(operation)).Inc()
}

func (m *RewardsMetrics) ObserveOperation(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(label(operation), outcome).Observe(elapsed.Seconds())
}

// InitDistributor pre-registers the label sets of a distributor so the series
// export as zero before the first settlement.
func (m *RewardsMetrics) InitDistributor(distributor string) {
	if m == nil {
		return
	}
	for _, side := range []string{"supply", "borrow"} {
		m.indexUpdates.WithLabelValues(label(distributor), side).Add(0)
		m.settlements.WithLabelValues(label(distributor), side).Add(0)
	}
	m.rewarded.WithLabelValues(label(distributor)).Add(0)
}
