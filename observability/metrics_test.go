package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"poolrewards/core/events"
)

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	m.Observe("rewards", "/v1/distributors", 200, 5*time.Millisecond)
	m.Observe("rewards", "/v1/distributors", 409, time.Millisecond)
	m.Observe("", "", 500, time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("rewards", "/v1/distributors", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("rewards", "/v1/distributors", "409")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("unknown", "unknown", "500")))

	m.RecordThrottle("rewards", "")
	require.Equal(t, 1.0, testutil.ToFloat64(m.throttles.WithLabelValues("rewards", "unspecified")))

	var nilMetrics *moduleMetrics
	nilMetrics.Observe("x", "y", 200, 0)
}

func TestEventMetricsCountsByType(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeRewardsUserSettled))
	sink := events.Fanout{events.NoopEmitter{}, m}
	sink.Emit(events.RewardsUserSettled{})
	sink.Emit(events.RewardsUserSettled{})
	m.Emit(nil)
	require.Equal(t, before+2, testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeRewardsUserSettled)))
}
