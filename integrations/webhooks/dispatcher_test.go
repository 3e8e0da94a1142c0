package webhooks

import (
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"poolrewards/core/events"
	"poolrewards/crypto"
)

func makeAddress(prefix crypto.AddressPrefix, suffix byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(prefix, raw)
}

var (
	dist   = makeAddress(crypto.DistributorPrefix, 1)
	market = makeAddress(crypto.MarketPrefix, 2)
	alice  = makeAddress(crypto.AccountPrefix, 3)
)

func settled() events.RewardsUserSettled {
	return events.RewardsUserSettled{
		Distributor: dist,
		Market:      market,
		Side:        "supply",
		User:        alice,
		Reward:      big.NewInt(42),
	}
}

func TestDispatcherSignsPayload(t *testing.T) {
	var (
		mu        sync.Mutex
		signature string
		eventType string
		body      []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		signature = r.Header.Get(HeaderSignature)
		eventType = r.Header.Get(HeaderEvent)
		body = data
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, err := NewDispatcher(server.URL, []byte("secret"))
	require.NoError(t, err)
	defer d.Close()
	d.Emit(settled())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signature != ""
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, Sign([]byte("secret"), body), signature)
	require.Equal(t, events.TypeRewardsUserSettled, eventType)
	var payload Payload
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, "42", payload.Attributes["reward"])
	require.NotEmpty(t, payload.DeliveryID)
}

func TestDispatcherRetries(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, 10*time.Millisecond, 20*time.Millisecond))
	require.NoError(t, err)
	defer d.Close()
	d.Emit(settled())
	require.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second, 10*time.Millisecond)
}

func TestDispatcherFiltersByPrefix(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, err := NewDispatcher(server.URL, []byte("secret"), WithEventPrefixes("lending."))
	require.NoError(t, err)
	d.Emit(settled())
	d.Emit(events.MarketOperation{Market: market, Operation: "mint", Account: alice})
	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, time.Second, 10*time.Millisecond)
	d.Close()
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestDispatcherValidation(t *testing.T) {
	_, err := NewDispatcher(" ", []byte("secret"))
	require.Error(t, err)
	_, err = NewDispatcher("http://localhost", nil)
	require.Error(t, err)
	require.Equal(t, 30*time.Second, nextBackoff(20*time.Second, 30*time.Second))
}
