package routes

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"poolrewards/core/events"
	"poolrewards/core/state"
	"poolrewards/crypto"
	"poolrewards/gateway/middleware"
	"poolrewards/native/controller"
	"poolrewards/native/lending"
	"poolrewards/native/rewards"
	"poolrewards/storage"
	"poolrewards/storage/journal"
)

func makeAddress(prefix crypto.AddressPrefix, suffix byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = 0xbb
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(prefix, raw)
}

var (
	controllerID = makeAddress(crypto.ControllerPrefix, 1)
	adminID      = makeAddress(crypto.ControllerPrefix, 2)
	distID       = makeAddress(crypto.DistributorPrefix, 3)
	marketID     = makeAddress(crypto.MarketPrefix, 4)
	alice        = makeAddress(crypto.AccountPrefix, 5)
	bob          = makeAddress(crypto.AccountPrefix, 6)
)

const testSecret = "routes-test-secret"

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), rewards.Mantissa())
}

type harness struct {
	ctrl    *controller.Controller
	stream  *Stream
	handler http.Handler
}

func newHarness(t *testing.T, auth *middleware.Authenticator) *harness {
	t.Helper()
	ctrl := controller.New(controllerID, state.NewManager(storage.NewMemDB()), lending.NewEngine())
	stream := NewStream(nil)
	ctrl.SetEmitter(events.Fanout{stream})
	require.NoError(t, ctrl.AddDistributor(rewards.NewEngine(distID, "RWD", controllerID, adminID)))
	applied, err := ctrl.ApplyGenesis(controller.Genesis{
		Admin:   adminID,
		Markets: []controller.MarketGenesis{{Address: marketID, Params: lending.DefaultMarketParams()}},
		Speeds:  []controller.SpeedGenesis{{Distributor: distID, Market: marketID, Supply: units(1)}},
	})
	require.NoError(t, err)
	require.True(t, applied)

	handler, err := New(Config{
		Controller:    ctrl,
		Stream:        stream,
		Authenticator: auth,
		Now:           func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	require.NoError(t, err)
	return &harness{ctrl: ctrl, stream: stream, handler: handler}
}

func (h *harness) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if caller != "" {
		req.Header.Set("X-Caller", caller)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func operationsPath() string {
	return "/v1/markets/" + marketID.String() + "/operations"
}

func TestOperationsAccrueRewards(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, operationsPath(), alice.String(), operationRequest{Op: "mint", Amount: units(100).String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[operationResponse](t, rec)
	require.Equal(t, "mint", first.Op)
	require.Len(t, first.Settlements, 1)
	require.Equal(t, "0", first.Settlements[0].Reward)

	_, err := h.ctrl.AdvanceBlocks(10)
	require.NoError(t, err)

	rec = h.do(t, http.MethodPost, operationsPath(), alice.String(), operationRequest{Op: "mint", Amount: units(1).String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[operationResponse](t, rec)
	require.Equal(t, uint64(10), second.Block)
	require.Equal(t, units(10).String(), second.Settlements[0].Reward)

	rec = h.do(t, http.MethodGet, "/v1/distributors/"+distID.String()+"/accrued/"+alice.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acc := decode[accruedView](t, rec)
	require.Equal(t, units(10).String(), acc.Accrued)
	require.Equal(t, "RWD", acc.RewardToken)

	rec = h.do(t, http.MethodGet, "/v1/distributors/"+distID.String()+"/markets/"+marketID.String()+"/supply", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	side := decode[marketSideView](t, rec)
	require.True(t, side.Initialised)
	require.Equal(t, uint64(10), side.LastUpdatedBlock)
	require.Equal(t, units(1).String(), side.Speed)

	rec = h.do(t, http.MethodGet, "/v1/distributors/"+distID.String()+"/markets/"+marketID.String()+"/supply/snapshots/"+alice.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[snapshotView](t, rec)
	require.Equal(t, side.Index, snap.Index)

	rec = h.do(t, http.MethodGet, "/v1/markets/"+marketID.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, units(101).String(), decode[marketView](t, rec).TotalSupply)

	rec = h.do(t, http.MethodGet, "/v1/markets/"+marketID.String()+"/positions/"+alice.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, units(101).String(), decode[positionView](t, rec).SupplyBalance)

	rec = h.do(t, http.MethodGet, "/v1/distributors", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), distID.String())
}

func TestOperationErrorStatuses(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, operationsPath(), alice.String(), operationRequest{Op: "mint", Amount: "100"}).Code)

	unknownMarket := "/v1/markets/" + makeAddress(crypto.MarketPrefix, 99).String() + "/operations"
	cases := []struct {
		name   string
		path   string
		caller string
		body   any
		status int
	}{
		{"unknown op", operationsPath(), alice.String(), operationRequest{Op: "flash", Amount: "1"}, http.StatusBadRequest},
		{"missing account", operationsPath(), "", operationRequest{Op: "mint", Amount: "1"}, http.StatusBadRequest},
		{"missing amount", operationsPath(), alice.String(), operationRequest{Op: "mint"}, http.StatusBadRequest},
		{"zero amount", operationsPath(), alice.String(), operationRequest{Op: "mint", Amount: "0"}, http.StatusBadRequest},
		{"negative amount", operationsPath(), alice.String(), operationRequest{Op: "mint", Amount: "-5"}, http.StatusBadRequest},
		{"missing counterparty", operationsPath(), alice.String(), operationRequest{Op: "transfer", Amount: "1"}, http.StatusBadRequest},
		{"unknown field", operationsPath(), alice.String(), map[string]string{"op": "mint", "amount": "1", "extra": "x"}, http.StatusBadRequest},
		{"insufficient balance", operationsPath(), alice.String(), operationRequest{Op: "redeem", Amount: "101"}, http.StatusConflict},
		{"unknown market", unknownMarket, alice.String(), operationRequest{Op: "mint", Amount: "1"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, tc.path, tc.caller, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Contains(t, rec.Body.String(), "error")
		})
	}

	rec := h.do(t, http.MethodGet, "/v1/distributors/"+makeAddress(crypto.DistributorPrefix, 77).String()+"/accrued/"+alice.String(), "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = h.do(t, http.MethodGet, "/v1/distributors/"+distID.String()+"/markets/"+marketID.String()+"/lend", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(t, http.MethodGet, "/v1/distributors/"+distID.String()+"/accrued/not-an-address", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransferBodyAccountWithoutSubject(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodPost, operationsPath(), "", operationRequest{Op: "mint", Account: alice.String(), Amount: "50"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, operationsPath(), "", operationRequest{Op: "transfer", Account: alice.String(), Counterparty: bob.String(), Amount: "20"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[operationResponse](t, rec)
	require.Len(t, resp.Settlements, 2)
	require.Equal(t, alice.String(), resp.Settlements[0].Account)
	require.Equal(t, bob.String(), resp.Settlements[1].Account)

	rec = h.do(t, http.MethodPost, operationsPath(), "", operationRequest{Op: "transfer", Account: alice.String(), Counterparty: alice.String(), Amount: "1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetSpeedsRequiresAdmin(t *testing.T) {
	h := newHarness(t, nil)
	path := "/v1/distributors/" + distID.String() + "/markets/" + marketID.String() + "/speeds"

	rec := h.do(t, http.MethodPut, path, controllerID.String(), speedsRequest{Supply: "5", Borrow: "7"})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPut, path, "", speedsRequest{Supply: "5"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPut, path, adminID.String(), speedsRequest{Supply: "5", Borrow: "7"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[map[string]string](t, rec)
	require.Equal(t, "5", out["supply"])
	require.Equal(t, "7", out["borrow"])

	// An omitted side resets to zero.
	rec = h.do(t, http.MethodPut, path, adminID.String(), speedsRequest{Supply: "9"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0", decode[map[string]string](t, rec)["borrow"])
}

func signToken(t *testing.T, subject, scope string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   subject,
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestWritesRequireScopedTokens(t *testing.T) {
	auth := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	h := newHarness(t, auth)
	speedsPath := "/v1/distributors/" + distID.String() + "/markets/" + marketID.String() + "/speeds"

	send := func(method, path, token string, body any) *httptest.ResponseRecorder {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req := httptest.NewRequest(method, path, bytes.NewReader(data))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		// Ignored when auth is enabled.
		req.Header.Set("X-Caller", adminID.String())
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusUnauthorized, send(http.MethodPut, speedsPath, "", speedsRequest{Supply: "1"}).Code)
	require.Equal(t, http.StatusForbidden, send(http.MethodPut, speedsPath, signToken(t, adminID.String(), middleware.ScopeMarketsWrite), speedsRequest{Supply: "1"}).Code)
	require.Equal(t, http.StatusOK, send(http.MethodPut, speedsPath, signToken(t, adminID.String(), middleware.ScopeRewardsAdmin), speedsRequest{Supply: "1"}).Code)

	rec := send(http.MethodPost, operationsPath(), signToken(t, alice.String(), middleware.ScopeMarketsWrite), operationRequest{Op: "mint", Account: bob.String(), Amount: "10"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	// The token subject wins over the body.
	require.Equal(t, alice.String(), decode[operationResponse](t, rec).Settlements[0].Account)
}

func TestExportAccrued(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, operationsPath(), alice.String(), operationRequest{Op: "mint", Amount: units(10).String()}).Code)
	_, err := h.ctrl.AdvanceBlocks(3)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, operationsPath(), alice.String(), operationRequest{Op: "accrue_interest"}).Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, operationsPath(), alice.String(), operationRequest{Op: "redeem", Amount: units(1).String()}).Code)

	rec := h.do(t, http.MethodGet, "/v1/distributors/"+distID.String()+"/exports/accrued.csv", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Len(t, rec.Header().Get("X-Checksum-Sha256"), 64)
	require.Contains(t, rec.Header().Get("Content-Disposition"), "accrued-3.csv")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], alice.String())
	require.Contains(t, lines[1], units(3).String())

	rec = h.do(t, http.MethodGet, "/v1/distributors/"+distID.String()+"/exports/accrued.parquet", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "application/vnd.apache.parquet", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "accrued-3.parquet")
	body := rec.Body.Bytes()
	require.True(t, bytes.HasPrefix(body, []byte("PAR1")))
	sum := sha256.Sum256(body)
	require.Equal(t, hex.EncodeToString(sum[:]), rec.Header().Get("X-Checksum-Sha256"))

	rec = h.do(t, http.MethodGet, "/v1/distributors/"+distID.String()+"/exports/accrued.xml", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamFiltersByPrefix(t *testing.T) {
	stream := NewStream(nil)
	all, cancelAll := stream.Subscribe("")
	defer cancelAll()
	rewardsOnly, cancelRewards := stream.Subscribe("rewards.")
	require.Equal(t, 2, stream.Subscribers())

	stream.Emit(events.MarketOperation{Market: marketID, Operation: "mint", Account: alice, Amount: big.NewInt(1), BorrowIndex: rewards.Mantissa()})
	stream.Emit(events.RewardsSpeedUpdated{Distributor: distID, Market: marketID, SupplySpeed: big.NewInt(1), BorrowSpeed: big.NewInt(0)})

	first := <-all
	require.Equal(t, uint64(1), first.Sequence)
	require.Equal(t, events.TypeMarketOperation, first.Event.Type)
	require.Equal(t, events.TypeRewardsSpeedUpdated, (<-all).Event.Type)
	require.Equal(t, uint64(2), (<-rewardsOnly).Sequence)

	cancelRewards()
	cancelRewards()
	require.Equal(t, 1, stream.Subscribers())
}

func TestStreamDropsWhenSubscriberIsFull(t *testing.T) {
	stream := NewStream(nil)
	_, cancel := stream.Subscribe("")
	defer cancel()
	for i := 0; i < streamBufferLength+5; i++ {
		stream.Emit(events.MarketOperation{Market: marketID, Operation: "accrue_interest"})
	}
	require.Equal(t, uint64(5), stream.Dropped())
}

func TestEventsWebsocket(t *testing.T) {
	h := newHarness(t, nil)
	server := httptest.NewServer(h.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http")+"/v1/events/ws?type=lending.", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return h.stream.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := h.do(t, http.MethodPost, operationsPath(), alice.String(), operationRequest{Op: "mint", Amount: "10"})
	require.Equal(t, http.StatusOK, rec.Code)

	var msg StreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Equal(t, events.TypeMarketOperation, msg.Event.Type)
	require.Equal(t, "mint", msg.Event.Attributes["operation"])
}

func TestEventsJournalRoute(t *testing.T) {
	h := newHarness(t, nil)
	j, err := journal.Open("sqlite://"+filepath.Join(t.TempDir(), "journal.db"), nil)
	require.NoError(t, err)
	defer j.Close()
	h.ctrl.SetEmitter(events.Fanout{h.stream, j})
	h.handler, err = New(Config{Controller: h.ctrl, Journal: j})
	require.NoError(t, err)
	_, err = h.ctrl.AdvanceBlocks(1)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, operationsPath(), alice.String(), operationRequest{Op: "mint", Amount: "10"}).Code)

	rec := h.do(t, http.MethodGet, "/v1/events?account="+alice.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[map[string][]journal.Record](t, rec)
	// Index refresh carries no account; settlement and operation do.
	require.Len(t, out["events"], 2)
	require.Equal(t, events.TypeRewardsUserSettled, out["events"][0].Type)
	require.Equal(t, events.TypeMarketOperation, out["events"][1].Type)
	require.True(t, out["events"][1].Verify())

	rec = h.do(t, http.MethodGet, "/v1/events?type="+events.TypeRewardsIndexUpdated, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[map[string][]journal.Record](t, rec)["events"], 1)

	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/v1/events?after=x", "", nil).Code)
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/v1/events?limit=-1", "", nil).Code)
}
