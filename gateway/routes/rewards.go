package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"poolrewards/crypto"
	"poolrewards/gateway/middleware"
	"poolrewards/integrations/exports"
	"poolrewards/native/controller"
	"poolrewards/native/rewards"
)

const requestBodyLimit = 1 << 16

type rewardsRoutes struct {
	ctrl *controller.Controller
	now  func() time.Time
}

type distributorView struct {
	Address     string `json:"address"`
	RewardToken string `json:"rewardToken"`
	Controller  string `json:"controller"`
}

type marketSideView struct {
	Distributor      string `json:"distributor"`
	Market           string `json:"market"`
	Side             string `json:"side"`
	Index            string `json:"index"`
	LastUpdatedBlock uint64 `json:"lastUpdatedBlock"`
	Initialised      bool   `json:"initialised"`
	Speed            string `json:"speed"`
}

type snapshotView struct {
	Distributor string `json:"distributor"`
	Market      string `json:"market"`
	Side        string `json:"side"`
	Account     string `json:"account"`
	Index       string `json:"index"`
}

type accruedView struct {
	Distributor string `json:"distributor"`
	Account     string `json:"account"`
	RewardToken string `json:"rewardToken"`
	Accrued     string `json:"accrued"`
}

type speedsRequest struct {
	Supply string `json:"supply"`
	Borrow string `json:"borrow"`
}

func (rr *rewardsRoutes) distributor(r *http.Request) (*rewards.Engine, error) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "distributor"), crypto.DistributorPrefix)
	if err != nil {
		return nil, badRequest("distributor: %v", err)
	}
	return rr.ctrl.Distributor(addr)
}

func pathAddress(r *http.Request, param string, prefix crypto.AddressPrefix) (crypto.Address, error) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, param), prefix)
	if err != nil {
		return crypto.Address{}, badRequest("%s: %v", param, err)
	}
	return addr, nil
}

func pathSide(r *http.Request) (rewards.Side, error) {
	side, err := rewards.ParseSide(chi.URLParam(r, "side"))
	if err != nil {
		return 0, badRequest("%v", err)
	}
	return side, nil
}

func (rr *rewardsRoutes) listDistributors(w http.ResponseWriter, r *http.Request) {
	out := make([]distributorView, 0)
	for _, d := range rr.ctrl.Distributors() {
		out = append(out, distributorView{
			Address:     d.ID().String(),
			RewardToken: d.RewardToken(),
			Controller:  d.Controller().String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"distributors": out})
}

func (rr *rewardsRoutes) marketSide(w http.ResponseWriter, r *http.Request) {
	d, err := rr.distributor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	market, err := pathAddress(r, "market", crypto.MarketPrefix)
	if err != nil {
		writeError(w, err)
		return
	}
	side, err := pathSide(r)
	if err != nil {
		writeError(w, err)
		return
	}
	idx, err := d.MarketIndex(market, side)
	if err != nil {
		writeError(w, err)
		return
	}
	speeds, err := d.Speeds(market)
	if err != nil {
		writeError(w, err)
		return
	}
	view := marketSideView{
		Distributor: d.ID().String(),
		Market:      market.String(),
		Side:        side.String(),
		Index:       amountString(rewards.IndexMantissa()),
		Speed:       amountString(speeds.For(side)),
	}
	if idx != nil {
		view.Index = amountString(idx.Index)
		view.LastUpdatedBlock = idx.LastUpdatedBlock
		view.Initialised = true
	}
	writeJSON(w, http.StatusOK, view)
}

func (rr *rewardsRoutes) snapshot(w http.ResponseWriter, r *http.Request) {
	d, err := rr.distributor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	market, err := pathAddress(r, "market", crypto.MarketPrefix)
	if err != nil {
		writeError(w, err)
		return
	}
	side, err := pathSide(r)
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := pathAddress(r, "account", crypto.AccountPrefix)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := d.Snapshot(market, side, account)
	if err != nil {
		writeError(w, err)
		return
	}
	view := snapshotView{
		Distributor: d.ID().String(),
		Market:      market.String(),
		Side:        side.String(),
		Account:     account.String(),
		Index:       "0",
	}
	if snap != nil {
		view.Index = amountString(snap.Index)
	}
	writeJSON(w, http.StatusOK, view)
}

func (rr *rewardsRoutes) accrued(w http.ResponseWriter, r *http.Request) {
	d, err := rr.distributor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := pathAddress(r, "account", crypto.AccountPrefix)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := d.Accrued(account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accruedView{
		Distributor: d.ID().String(),
		Account:     account.String(),
		RewardToken: d.RewardToken(),
		Accrued:     amountString(amount),
	})
}

func (rr *rewardsRoutes) exportAccrued(w http.ResponseWriter, r *http.Request) {
	d, err := rr.distributor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	format, err := exports.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		writeError(w, badRequest("%v", err))
		return
	}
	height, entries, err := rr.ctrl.AccruedEntries(d.ID())
	if err != nil {
		writeError(w, err)
		return
	}
	data, checksum, err := exports.Render(format, exports.AccruedSnapshot{
		Distributor: d.ID(),
		RewardToken: d.RewardToken(),
		Block:       height,
		GeneratedAt: rr.now(),
		Entries:     entries,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename=\"accrued-"+strconv.FormatUint(height, 10)+"."+string(format)+"\"")
	w.Header().Set("X-Checksum-Sha256", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (rr *rewardsRoutes) setSpeeds(w http.ResponseWriter, r *http.Request) {
	d, err := rr.distributor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	market, err := pathAddress(r, "market", crypto.MarketPrefix)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := callerAddress(r, crypto.ControllerPrefix)
	if err != nil {
		writeError(w, err)
		return
	}
	var req speedsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	supply, err := parseAmount(req.Supply, true)
	if err != nil {
		writeError(w, err)
		return
	}
	borrow, err := parseAmount(req.Borrow, true)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := rr.ctrl.SetSpeeds(caller, d.ID(), market, supply, borrow); err != nil {
		writeError(w, err)
		return
	}
	speeds, err := d.Speeds(market)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"distributor": d.ID().String(),
		"market":      market.String(),
		"supply":      amountString(speeds.Supply),
		"borrow":      amountString(speeds.Borrow),
	})
}

// callerAddress resolves the authenticated subject to an address.
func callerAddress(r *http.Request, fallback crypto.AddressPrefix) (crypto.Address, error) {
	subject, ok := middleware.Subject(r.Context())
	if !ok {
		return crypto.Address{}, badRequest("caller identity required")
	}
	addr, err := crypto.ParseAddress(subject, fallback)
	if err != nil {
		return crypto.Address{}, badRequest("caller: %v", err)
	}
	return addr, nil
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return badRequest("missing request body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, requestBodyLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return badRequest("decode request: %v", err)
	}
	return nil
}
