package routes

import (
	"log/slog"
	"net/http"

	"poolrewards/crypto"
	"poolrewards/gateway/middleware"
	"poolrewards/native/controller"
	"poolrewards/native/lending"
)

type marketRoutes struct {
	ctrl   *controller.Controller
	logger *slog.Logger
}

type operationRequest struct {
	Op           string `json:"op"`
	Account      string `json:"account,omitempty"`
	Counterparty string `json:"counterparty,omitempty"`
	Amount       string `json:"amount,omitempty"`
}

type settlementView struct {
	Distributor string `json:"distributor"`
	Side        string `json:"side"`
	Account     string `json:"account"`
	Reward      string `json:"reward"`
	Index       string `json:"index"`
}

type operationResponse struct {
	Op          string           `json:"op"`
	Market      string           `json:"market"`
	Block       uint64           `json:"block"`
	Amount      string           `json:"amount"`
	BorrowIndex string           `json:"borrowIndex"`
	Settlements []settlementView `json:"settlements"`
}

type marketView struct {
	Market          string `json:"market"`
	TotalSupply     string `json:"totalSupply"`
	TotalBorrows    string `json:"totalBorrows"`
	TotalReserves   string `json:"totalReserves"`
	Cash            string `json:"cash"`
	BorrowIndex     string `json:"borrowIndex"`
	LastUpdateBlock uint64 `json:"lastUpdateBlock"`
}

type positionView struct {
	Market        string `json:"market"`
	Account       string `json:"account"`
	SupplyBalance string `json:"supplyBalance"`
	BorrowBalance string `json:"borrowBalance"`
}

func (mr *marketRoutes) market(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "market", crypto.MarketPrefix)
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := mr.ctrl.Lending().Market(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marketView{
		Market:          addr.String(),
		TotalSupply:     amountString(m.TotalSupply),
		TotalBorrows:    amountString(m.TotalBorrows),
		TotalReserves:   amountString(m.TotalReserves),
		Cash:            amountString(m.Cash),
		BorrowIndex:     amountString(m.BorrowIndex),
		LastUpdateBlock: m.LastUpdateBlock,
	})
}

func (mr *marketRoutes) position(w http.ResponseWriter, r *http.Request) {
	market, err := pathAddress(r, "market", crypto.MarketPrefix)
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := pathAddress(r, "account", crypto.AccountPrefix)
	if err != nil {
		writeError(w, err)
		return
	}
	lend := mr.ctrl.Lending()
	if _, err := lend.Market(market); err != nil {
		writeError(w, err)
		return
	}
	supply, err := lend.BalanceOf(market, account)
	if err != nil {
		writeError(w, err)
		return
	}
	borrow, err := lend.BorrowBalanceStored(market, account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionView{
		Market:        market.String(),
		Account:       account.String(),
		SupplyBalance: amountString(supply),
		BorrowBalance: amountString(borrow),
	})
}

// operate executes a market operation for the authenticated account. When
// the caller carries no subject the body must name the account.
func (mr *marketRoutes) operate(w http.ResponseWriter, r *http.Request) {
	market, err := pathAddress(r, "market", crypto.MarketPrefix)
	if err != nil {
		writeError(w, err)
		return
	}
	var body operationRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := mr.buildRequest(r, market, body)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := mr.ctrl.Execute(req)
	if err != nil {
		mr.logger.Warn("market operation failed",
			slog.String("request_id", middleware.RequestID(r.Context())),
			slog.String("op", string(req.Op)),
			slog.String("market", market.String()),
			slog.Any("error", err))
		writeError(w, err)
		return
	}
	resp := operationResponse{
		Op:          string(result.Op),
		Market:      market.String(),
		Block:       result.Block,
		Amount:      amountString(result.Amount),
		BorrowIndex: amountString(result.BorrowIndex),
		Settlements: make([]settlementView, 0, len(result.Settlements)),
	}
	for _, s := range result.Settlements {
		resp.Settlements = append(resp.Settlements, settlementView{
			Distributor: s.Distributor.String(),
			Side:        s.Side.String(),
			Account:     s.User.String(),
			Reward:      amountString(s.Reward),
			Index:       amountString(s.ToIndex),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (mr *marketRoutes) buildRequest(r *http.Request, market crypto.Address, body operationRequest) (controller.Request, error) {
	op, err := controller.ParseOperation(body.Op)
	if err != nil {
		return controller.Request{}, err
	}
	req := controller.Request{Op: op, Market: market}
	if op == controller.OpAccrueInterest {
		return req, nil
	}

	subject, _ := middleware.Subject(r.Context())
	rawAccount := subject
	if rawAccount == "" {
		rawAccount = body.Account
	}
	if rawAccount == "" {
		return controller.Request{}, badRequest("account required")
	}
	if req.Account, err = crypto.ParseAddress(rawAccount, crypto.AccountPrefix); err != nil {
		return controller.Request{}, badRequest("account: %v", err)
	}
	if body.Counterparty != "" {
		if req.Counterparty, err = crypto.ParseAddress(body.Counterparty, crypto.AccountPrefix); err != nil {
			return controller.Request{}, badRequest("counterparty: %v", err)
		}
	}
	// Repay without an amount settles the whole debt.
	req.Amount, err = parseAmount(body.Amount, op == controller.OpRepay)
	if err != nil {
		return controller.Request{}, err
	}
	if req.Amount != nil && req.Amount.Sign() == 0 {
		return controller.Request{}, lending.ErrInvalidAmount
	}
	return req, nil
}
