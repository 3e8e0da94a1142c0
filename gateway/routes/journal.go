package routes

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"poolrewards/crypto"
	"poolrewards/storage/journal"
)

// EventLog is the read side of the event journal.
type EventLog interface {
	List(ctx context.Context, f journal.Filter) ([]journal.Record, error)
}

type journalRoutes struct {
	log EventLog
}

func (jr *journalRoutes) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := journal.Filter{Type: strings.TrimSpace(query.Get("type"))}
	if raw := strings.TrimSpace(query.Get("account")); raw != "" {
		addr, err := crypto.ParseAddress(raw, crypto.AccountPrefix)
		if err != nil {
			writeError(w, badRequest("account: %v", err))
			return
		}
		filter.Account = addr.String()
	}
	if raw := query.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, badRequest("after: %v", err))
			return
		}
		filter.After = after
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, badRequest("invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}
	records, err := jr.log.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []journal.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}
