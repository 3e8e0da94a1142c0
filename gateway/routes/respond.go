package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"poolrewards/core/state"
	nativecommon "poolrewards/native/common"
	"poolrewards/native/controller"
	"poolrewards/native/lending"
	"poolrewards/native/rewards"
)

// errBadRequest marks malformed input detected by the handlers.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if trimmed := strings.TrimSpace(err.Error()); trimmed != "" {
			message = trimmed
		}
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors to HTTP status codes. Authorization and
// arithmetic failures keep their own codes even when they rolled a
// transaction back.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, rewards.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, rewards.ErrArithmeticOverflow), errors.Is(err, rewards.ErrInvariantViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, controller.ErrUnknownDistributor), errors.Is(err, lending.ErrUnknownMarket):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, controller.ErrUnknownOperation),
		errors.Is(err, controller.ErrMissingCounterparty),
		errors.Is(err, rewards.ErrInvalidSide),
		errors.Is(err, rewards.ErrInvalidSpeed),
		errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrSelfTransfer):
		return http.StatusBadRequest
	case state.IsRollback(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err)
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseAmount reads a non-negative decimal integer. allowEmpty lets callers
// treat a missing amount as nil.
func parseAmount(raw string, allowEmpty bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if allowEmpty {
			return nil, nil
		}
		return nil, badRequest("amount required")
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || v.Sign() < 0 {
		return nil, badRequest("invalid amount %q", raw)
	}
	return v, nil
}
