package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/warp/finance-ledger/finance"
)

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"`
}

// statusFor maps finance sentinels onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, finance.ErrOverlappingLock):
		return http.StatusBadRequest, "overlapping_lock"
	case errors.Is(err, finance.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, finance.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, finance.ErrInvalidStateTransition):
		return http.StatusConflict, "invalid_state_transition"
	case errors.Is(err, finance.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, finance.ErrPeriodLocked):
		return http.StatusLocked, "period_locked"
	case errors.Is(err, finance.ErrAccountInactive):
		return http.StatusConflict, "account_inactive"
	case errors.Is(err, finance.ErrDuplicate):
		return http.StatusConflict, "duplicate"
	}
	return http.StatusInternalServerError, "internal"
}

// writeDomainError renders err with its mapped status. Internal errors are
// logged and their message is not exposed.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		LoggerFrom(r.Context()).Error("request failed", "error", err.Error())
		writeJSON(w, status, ErrorResponse{Error: "internal server error", Code: code})
		return
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}
	var ve *finance.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	var ib *finance.InsufficientBalanceError
	if errors.As(err, &ib) {
		resp.Details = map[string]any{
			"account_id": string(ib.AccountID),
			"balance":    int64(ib.Balance),
			"requested":  int64(ib.Requested),
			"shortfall":  int64(ib.Shortfall),
		}
	}
	var pl *finance.PeriodLockedError
	if errors.As(err, &pl) {
		resp.Details = map[string]any{
			"lock_id":    string(pl.LockID),
			"date":       pl.Date.String(),
			"start_date": pl.Start.String(),
			"end_date":   pl.End.String(),
			"reason":     pl.Reason,
		}
	}
	writeJSON(w, status, resp)
}

// writeError writes a client error that did not come from the engine.
func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: "bad_request"}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		resp.Code = "validation"
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		resp.Details = fields
	} else if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
