package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/kcnex/exchange/internal/xerrors"
)

// ErrorResponse is the JSON error envelope every handler in this
// package returns on failure, per spec.md §7's taxonomy.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Available string `json:"available,omitempty"`
	Required  string `json:"required,omitempty"`
}

// statusFor maps an xerrors.Kind to the HTTP status code spec.md §7
// implies for it.
func statusFor(kind xerrors.Kind) int {
	switch kind {
	case xerrors.Validation:
		return http.StatusBadRequest
	case xerrors.InsufficientBalance:
		return http.StatusPaymentRequired
	case xerrors.NotFound:
		return http.StatusNotFound
	case xerrors.CannotCancel:
		return http.StatusConflict
	case xerrors.Duplicate:
		return http.StatusOK
	case xerrors.PartialSettlement:
		return http.StatusUnprocessableEntity
	case xerrors.TransientStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// codeFor maps an xerrors.Kind to one of the symbolic error codes
// spec.md §6's endpoint table names (ORDER_NOT_FOUND, CANNOT_CANCEL,
// etc.), falling back to INTERNAL_ERROR for kinds the table doesn't
// name explicitly.
func codeFor(kind xerrors.Kind) string {
	switch kind {
	case xerrors.NotFound:
		return "ORDER_NOT_FOUND"
	case xerrors.CannotCancel:
		return "CANNOT_CANCEL"
	case xerrors.PartialSettlement:
		return "PARTIAL_SETTLEMENT"
	case xerrors.Validation:
		return "INVALID_SYMBOL"
	case xerrors.TransientStore:
		return "DATABASE_ERROR"
	case xerrors.Duplicate:
		return "ALREADY_SETTLED"
	default:
		return "INTERNAL_ERROR"
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondErr(w http.ResponseWriter, err error) {
	kind := xerrors.KindOf(err)
	respondJSON(w, statusFor(kind), ErrorResponse{
		Error: err.Error(),
		Code:  codeFor(kind),
	})
}
