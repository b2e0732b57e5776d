package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/infra/logging"
)

var (
	errInternal        = errors.New("internal error")
	errRateLimited     = errors.New("too many requests")
	errPayloadTooLarge = errors.New("payload too large")
	errNotEntitled     = errors.New("module not entitled")
)

type errorBody struct {
	Error   errorDetail `json:"error"`
	TraceID string      `json:"trace_id,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// errorTable is checked in order; the first errors.Is match wins.
var errorTable = []errorMapping{
	{errUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{errNotEntitled, http.StatusForbidden, "module_not_entitled"},
	{errRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{errPayloadTooLarge, http.StatusRequestEntityTooLarge, "payload_too_large"},

	{domain.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},

	{domain.ErrCodeNotFound, http.StatusNotFound, "code_not_found"},
	{domain.ErrTierNotFound, http.StatusNotFound, "tier_not_found"},
	{domain.ErrNoSubscription, http.StatusNotFound, "no_subscription"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},

	{domain.ErrCodeInactive, http.StatusUnprocessableEntity, "code_inactive"},
	{domain.ErrCodeExpired, http.StatusUnprocessableEntity, "code_expired"},
	{domain.ErrTierInactive, http.StatusUnprocessableEntity, "tier_inactive"},
	{domain.ErrPaymentCallbackUnrecognized, http.StatusUnprocessableEntity, "payment_callback_unrecognized"},

	{domain.ErrCodeAlreadyUsed, http.StatusConflict, "code_already_used"},
	{domain.ErrCodeUsageExceeded, http.StatusConflict, "code_usage_exceeded"},
	{domain.ErrCodeAlreadyExists, http.StatusConflict, "code_already_exists"},
	{domain.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrConcurrentRedemptionConflict, http.StatusConflict, "concurrent_redemption_conflict"},
	{domain.ErrLockNotAcquired, http.StatusConflict, "lock_not_acquired"},

	{domain.ErrGenerationExhausted, http.StatusServiceUnavailable, "generation_exhausted"},
	{domain.ErrProofStorageDisabled, http.StatusNotImplemented, "proof_storage_disabled"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded"},
}

func classify(err error) (int, string) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest, "invalid_argument"
	}
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status and stable code. Internal failures are
// not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = errInternal.Error()
	}
	writeJSON(w, status, errorBody{
		Error:   errorDetail{Code: code, Message: msg},
		TraceID: logging.TraceID(r.Context()),
	})
}
