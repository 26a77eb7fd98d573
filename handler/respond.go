package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/billgate/billgate/pkg/billing"
	"github.com/billgate/billgate/pkg/download"
	"github.com/billgate/billgate/pkg/logger"
)

// JSONResponse is the standard response envelope.
type JSONResponse struct {
	Data  any          `json:"data,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail carries a stable machine-readable code plus a human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{Data: data})
}

// respondError answers with the canned message for the classified code. Raw
// provider and storage error text stays in the server logs, never in the
// response body.
func respondError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Default().Error("request failed", logger.Error(err))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{Error: &ErrorDetail{
		Code:    code,
		Message: errorMessages[code],
	}})
}

func respondBadRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(JSONResponse{Error: &ErrorDetail{
		Code:    "bad_request",
		Message: msg,
	}})
}

var errorMessages = map[string]string{
	"not_found":              "resource not found",
	"plan_not_found":         "unknown plan",
	"email_taken":            "email is already registered",
	"subscription_exists":    "a subscription already exists for this user",
	"conflict":               "the resource changed concurrently, retry the request",
	"invalid_transition":     "the subscription state does not allow this operation",
	"invalid_platform":       "unsupported platform",
	"no_active_subscription": "an active subscription is required",
	"token_expired":          "the download token has expired",
	"token_used":             "the download token has already been used",
	"no_artifact":            "no build is available for this platform",
	"invalid_signature":      "webhook signature verification failed",
	"provider_unavailable":   "the payment provider could not complete the request",
	"internal":               "internal server error",
}

// classify maps the service error taxonomy onto HTTP statuses. Unrecognized
// errors become opaque 500s so internals never leak to clients.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrUserNotFound),
		errors.Is(err, billing.ErrSubscriptionNotFound),
		errors.Is(err, download.ErrTokenNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, billing.ErrPlanNotFound):
		return http.StatusNotFound, "plan_not_found"
	case errors.Is(err, billing.ErrEmailTaken):
		return http.StatusConflict, "email_taken"
	case errors.Is(err, billing.ErrSubscriptionExists):
		return http.StatusConflict, "subscription_exists"
	case errors.Is(err, billing.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, billing.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, billing.ErrInvalidPlatform):
		return http.StatusBadRequest, "invalid_platform"
	case errors.Is(err, download.ErrForbidden):
		return http.StatusForbidden, "no_active_subscription"
	case errors.Is(err, download.ErrTokenExpired):
		return http.StatusGone, "token_expired"
	case errors.Is(err, download.ErrTokenAlreadyUsed):
		return http.StatusGone, "token_used"
	case errors.Is(err, download.ErrNoArtifact):
		return http.StatusNotFound, "no_artifact"
	case errors.Is(err, billing.ErrWebhookSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, billing.ErrProvider):
		return http.StatusBadGateway, "provider_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
