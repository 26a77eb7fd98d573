package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/billgate/billgate/pkg/billing"
	"github.com/billgate/billgate/pkg/logger"
	"github.com/billgate/billgate/pkg/webhook"
)

// maxWebhookBody caps webhook payload size; Stripe events are far smaller.
const maxWebhookBody = 1 << 20

type webhookHandler struct {
	provider   billing.PaymentProvider
	reconciler *webhook.Reconciler
	log        *slog.Logger
}

// stripe verifies the delivery signature, then hands the event to the
// reconciler. A 200 tells Stripe to stop redelivering; a handler failure
// returns 500, and recovery happens through ReprocessFailed replaying the
// stored payload, since a redelivery of the same event is a duplicate.
func (h webhookHandler) stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondBadRequest(w, "unreadable payload")
		return
	}

	ev, err := h.provider.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.log.WarnContext(r.Context(), "webhook signature rejected", logger.Error(err))
		respondError(w, err)
		return
	}

	outcome, err := h.reconciler.Ingest(r.Context(), ev, payload)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}
