package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/billgate/billgate/pkg/billing"
)

type billingHandler struct {
	lifecycle *billing.Lifecycle
	users     billing.UserStore
	subs      billing.SubscriptionStore
}

type registerRequest struct {
	Email    string `json:"email"`
	Platform string `json:"platform"`
}

type userResponse struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Platform string    `json:"platform"`
}

func (h billingHandler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid JSON body")
		return
	}
	if req.Email == "" {
		respondBadRequest(w, "email is required")
		return
	}
	platform, err := billing.ParsePlatform(req.Platform)
	if err != nil {
		respondError(w, err)
		return
	}

	user := &billing.User{
		ID:       uuid.New(),
		Email:    req.Email,
		Platform: platform,
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, userResponse{
		ID:       user.ID,
		Email:    user.Email,
		Platform: string(user.Platform),
	})
}

type checkoutRequest struct {
	UserID uuid.UUID `json:"user_id"`
	PlanID string    `json:"plan_id"`
}

type checkoutResponse struct {
	Subscription subscriptionResponse `json:"subscription"`
	ClientSecret string               `json:"client_secret,omitempty"`
}

func (h billingHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == uuid.Nil {
		respondBadRequest(w, "user_id is required")
		return
	}
	if req.PlanID == "" {
		respondBadRequest(w, "plan_id is required")
		return
	}

	checkout, err := h.lifecycle.StartCheckout(r.Context(), req.UserID, req.PlanID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, checkoutResponse{
		Subscription: toSubscriptionResponse(checkout.Subscription),
		ClientSecret: checkout.ClientSecret,
	})
}

type subscriptionResponse struct {
	ID                 uuid.UUID `json:"id"`
	PlanID             string    `json:"plan_id"`
	Status             string    `json:"status"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	CancelAtPeriodEnd  bool      `json:"cancel_at_period_end"`
}

func toSubscriptionResponse(sub *billing.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                 sub.ID,
		PlanID:             sub.PlanID,
		Status:             string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
}

func (h billingHandler) subscription(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		respondBadRequest(w, "invalid user id")
		return
	}

	sub, err := h.subs.ByUserID(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

func (h billingHandler) cancel(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		respondBadRequest(w, "invalid user id")
		return
	}

	sub, err := h.lifecycle.Cancel(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

func (h billingHandler) reactivate(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		respondBadRequest(w, "invalid user id")
		return
	}

	sub, err := h.lifecycle.Reactivate(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}
