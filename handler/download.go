package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/billgate/billgate/pkg/billing"
	"github.com/billgate/billgate/pkg/download"
)

type downloadHandler struct {
	service *download.Service
}

type issueTokenRequest struct {
	UserID   uuid.UUID `json:"user_id"`
	Platform string    `json:"platform"`
}

type issueTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h downloadHandler) issue(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == uuid.Nil {
		respondBadRequest(w, "user_id is required")
		return
	}
	platform, err := billing.ParsePlatform(req.Platform)
	if err != nil {
		respondError(w, err)
		return
	}

	token, err := h.service.Issue(r.Context(), req.UserID, platform)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, issueTokenResponse{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
	})
}

type redeemResponse struct {
	Platform string `json:"platform"`
	URL      string `json:"url,omitempty"`
}

// redeem consumes the token. With an artifact store configured the client is
// redirected straight to the presigned URL; otherwise a JSON body confirms
// the redemption.
func (h downloadHandler) redeem(w http.ResponseWriter, r *http.Request) {
	value := chi.URLParam(r, "token")
	if value == "" {
		respondBadRequest(w, "token is required")
		return
	}

	red, err := h.service.Redeem(r.Context(), value)
	if err != nil {
		respondError(w, err)
		return
	}

	if red.URL != "" {
		http.Redirect(w, r, red.URL, http.StatusFound)
		return
	}
	respondJSON(w, http.StatusOK, redeemResponse{
		Platform: string(red.Token.Platform),
	})
}
