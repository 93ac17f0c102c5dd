package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/HetviBarot21/tippy-sub003/internal/api/httpx"
	"github.com/HetviBarot21/tippy-sub003/internal/auth"
)

// TokenHandler exchanges the operator shared key for a short-lived JWT used
// on the initiation and status routes.
type TokenHandler struct {
	TM      *auth.TokenManager
	KeyHash string // bcrypt
	AppEnv  string
}

func NewTokenHandler(tm *auth.TokenManager, keyHash, appEnv string) *TokenHandler {
	return &TokenHandler{TM: tm, KeyHash: keyHash, AppEnv: appEnv}
}

type tokenReq struct {
	Operator string `json:"operator"`
	Key      string `json:"key"`
}

type tokenResp struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req tokenReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Operator == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "operator and key required", nil)
		return
	}

	// dev shortcut: no key hash configured means open issuance
	if h.KeyHash != "" && !auth.CheckKey(h.KeyHash, req.Key) {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid operator key", nil)
		return
	}
	if h.KeyHash == "" && h.AppEnv != "dev" {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "operator key not configured", nil)
		return
	}

	tok, exp, err := h.TM.Generate(req.Operator)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "token generation failed", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResp{
		AccessToken: tok,
		ExpiresIn:   int64(time.Until(exp).Seconds()),
	})
}
