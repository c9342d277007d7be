package httpapi

import (
	"errors"
	"net/http"
	"time"

	"ballotbox.org/internal/auth"
	"ballotbox.org/internal/identity"
)

type tokenRequest struct {
	WalletAddress string `json:"wallet_address"`
	TTLSeconds    int    `json:"ttl_seconds"`
}

type tokenResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// issueToken signs a wallet-session token for a registered wallet. The wallet
// itself is trusted; signature verification happens upstream.
func (a *API) issueToken(w http.ResponseWriter, r *http.Request) {
	if !auth.Enabled() {
		respondError(w, r, http.StatusServiceUnavailable, "token auth is not configured")
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.users.ByWallet(r.Context(), req.WalletAddress)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, "wallet is not registered")
			return
		}
		handleVotingError(w, r, err)
		return
	}

	ttl := time.Hour
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	if ttl > 24*time.Hour {
		ttl = 24 * time.Hour
	}

	token, err := auth.GenerateToken(user.WalletAddress, user.IsAdmin, ttl)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(ttl),
	})
}
