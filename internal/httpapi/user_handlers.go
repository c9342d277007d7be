package httpapi

import (
	"net/http"
	"strings"
)

type registerUserRequest struct {
	WalletAddress string `json:"wallet_address"`
	Username      string `json:"username"`
}

func (a *API) registerUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.users.Register(r.Context(), req.WalletAddress, req.Username)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}

	a.audit(r.Context(), "user.register", map[string]any{
		"wallet":   user.WalletAddress,
		"username": user.Username,
	})
	respond(w, http.StatusCreated, "user registered", map[string]any{"user": user})
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.users.List(r.Context())
	if err != nil {
		handleVotingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.users.ByWallet(r.Context(), r.PathValue("wallet"))
	if err != nil {
		handleVotingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (a *API) resolveUsername(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("username"))
	if name == "" {
		respondError(w, r, http.StatusBadRequest, "username query parameter is required")
		return
	}
	wallet, err := a.users.ResolveUsername(r.Context(), name)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"username": name, "wallet_address": wallet})
}
