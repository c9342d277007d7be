package httpapi

import (
	"net/http"

	"ballotbox.org/internal/events"
)

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	wallet, err := authorizeWallet(r.Context(), r.PathValue("wallet"))
	if err != nil {
		handleVotingError(w, r, err)
		return
	}
	items, err := a.inbox.ForRecipient(r.Context(), wallet)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

type markReadRequest struct {
	WalletAddress string `json:"wallet_address"`
}

func (a *API) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	wallet, err := authorizeWallet(r.Context(), req.WalletAddress)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}

	id := r.PathValue("id")
	n, err := a.inbox.Get(r.Context(), id)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}
	if n.Recipient != wallet {
		respondError(w, r, http.StatusForbidden, "notification belongs to another wallet")
		return
	}
	if err := a.inbox.MarkRead(r.Context(), id); err != nil {
		handleVotingError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "notification marked read", nil)
}

type nominationResponseRequest struct {
	NotificationID string `json:"notification_id"`
	SessionID      string `json:"session_id"`
	WalletAddress  string `json:"wallet_address"`
	Accept         bool   `json:"accept"`
}

func (a *API) respondToNomination(w http.ResponseWriter, r *http.Request) {
	var req nominationResponseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	responder, err := authorizeWallet(r.Context(), req.WalletAddress)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}

	sess, err := a.svc.RespondToNomination(r.Context(), req.NotificationID, req.SessionID, responder, req.Accept)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}

	decision := "declined"
	if req.Accept {
		decision = "accepted"
	}
	a.audit(r.Context(), "nomination.respond", map[string]any{
		"session_id": sess.ID,
		"decision":   decision,
	})
	a.publish(r.Context(), events.KindNominationResponse, sess.ID, map[string]string{
		"responder": responder,
		"decision":  decision,
	})

	respond(w, http.StatusOK, "nomination "+decision, map[string]any{"session": viewOf(sess)})
}
