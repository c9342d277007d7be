package httpapi

import (
	"net/http"
	"strings"

	"ballotbox.org/internal/chain"
	"ballotbox.org/internal/events"
	"ballotbox.org/internal/obs"
	"ballotbox.org/internal/stream"
)

type castVoteRequest struct {
	VoterAddress string `json:"voter_address"`
	Candidate    string `json:"candidate"`
	TxHash       string `json:"tx_hash"`
}

// castVote records a vote. When the caller already mirrored the vote on chain
// (wallet-driven flow) it passes the transaction hash. Otherwise, if the API
// has a ledger client and the session is linked, the mirror write happens here
// before the durable write; a mirror that succeeds while the durable write is
// rejected leaves the chain ahead by one, which result verification surfaces
// as verified=false.
func (a *API) castVote(w http.ResponseWriter, r *http.Request) {
	var req castVoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	voter, err := authorizeWallet(r.Context(), req.VoterAddress)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}

	sessionID := r.PathValue("id")
	var txHash *string
	if tx := strings.TrimSpace(req.TxHash); tx != "" {
		txHash = &tx
	} else if a.ledger != nil {
		sess, err := a.svc.GetSession(r.Context(), sessionID)
		if err != nil {
			handleVotingError(w, r, err)
			return
		}
		if sess.ChainSessionID != nil {
			hash, err := a.ledger.SubmitTransaction(r.Context(), *sess.ChainSessionID, chain.TxPayload{
				Method: "vote",
				Args:   []string{req.Candidate, voter},
			})
			if err != nil {
				handleVotingError(w, r, err)
				return
			}
			txHash = &hash
		}
	}

	receipt, err := a.svc.CastVote(r.Context(), sessionID, voter, req.Candidate, txHash)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}

	obs.VoteCast()
	a.audit(r.Context(), "vote.cast", map[string]any{
		"session_id": receipt.SessionID,
		"candidate":  receipt.Candidate,
	})
	a.publish(r.Context(), events.KindVoteCast, receipt.SessionID, map[string]string{
		"voter":     receipt.Voter,
		"candidate": receipt.Candidate,
	})
	if a.stream != nil {
		evt := stream.VoteEvent{
			SessionID: receipt.SessionID,
			Candidate: receipt.Candidate,
			Voter:     receipt.Voter,
			Timestamp: receipt.Timestamp,
		}
		if receipt.TxHash != nil {
			evt.TxHash = *receipt.TxHash
		}
		a.stream.Publish(evt)
	}

	respond(w, http.StatusCreated, "vote recorded", map[string]any{"receipt": receipt})
}

type revertVoteRequest struct {
	VoterAddress string `json:"voter_address"`
}

// revertVote is the compensation path: a caller whose chain write failed after
// the durable write undoes its vote. Reverting an absent vote succeeds.
func (a *API) revertVote(w http.ResponseWriter, r *http.Request) {
	var req revertVoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	voter, err := authorizeWallet(r.Context(), req.VoterAddress)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}

	sessionID := r.PathValue("id")
	if err := a.svc.RevertVote(r.Context(), sessionID, voter); err != nil {
		handleVotingError(w, r, err)
		return
	}

	obs.VoteReverted()
	a.audit(r.Context(), "vote.revert", map[string]any{"session_id": sessionID})
	a.publish(r.Context(), events.KindVoteReverted, sessionID, map[string]string{"voter": voter})

	respond(w, http.StatusOK, "vote reverted", nil)
}
