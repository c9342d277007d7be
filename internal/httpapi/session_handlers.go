package httpapi

import (
	"net/http"
	"strings"
	"time"

	"ballotbox.org/internal/events"
	"ballotbox.org/internal/voting"
)

type createSessionRequest struct {
	HostAddress string             `json:"host_address"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Candidates  []string           `json:"candidates"`
	Voters      []voting.VoterRef  `json:"voters"`
	StartDate   time.Time          `json:"start_date"`
	EndDate     time.Time          `json:"end_date"`
	ResultDate  time.Time          `json:"result_date"`
}

// sessionView decorates a session with its phase, which is never stored.
type sessionView struct {
	voting.Session
	Phase voting.Phase `json:"phase"`
}

func viewOf(s voting.Session) sessionView {
	return sessionView{Session: s, Phase: voting.PhaseOf(s, time.Now())}
}

func viewsOf(sessions []voting.Session) []sessionView {
	out := make([]sessionView, len(sessions))
	for i, s := range sessions {
		out[i] = viewOf(s)
	}
	return out
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	host, err := authorizeWallet(r.Context(), req.HostAddress)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}

	sess, err := a.svc.CreateSession(r.Context(), voting.CreateSessionInput{
		HostAddress: host,
		Name:        req.Name,
		Description: req.Description,
		Candidates:  req.Candidates,
		Voters:      req.Voters,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		ResultDate:  req.ResultDate,
	})
	if err != nil {
		handleVotingError(w, r, err)
		return
	}

	a.audit(r.Context(), "session.create", map[string]any{
		"session_id": sess.ID,
		"host":       sess.HostAddress,
		"name":       sess.Name,
	})

	w.Header().Set("Location", "/v1/sessions/"+sess.ID)
	respond(w, http.StatusCreated, "session created", map[string]any{"session": viewOf(sess)})
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.svc.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		handleVotingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	host := strings.TrimSpace(r.URL.Query().Get("host"))
	voter := strings.TrimSpace(r.URL.Query().Get("voter"))
	if (host == "") == (voter == "") {
		respondError(w, r, http.StatusBadRequest, "exactly one of host or voter is required")
		return
	}

	var (
		sessions []voting.Session
		err      error
	)
	if host != "" {
		sessions, err = a.svc.SessionsByHost(r.Context(), host)
	} else {
		sessions, err = a.svc.SessionsForVoter(r.Context(), voter)
	}
	if err != nil {
		handleVotingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": viewsOf(sessions)})
}

type addCandidateRequest struct {
	HostAddress       string `json:"host_address"`
	CandidateName     string `json:"candidate_name"`
	CandidateUsername string `json:"candidate_username"`
}

func (a *API) addCandidate(w http.ResponseWriter, r *http.Request) {
	var req addCandidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	host, err := authorizeWallet(r.Context(), req.HostAddress)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}

	sess, err := a.svc.AddCandidate(r.Context(), r.PathValue("id"), host, req.CandidateName, req.CandidateUsername)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "candidate nominated", map[string]any{"session": viewOf(sess)})
}

type addVoterRequest struct {
	HostAddress string `json:"host_address"`
	Identifier  string `json:"identifier"`
	Kind        string `json:"kind"`
}

func (a *API) addVoter(w http.ResponseWriter, r *http.Request) {
	var req addVoterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	host, err := authorizeWallet(r.Context(), req.HostAddress)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}

	sess, err := a.svc.AddVoter(r.Context(), r.PathValue("id"), host, voting.VoterRef{
		Identifier: req.Identifier,
		Kind:       req.Kind,
	})
	if err != nil {
		handleVotingError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "voter added", map[string]any{"session": viewOf(sess)})
}

type updateDatesRequest struct {
	HostAddress string    `json:"host_address"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	ResultDate  time.Time `json:"result_date"`
}

func (a *API) updateDates(w http.ResponseWriter, r *http.Request) {
	var req updateDatesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	host, err := authorizeWallet(r.Context(), req.HostAddress)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}

	sess, err := a.svc.UpdateDates(r.Context(), r.PathValue("id"), host, req.StartDate, req.EndDate, req.ResultDate)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "dates updated", map[string]any{"session": viewOf(sess)})
}

type hostRequest struct {
	HostAddress string `json:"host_address"`
}

func (a *API) closeSession(w http.ResponseWriter, r *http.Request) {
	var req hostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	host, err := authorizeWallet(r.Context(), req.HostAddress)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}

	sess, err := a.svc.CloseSession(r.Context(), r.PathValue("id"), host)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}

	a.audit(r.Context(), "session.close", map[string]any{"session_id": sess.ID})
	a.publish(r.Context(), events.KindSessionClosed, sess.ID, map[string]string{"name": sess.Name})

	respond(w, http.StatusOK, "session closed", map[string]any{"session": viewOf(sess)})
}

type linkChainRequest struct {
	HostAddress    string `json:"host_address"`
	ChainSessionID string `json:"chain_session_id"`
	TxHash         string `json:"tx_hash"`
}

func (a *API) linkChain(w http.ResponseWriter, r *http.Request) {
	var req linkChainRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	host, err := authorizeWallet(r.Context(), req.HostAddress)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}

	sess, err := a.svc.LinkChain(r.Context(), r.PathValue("id"), host, req.ChainSessionID, req.TxHash)
	if err != nil {
		handleVotingError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "chain reference linked", map[string]any{"session": viewOf(sess)})
}

func (a *API) getResults(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.Results(r.Context(), r.PathValue("id"))
	if err != nil {
		handleVotingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": res})
}
