// Package httpapi is the HTTP surface of the voting service: session
// lifecycle, vote casting, nominations, user registration and live vote
// streaming.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"ballotbox.org/internal/audit"
	"ballotbox.org/internal/chain"
	"ballotbox.org/internal/events"
	"ballotbox.org/internal/identity"
	"ballotbox.org/internal/notify"
	"ballotbox.org/internal/obs"
	"ballotbox.org/internal/stream"
	"ballotbox.org/internal/voting"
)

// ReadyProbe checks backing-store readiness (for example a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	svc      voting.Service
	users    identity.Registry
	inbox    notify.Store
	stream   *stream.Stream
	ledger   chain.Ledger
	producer *events.Producer

	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
}

// APIOption configures optional collaborators.
type APIOption func(*API)

// WithLedger enables server-side mirroring of votes onto the external ledger.
func WithLedger(l chain.Ledger) APIOption {
	return func(a *API) { a.ledger = l }
}

// WithProducer enables Kafka event publication.
func WithProducer(p *events.Producer) APIOption {
	return func(a *API) { a.producer = p }
}

// WithRateLimit overrides the default per-IP limiter.
func WithRateLimit(burst, perSec int) APIOption {
	return func(a *API) {
		if burst > 0 {
			a.rateBurst = burst
		}
		if perSec > 0 {
			a.ratePerSec = perSec
		}
	}
}

// WithMaxBodyBytes overrides the request body cap.
func WithMaxBodyBytes(n int64) APIOption {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func New(rp ReadyProbe, version string, svc voting.Service, users identity.Registry, inbox notify.Store, str *stream.Stream, opts ...APIOption) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		svc:          svc,
		users:        users,
		inbox:        inbox,
		stream:       str,
		rateBurst:    60,
		ratePerSec:   30,
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/token", a.issueToken)

	a.mux.HandleFunc("POST /v1/users", a.registerUser)
	a.mux.HandleFunc("GET /v1/users", a.listUsers)
	a.mux.HandleFunc("GET /v1/users/resolve", a.resolveUsername)
	a.mux.HandleFunc("GET /v1/users/{wallet}", a.getUser)

	a.mux.HandleFunc("POST /v1/sessions", a.createSession)
	a.mux.HandleFunc("GET /v1/sessions", a.listSessions)
	a.mux.HandleFunc("GET /v1/sessions/{id}", a.getSession)
	a.mux.HandleFunc("POST /v1/sessions/{id}/candidates", a.addCandidate)
	a.mux.HandleFunc("POST /v1/sessions/{id}/voters", a.addVoter)
	a.mux.HandleFunc("POST /v1/sessions/{id}/dates", a.updateDates)
	a.mux.HandleFunc("POST /v1/sessions/{id}/close", a.closeSession)
	a.mux.HandleFunc("POST /v1/sessions/{id}/chain", a.linkChain)
	a.mux.HandleFunc("POST /v1/sessions/{id}/votes", a.castVote)
	a.mux.HandleFunc("POST /v1/sessions/{id}/votes/revert", a.revertVote)
	a.mux.HandleFunc("GET /v1/sessions/{id}/results", a.getResults)

	a.mux.HandleFunc("GET /v1/notifications/{wallet}", a.listNotifications)
	a.mux.HandleFunc("POST /v1/notifications/{id}/read", a.markNotificationRead)
	a.mux.HandleFunc("POST /v1/notifications/respond", a.respondToNomination)

	a.mux.HandleFunc("GET /v1/votes/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := obs.Instrument(a.mux)
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	return h
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "ballotbox-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "ballotbox-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// respond writes the success envelope with optional extra payload fields.
func respond(w http.ResponseWriter, code int, message string, extra map[string]any) {
	payload := map[string]any{
		"success": true,
		"message": message,
	}
	for k, v := range extra {
		payload[k] = v
	}
	writeJSON(w, code, payload)
}

func respondError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"success": false,
		"error":   msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// decodeJSON relies on the MaxBodyBytes middleware for the size cap.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleVotingError maps domain errors onto statuses. No partial success: a
// failed operation changes nothing server-side.
func handleVotingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, voting.ErrValidation), errors.Is(err, notify.ErrInvalidInput), errors.Is(err, identity.ErrInvalidInput):
		respondError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, voting.ErrNotFound), errors.Is(err, notify.ErrNotFound), errors.Is(err, identity.ErrNotFound):
		respondError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, voting.ErrUnauthorized):
		respondError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, voting.ErrInvalidPhase), errors.Is(err, voting.ErrResultsNotAvailable):
		respondError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, voting.ErrAlreadyVoted),
		errors.Is(err, voting.ErrDuplicateCandidate),
		errors.Is(err, voting.ErrDuplicateVoter),
		errors.Is(err, notify.ErrAlreadyActioned):
		respondError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, voting.ErrNotEligible), errors.Is(err, voting.ErrInvalidCandidate), errors.Is(err, voting.ErrUnknownUser):
		respondError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, chain.ErrLedger):
		respondError(w, r, http.StatusBadGateway, err.Error())
	case errors.Is(err, identity.ErrWalletTaken), errors.Is(err, identity.ErrUsernameTaken):
		respondError(w, r, http.StatusConflict, err.Error())
	default:
		respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) publish(ctx context.Context, kind, sessionID string, fields map[string]string) {
	if a.producer != nil {
		a.producer.Publish(ctx, kind, sessionID, fields)
	}
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}
