// Package voting holds the session aggregate and the operations on it: session
// lifecycle, candidate nomination, vote casting and reconciliation, and result
// aggregation. The durable vote record here is authoritative; the on-chain
// mirror is advisory and only consulted for verification.
package voting

import (
	"context"
	"errors"
	"time"
)

// Candidate statuses. Initial candidates are accepted; nominated candidates
// start pending and move exactly once to accepted or rejected.
const (
	CandidateStatusPending  = "pending"
	CandidateStatusAccepted = "accepted"
	CandidateStatusRejected = "rejected"
)

// Candidate is a ballot entry, unique by name within a session.
type Candidate struct {
	Name              string `json:"name"`
	Status            string `json:"status"`
	NominatedUsername string `json:"nominated_username,omitempty"`
}

// Vote is one voter's recorded choice. TxHash is set when the vote was
// mirrored on chain before local persistence.
type Vote struct {
	Voter     string    `json:"voter"`
	Candidate string    `json:"candidate"`
	Timestamp time.Time `json:"timestamp"`
	TxHash    *string   `json:"tx_hash,omitempty"`
}

// Session is the aggregate root. Voters is the eligibility allow-list of
// lowercased wallet addresses. Votes holds at most one entry per voter.
type Session struct {
	ID             string      `json:"id"`
	HostAddress    string      `json:"host_address"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	Candidates     []Candidate `json:"candidates"`
	Voters         []string    `json:"voters"`
	Votes          []Vote      `json:"votes"`
	StartDate      time.Time   `json:"start_date"`
	EndDate        time.Time   `json:"end_date"`
	ResultDate     time.Time   `json:"result_date"`
	Active         bool        `json:"active"`
	ChainSessionID *string     `json:"chain_session_id,omitempty"`
	ChainTxHash    *string     `json:"chain_tx_hash,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// VoteReceipt confirms a recorded vote.
type VoteReceipt struct {
	SessionID string    `json:"session_id"`
	Voter     string    `json:"voter"`
	Candidate string    `json:"candidate"`
	Timestamp time.Time `json:"timestamp"`
	TxHash    *string   `json:"tx_hash,omitempty"`
}

// VoterRef identifies a voter to add, either directly by wallet address or
// indirectly by registered username.
type VoterRef struct {
	Identifier string `json:"identifier"`
	Kind       string `json:"kind"`
}

// VoterRef kinds.
const (
	VoterKindAddress  = "address"
	VoterKindUsername = "username"
)

// CreateSessionInput carries everything needed to open a new session.
// Initial candidates are accepted immediately, unlike later nominations.
type CreateSessionInput struct {
	HostAddress string
	Name        string
	Description string
	Candidates  []string
	Voters      []VoterRef
	StartDate   time.Time
	EndDate     time.Time
	ResultDate  time.Time
}

// CandidateResult is one tally row.
type CandidateResult struct {
	Candidate  string `json:"candidate"`
	Votes      int    `json:"votes"`
	Percentage int    `json:"percentage"`
}

// Results is the aggregated outcome of a session. Verified reports whether
// every per-candidate count matched the on-chain mirror; it is false when no
// mirror is linked or the chain could not be read.
type Results struct {
	SessionID  string            `json:"session_id"`
	Tally      []CandidateResult `json:"tally"`
	Winners    []string          `json:"winners"`
	TotalVotes int               `json:"total_votes"`
	Verified   bool              `json:"verified"`
}

var (
	ErrNotFound            = errors.New("voting: session not found")
	ErrUnauthorized        = errors.New("voting: caller is not the session host")
	ErrInvalidPhase        = errors.New("voting: operation not allowed in current phase")
	ErrValidation          = errors.New("voting: invalid input")
	ErrAlreadyVoted        = errors.New("voting: voter has already voted")
	ErrNotEligible         = errors.New("voting: voter is not on the session allow-list")
	ErrInvalidCandidate    = errors.New("voting: candidate not on the ballot")
	ErrDuplicateCandidate  = errors.New("voting: candidate already exists")
	ErrDuplicateVoter      = errors.New("voting: voter already on the allow-list")
	ErrUnknownUser         = errors.New("voting: no registered user with that username")
	ErrResultsNotAvailable = errors.New("voting: results are not available yet")
)

// Service defines every session operation. Host-scoped operations verify the
// caller against the stored host address before anything else; voter-scoped
// operations check phase before business validation.
type Service interface {
	CreateSession(ctx context.Context, in CreateSessionInput) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	SessionsByHost(ctx context.Context, host string) ([]Session, error)
	SessionsForVoter(ctx context.Context, voter string) ([]Session, error)

	AddCandidate(ctx context.Context, sessionID, host, candidateName, candidateUsername string) (Session, error)
	AddVoter(ctx context.Context, sessionID, host string, ref VoterRef) (Session, error)
	UpdateDates(ctx context.Context, sessionID, host string, start, end, result time.Time) (Session, error)
	CloseSession(ctx context.Context, sessionID, host string) (Session, error)
	LinkChain(ctx context.Context, sessionID, host, chainSessionID, txHash string) (Session, error)

	CastVote(ctx context.Context, sessionID, voter, candidateName string, txHash *string) (VoteReceipt, error)
	RevertVote(ctx context.Context, sessionID, voter string) error
	RespondToNomination(ctx context.Context, notificationID, sessionID, responder string, accept bool) (Session, error)

	Results(ctx context.Context, sessionID string) (Results, error)
}
