package voting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ballotbox.org/internal/chain"
	"ballotbox.org/internal/identity"
	"ballotbox.org/internal/ids"
	"ballotbox.org/internal/notify"
)

// dateSkewAllowance absorbs client/server clock skew when checking that a new
// session starts in the future.
const dateSkewAllowance = time.Minute

// notification payload keys linking a mailbox entry back to its session.
const (
	dataKeySessionID     = "sessionId"
	dataKeySessionName   = "sessionName"
	dataKeyCandidateName = "candidateName"
)

// ServiceOption configures InMemory.
type ServiceOption func(*InMemory)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *InMemory) {
		if now != nil {
			s.now = now
		}
	}
}

// WithChainReader wires the on-chain mirror used for result verification.
func WithChainReader(r chain.Reader) ServiceOption {
	return func(s *InMemory) { s.reader = r }
}

// InMemory implements Service with in-process concurrency safety. A single
// mutex covers the whole session table; every check-then-mutate sequence runs
// inside one critical section.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	users  identity.Registry
	inbox  notify.Store
	reader chain.Reader
	now    func() time.Time
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty session store backed by the given identity
// registry and notification mailbox.
func NewInMemory(users identity.Registry, inbox notify.Store, opts ...ServiceOption) *InMemory {
	s := &InMemory{
		sessions: make(map[string]*Session),
		users:    users,
		inbox:    inbox,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) CreateSession(ctx context.Context, in CreateSessionInput) (Session, error) {
	host := strings.ToLower(strings.TrimSpace(in.HostAddress))
	name := strings.TrimSpace(in.Name)
	if host == "" {
		return Session{}, fmt.Errorf("%w: host address is required", ErrValidation)
	}
	if name == "" {
		return Session{}, fmt.Errorf("%w: session name is required", ErrValidation)
	}
	if len(in.Candidates) == 0 {
		return Session{}, fmt.Errorf("%w: at least one candidate is required", ErrValidation)
	}
	if len(in.Voters) == 0 {
		return Session{}, fmt.Errorf("%w: at least one voter is required", ErrValidation)
	}

	now := s.now().UTC()
	if in.StartDate.Before(now.Add(-dateSkewAllowance)) {
		return Session{}, fmt.Errorf("%w: start date must not be in the past", ErrValidation)
	}
	if err := ValidateDateOrder(in.StartDate, in.EndDate, in.ResultDate); err != nil {
		return Session{}, err
	}

	candidates := make([]Candidate, 0, len(in.Candidates))
	seen := make(map[string]bool, len(in.Candidates))
	for _, raw := range in.Candidates {
		cname := strings.TrimSpace(raw)
		if cname == "" {
			return Session{}, fmt.Errorf("%w: candidate name must not be empty", ErrValidation)
		}
		if seen[cname] {
			return Session{}, fmt.Errorf("%w: %s", ErrDuplicateCandidate, cname)
		}
		seen[cname] = true
		candidates = append(candidates, Candidate{Name: cname, Status: CandidateStatusAccepted})
	}

	voters, err := s.resolveVoters(ctx, in.Voters)
	if err != nil {
		return Session{}, err
	}

	sess := &Session{
		ID:          ids.New(),
		HostAddress: host,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Candidates:  candidates,
		Voters:      voters,
		Votes:       []Vote{},
		StartDate:   in.StartDate.UTC(),
		EndDate:     in.EndDate.UTC(),
		ResultDate:  in.ResultDate.UTC(),
		Active:      true,
		CreatedAt:   now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return cloneSession(sess), nil
}

func (s *InMemory) GetSession(ctx context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *InMemory) SessionsByHost(ctx context.Context, host string) ([]Session, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	return s.filterSessions(func(sess *Session) bool {
		return sess.HostAddress == host
	}), nil
}

func (s *InMemory) SessionsForVoter(ctx context.Context, voter string) ([]Session, error) {
	voter = strings.ToLower(strings.TrimSpace(voter))
	return s.filterSessions(func(sess *Session) bool {
		for _, v := range sess.Voters {
			if v == voter {
				return true
			}
		}
		return false
	}), nil
}

func (s *InMemory) AddCandidate(ctx context.Context, sessionID, host, candidateName, candidateUsername string) (Session, error) {
	candidateName = strings.TrimSpace(candidateName)
	candidateUsername = strings.TrimSpace(candidateUsername)
	if candidateName == "" {
		return Session{}, fmt.Errorf("%w: candidate name is required", ErrValidation)
	}
	if candidateUsername == "" {
		return Session{}, fmt.Errorf("%w: candidate username is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.hostSession(sessionID, host)
	if err != nil {
		return Session{}, err
	}
	if p := PhaseOf(*sess, s.now()); p != PhaseNotStarted && p != PhaseOpen {
		return Session{}, fmt.Errorf("%w: candidates can only be added before voting ends", ErrInvalidPhase)
	}
	for _, c := range sess.Candidates {
		if c.Name == candidateName {
			return Session{}, fmt.Errorf("%w: %s", ErrDuplicateCandidate, candidateName)
		}
	}

	wallet, err := s.users.ResolveUsername(ctx, candidateUsername)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return Session{}, fmt.Errorf("%w: %s", ErrUnknownUser, candidateUsername)
		}
		return Session{}, err
	}

	sess.Candidates = append(sess.Candidates, Candidate{
		Name:              candidateName,
		Status:            CandidateStatusPending,
		NominatedUsername: candidateUsername,
	})

	// The nomination and its mailbox entry land together or not at all.
	_, err = s.inbox.Create(ctx, wallet, notify.TypeCandidateNomination,
		fmt.Sprintf("You have been nominated as candidate %q in session %q.", candidateName, sess.Name),
		map[string]string{
			dataKeySessionID:     sess.ID,
			dataKeySessionName:   sess.Name,
			dataKeyCandidateName: candidateName,
		})
	if err != nil {
		sess.Candidates = sess.Candidates[:len(sess.Candidates)-1]
		return Session{}, err
	}
	return cloneSession(sess), nil
}

func (s *InMemory) AddVoter(ctx context.Context, sessionID, host string, ref VoterRef) (Session, error) {
	wallet, err := s.resolveVoterRef(ctx, ref)
	if err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.hostSession(sessionID, host)
	if err != nil {
		return Session{}, err
	}
	if p := PhaseOf(*sess, s.now()); p != PhaseNotStarted && p != PhaseOpen {
		return Session{}, fmt.Errorf("%w: voters can only be added before voting ends", ErrInvalidPhase)
	}
	for _, v := range sess.Voters {
		if v == wallet {
			return Session{}, fmt.Errorf("%w: %s", ErrDuplicateVoter, wallet)
		}
	}
	sess.Voters = append(sess.Voters, wallet)
	return cloneSession(sess), nil
}

func (s *InMemory) UpdateDates(ctx context.Context, sessionID, host string, start, end, result time.Time) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.hostSession(sessionID, host)
	if err != nil {
		return Session{}, err
	}
	phase := PhaseOf(*sess, s.now())
	if phase == PhaseClosed {
		return Session{}, fmt.Errorf("%w: session is closed", ErrInvalidPhase)
	}
	if err := ValidateDateOrder(start, end, result); err != nil {
		return Session{}, err
	}
	// A session that has not started yet must keep its start in the future;
	// once open, the start is already in the past and stays movable.
	if phase == PhaseNotStarted && start.Before(s.now().UTC().Add(-dateSkewAllowance)) {
		return Session{}, fmt.Errorf("%w: start date must not be in the past", ErrValidation)
	}

	sess.StartDate = start.UTC()
	sess.EndDate = end.UTC()
	sess.ResultDate = result.UTC()
	return cloneSession(sess), nil
}

func (s *InMemory) CloseSession(ctx context.Context, sessionID, host string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.hostSession(sessionID, host)
	if err != nil {
		return Session{}, err
	}
	if !sess.Active {
		return Session{}, fmt.Errorf("%w: session is already closed", ErrInvalidPhase)
	}
	sess.Active = false

	// Result notifications are best effort; a failed mailbox write does not
	// undo the close.
	res := AggregateResults(*sess)
	msg := fmt.Sprintf("Session %q has closed with %d votes.", sess.Name, res.TotalVotes)
	if len(res.Winners) > 0 {
		msg = fmt.Sprintf("Session %q has closed. Winner: %s.", sess.Name, strings.Join(res.Winners, ", "))
	}
	for _, voter := range sess.Voters {
		_, _ = s.inbox.Create(ctx, voter, notify.TypeVotingResult, msg, map[string]string{
			dataKeySessionID:   sess.ID,
			dataKeySessionName: sess.Name,
		})
	}
	return cloneSession(sess), nil
}

func (s *InMemory) LinkChain(ctx context.Context, sessionID, host, chainSessionID, txHash string) (Session, error) {
	chainSessionID = strings.TrimSpace(chainSessionID)
	if chainSessionID == "" {
		return Session{}, fmt.Errorf("%w: chain session id is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.hostSession(sessionID, host)
	if err != nil {
		return Session{}, err
	}
	if !sess.Active {
		return Session{}, fmt.Errorf("%w: session is closed", ErrInvalidPhase)
	}
	sess.ChainSessionID = &chainSessionID
	if tx := strings.TrimSpace(txHash); tx != "" {
		sess.ChainTxHash = &tx
	}
	return cloneSession(sess), nil
}

func (s *InMemory) CastVote(ctx context.Context, sessionID, voter, candidateName string, txHash *string) (VoteReceipt, error) {
	voter = strings.ToLower(strings.TrimSpace(voter))
	candidateName = strings.TrimSpace(candidateName)
	if voter == "" || candidateName == "" {
		return VoteReceipt{}, fmt.Errorf("%w: voter and candidate are required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return VoteReceipt{}, ErrNotFound
	}
	now := s.now().UTC()
	if PhaseOf(*sess, now) != PhaseOpen {
		return VoteReceipt{}, fmt.Errorf("%w: voting is not open", ErrInvalidPhase)
	}
	if !containsString(sess.Voters, voter) {
		return VoteReceipt{}, ErrNotEligible
	}
	for _, v := range sess.Votes {
		if v.Voter == voter {
			return VoteReceipt{}, ErrAlreadyVoted
		}
	}
	accepted := false
	for _, c := range sess.Candidates {
		if c.Name == candidateName {
			accepted = c.Status == CandidateStatusAccepted
			break
		}
	}
	if !accepted {
		return VoteReceipt{}, fmt.Errorf("%w: %s", ErrInvalidCandidate, candidateName)
	}

	vote := Vote{Voter: voter, Candidate: candidateName, Timestamp: now, TxHash: copyStringPtr(txHash)}
	sess.Votes = append(sess.Votes, vote)

	return VoteReceipt{
		SessionID: sess.ID,
		Voter:     vote.Voter,
		Candidate: vote.Candidate,
		Timestamp: vote.Timestamp,
		TxHash:    copyStringPtr(txHash),
	}, nil
}

func (s *InMemory) RevertVote(ctx context.Context, sessionID, voter string) error {
	voter = strings.ToLower(strings.TrimSpace(voter))

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	// Removing an absent vote is a no-op so the compensation path can be
	// retried safely.
	kept := sess.Votes[:0]
	for _, v := range sess.Votes {
		if v.Voter != voter {
			kept = append(kept, v)
		}
	}
	sess.Votes = kept
	return nil
}

func (s *InMemory) RespondToNomination(ctx context.Context, notificationID, sessionID, responder string, accept bool) (Session, error) {
	responder = strings.ToLower(strings.TrimSpace(responder))

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.inbox.Get(ctx, notificationID)
	if err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			return Session{}, fmt.Errorf("%w: notification %s", ErrNotFound, notificationID)
		}
		return Session{}, err
	}
	if n.Recipient != responder {
		return Session{}, ErrUnauthorized
	}
	if n.Type != notify.TypeCandidateNomination {
		return Session{}, fmt.Errorf("%w: notification is not a nomination", ErrValidation)
	}
	if n.Data[dataKeySessionID] != sessionID {
		return Session{}, fmt.Errorf("%w: notification does not reference this session", ErrValidation)
	}

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}

	candidateName := n.Data[dataKeyCandidateName]
	idx := -1
	for i, c := range sess.Candidates {
		if c.Name == candidateName && c.Status == CandidateStatusPending {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Session{}, fmt.Errorf("%w: no pending nomination for %q", ErrNotFound, candidateName)
	}

	status := CandidateStatusRejected
	if accept {
		status = CandidateStatusAccepted
	}
	sess.Candidates[idx].Status = status

	if err := s.inbox.MarkActioned(ctx, notificationID); err != nil {
		sess.Candidates[idx].Status = CandidateStatusPending
		return Session{}, err
	}
	return cloneSession(sess), nil
}

func (s *InMemory) Results(ctx context.Context, sessionID string) (Results, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	var snapshot Session
	if ok {
		snapshot = cloneSession(sess)
	}
	now := s.now()
	s.mu.RUnlock()

	if !ok {
		return Results{}, ErrNotFound
	}
	if !resultsVisible(PhaseOf(snapshot, now)) {
		return Results{}, ErrResultsNotAvailable
	}

	res := AggregateResults(snapshot)
	res.Verified = VerifyAgainstChain(ctx, s.reader, snapshot)
	return res, nil
}

func (s *InMemory) hostSession(sessionID, host string) (*Session, error) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.HostAddress != strings.ToLower(strings.TrimSpace(host)) {
		return nil, ErrUnauthorized
	}
	return sess, nil
}

func (s *InMemory) filterSessions(match func(*Session) bool) []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Session{}
	for _, sess := range s.sessions {
		if match(sess) {
			out = append(out, cloneSession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *InMemory) resolveVoters(ctx context.Context, refs []VoterRef) ([]string, error) {
	out := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		wallet, err := s.resolveVoterRef(ctx, ref)
		if err != nil {
			return nil, err
		}
		if seen[wallet] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateVoter, wallet)
		}
		seen[wallet] = true
		out = append(out, wallet)
	}
	return out, nil
}

func (s *InMemory) resolveVoterRef(ctx context.Context, ref VoterRef) (string, error) {
	id := strings.TrimSpace(ref.Identifier)
	if id == "" {
		return "", fmt.Errorf("%w: voter identifier is required", ErrValidation)
	}
	switch ref.Kind {
	case VoterKindAddress, "":
		return strings.ToLower(id), nil
	case VoterKindUsername:
		wallet, err := s.users.ResolveUsername(ctx, id)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				return "", fmt.Errorf("%w: %s", ErrUnknownUser, id)
			}
			return "", err
		}
		return wallet, nil
	default:
		return "", fmt.Errorf("%w: unknown voter kind %q", ErrValidation, ref.Kind)
	}
}

func ValidateDateOrder(start, end, result time.Time) error {
	if !end.After(start) {
		return fmt.Errorf("%w: end date must be after start date", ErrValidation)
	}
	if result.Before(end) {
		return fmt.Errorf("%w: result date must not be before end date", ErrValidation)
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func copyStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSession(s *Session) Session {
	out := *s
	out.Candidates = append([]Candidate(nil), s.Candidates...)
	out.Voters = append([]string(nil), s.Voters...)
	out.Votes = make([]Vote, len(s.Votes))
	for i, v := range s.Votes {
		v.TxHash = copyStringPtr(v.TxHash)
		out.Votes[i] = v
	}
	out.ChainSessionID = copyStringPtr(s.ChainSessionID)
	out.ChainTxHash = copyStringPtr(s.ChainTxHash)
	return out
}
