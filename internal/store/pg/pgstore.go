// Package pg is the durable PostgreSQL store. One Store implements the
// session service, the identity registry and the notification mailbox so that
// cross-cutting operations (nomination plus its notification) commit in a
// single transaction.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"ballotbox.org/internal/chain"
	"ballotbox.org/internal/identity"
	"ballotbox.org/internal/ids"
	"ballotbox.org/internal/notify"
	"ballotbox.org/internal/voting"
)

// dateSkew absorbs client/server clock skew on the start-in-future check.
const dateSkew = time.Minute

type Store struct {
	db     *sql.DB
	reader chain.Reader
	now    func() time.Time
}

var (
	_ voting.Service    = (*Store)(nil)
	_ identity.Registry = (*Store)(nil)
	_ notify.Store      = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithChainReader wires the on-chain mirror used for result verification.
func WithChainReader(r chain.Reader) Option {
	return func(s *Store) { s.reader = r }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open connects to PostgreSQL via the pgx stdlib driver.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewWithDB(db, opts...), nil
}

// NewWithDB wraps an existing handle, used by tests.
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) CreateSession(ctx context.Context, in voting.CreateSessionInput) (voting.Session, error) {
	host := strings.ToLower(strings.TrimSpace(in.HostAddress))
	name := strings.TrimSpace(in.Name)
	if host == "" {
		return voting.Session{}, fmt.Errorf("%w: host address is required", voting.ErrValidation)
	}
	if name == "" {
		return voting.Session{}, fmt.Errorf("%w: session name is required", voting.ErrValidation)
	}
	if len(in.Candidates) == 0 {
		return voting.Session{}, fmt.Errorf("%w: at least one candidate is required", voting.ErrValidation)
	}
	if len(in.Voters) == 0 {
		return voting.Session{}, fmt.Errorf("%w: at least one voter is required", voting.ErrValidation)
	}
	now := s.now().UTC()
	if in.StartDate.Before(now.Add(-dateSkew)) {
		return voting.Session{}, fmt.Errorf("%w: start date must not be in the past", voting.ErrValidation)
	}
	if err := voting.ValidateDateOrder(in.StartDate, in.EndDate, in.ResultDate); err != nil {
		return voting.Session{}, err
	}

	candidates := make([]voting.Candidate, 0, len(in.Candidates))
	seen := make(map[string]bool, len(in.Candidates))
	for _, raw := range in.Candidates {
		cname := strings.TrimSpace(raw)
		if cname == "" {
			return voting.Session{}, fmt.Errorf("%w: candidate name must not be empty", voting.ErrValidation)
		}
		if seen[cname] {
			return voting.Session{}, fmt.Errorf("%w: %s", voting.ErrDuplicateCandidate, cname)
		}
		seen[cname] = true
		candidates = append(candidates, voting.Candidate{Name: cname, Status: voting.CandidateStatusAccepted})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return voting.Session{}, err
	}
	defer func() { _ = tx.Rollback() }()

	voters := make([]string, 0, len(in.Voters))
	seenVoter := make(map[string]bool, len(in.Voters))
	for _, ref := range in.Voters {
		wallet, err := s.resolveVoterRef(ctx, tx, ref)
		if err != nil {
			return voting.Session{}, err
		}
		if seenVoter[wallet] {
			return voting.Session{}, fmt.Errorf("%w: %s", voting.ErrDuplicateVoter, wallet)
		}
		seenVoter[wallet] = true
		voters = append(voters, wallet)
	}

	id := ids.New()
	if _, err := tx.ExecContext(ctx, `
		insert into sessions(id, host_address, name, description, start_date, end_date, result_date, active, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,true,$8)
	`, id, host, name, strings.TrimSpace(in.Description), in.StartDate.UTC(), in.EndDate.UTC(), in.ResultDate.UTC(), now); err != nil {
		return voting.Session{}, err
	}
	for i, c := range candidates {
		if _, err := tx.ExecContext(ctx, `
			insert into session_candidates(session_id, position, name, status, nominated_username)
			values ($1,$2,$3,$4,$5)
		`, id, i, c.Name, c.Status, c.NominatedUsername); err != nil {
			return voting.Session{}, err
		}
	}
	for i, v := range voters {
		if _, err := tx.ExecContext(ctx, `
			insert into session_voters(session_id, position, voter)
			values ($1,$2,$3)
		`, id, i, v); err != nil {
			return voting.Session{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return voting.Session{}, err
	}

	return voting.Session{
		ID:          id,
		HostAddress: host,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Candidates:  candidates,
		Voters:      voters,
		Votes:       []voting.Vote{},
		StartDate:   in.StartDate.UTC(),
		EndDate:     in.EndDate.UTC(),
		ResultDate:  in.ResultDate.UTC(),
		Active:      true,
		CreatedAt:   now,
	}, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (voting.Session, error) {
	return s.loadSession(ctx, s.db, id, false)
}

func (s *Store) SessionsByHost(ctx context.Context, host string) ([]voting.Session, error) {
	return s.listSessions(ctx, `select id from sessions where host_address=$1 order by created_at desc, id desc`,
		strings.ToLower(strings.TrimSpace(host)))
}

func (s *Store) SessionsForVoter(ctx context.Context, voter string) ([]voting.Session, error) {
	return s.listSessions(ctx, `
		select s.id from sessions s
		join session_voters v on v.session_id = s.id
		where v.voter=$1
		order by s.created_at desc, s.id desc
	`, strings.ToLower(strings.TrimSpace(voter)))
}

func (s *Store) AddCandidate(ctx context.Context, sessionID, host, candidateName, candidateUsername string) (voting.Session, error) {
	candidateName = strings.TrimSpace(candidateName)
	candidateUsername = strings.TrimSpace(candidateUsername)
	if candidateName == "" {
		return voting.Session{}, fmt.Errorf("%w: candidate name is required", voting.ErrValidation)
	}
	if candidateUsername == "" {
		return voting.Session{}, fmt.Errorf("%w: candidate username is required", voting.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return voting.Session{}, err
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := s.lockHostSession(ctx, tx, sessionID, host)
	if err != nil {
		return voting.Session{}, err
	}
	if p := voting.PhaseOf(sess, s.now()); p != voting.PhaseNotStarted && p != voting.PhaseOpen {
		return voting.Session{}, fmt.Errorf("%w: candidates can only be added before voting ends", voting.ErrInvalidPhase)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		select exists(select 1 from session_candidates where session_id=$1 and name=$2)
	`, sessionID, candidateName).Scan(&exists); err != nil {
		return voting.Session{}, err
	}
	if exists {
		return voting.Session{}, fmt.Errorf("%w: %s", voting.ErrDuplicateCandidate, candidateName)
	}

	var wallet string
	err = tx.QueryRowContext(ctx, `select wallet_address from users where username=$1`, candidateUsername).Scan(&wallet)
	if errors.Is(err, sql.ErrNoRows) {
		return voting.Session{}, fmt.Errorf("%w: %s", voting.ErrUnknownUser, candidateUsername)
	}
	if err != nil {
		return voting.Session{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into session_candidates(session_id, position, name, status, nominated_username)
		values ($1, (select coalesce(max(position)+1, 0) from session_candidates where session_id=$1), $2, 'pending', $3)
	`, sessionID, candidateName, candidateUsername); err != nil {
		return voting.Session{}, err
	}

	if err := s.insertNotification(ctx, tx, wallet, notify.TypeCandidateNomination,
		fmt.Sprintf("You have been nominated as candidate %q in session %q.", candidateName, sess.Name),
		map[string]string{
			"sessionId":     sess.ID,
			"sessionName":   sess.Name,
			"candidateName": candidateName,
		}); err != nil {
		return voting.Session{}, err
	}

	out, err := s.loadSession(ctx, tx, sessionID, false)
	if err != nil {
		return voting.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return voting.Session{}, err
	}
	return out, nil
}

func (s *Store) AddVoter(ctx context.Context, sessionID, host string, ref voting.VoterRef) (voting.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return voting.Session{}, err
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := s.lockHostSession(ctx, tx, sessionID, host)
	if err != nil {
		return voting.Session{}, err
	}
	if p := voting.PhaseOf(sess, s.now()); p != voting.PhaseNotStarted && p != voting.PhaseOpen {
		return voting.Session{}, fmt.Errorf("%w: voters can only be added before voting ends", voting.ErrInvalidPhase)
	}

	wallet, err := s.resolveVoterRef(ctx, tx, ref)
	if err != nil {
		return voting.Session{}, err
	}

	res, err := tx.ExecContext(ctx, `
		insert into session_voters(session_id, position, voter)
		values ($1, (select coalesce(max(position)+1, 0) from session_voters where session_id=$1), $2)
		on conflict (session_id, voter) do nothing
	`, sessionID, wallet)
	if err != nil {
		return voting.Session{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return voting.Session{}, fmt.Errorf("%w: %s", voting.ErrDuplicateVoter, wallet)
	}

	out, err := s.loadSession(ctx, tx, sessionID, false)
	if err != nil {
		return voting.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return voting.Session{}, err
	}
	return out, nil
}

func (s *Store) UpdateDates(ctx context.Context, sessionID, host string, start, end, result time.Time) (voting.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return voting.Session{}, err
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := s.lockHostSession(ctx, tx, sessionID, host)
	if err != nil {
		return voting.Session{}, err
	}
	phase := voting.PhaseOf(sess, s.now())
	if phase == voting.PhaseClosed {
		return voting.Session{}, fmt.Errorf("%w: session is closed", voting.ErrInvalidPhase)
	}
	if err := voting.ValidateDateOrder(start, end, result); err != nil {
		return voting.Session{}, err
	}
	if phase == voting.PhaseNotStarted && start.Before(s.now().UTC().Add(-dateSkew)) {
		return voting.Session{}, fmt.Errorf("%w: start date must not be in the past", voting.ErrValidation)
	}

	if _, err := tx.ExecContext(ctx, `
		update sessions set start_date=$2, end_date=$3, result_date=$4 where id=$1
	`, sessionID, start.UTC(), end.UTC(), result.UTC()); err != nil {
		return voting.Session{}, err
	}

	out, err := s.loadSession(ctx, tx, sessionID, false)
	if err != nil {
		return voting.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return voting.Session{}, err
	}
	return out, nil
}

func (s *Store) CloseSession(ctx context.Context, sessionID, host string) (voting.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return voting.Session{}, err
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := s.lockHostSession(ctx, tx, sessionID, host)
	if err != nil {
		return voting.Session{}, err
	}
	if !sess.Active {
		return voting.Session{}, fmt.Errorf("%w: session is already closed", voting.ErrInvalidPhase)
	}
	if _, err := tx.ExecContext(ctx, `update sessions set active=false where id=$1`, sessionID); err != nil {
		return voting.Session{}, err
	}

	out, err := s.loadSession(ctx, tx, sessionID, false)
	if err != nil {
		return voting.Session{}, err
	}

	res := voting.AggregateResults(out)
	msg := fmt.Sprintf("Session %q has closed with %d votes.", out.Name, res.TotalVotes)
	if len(res.Winners) > 0 {
		msg = fmt.Sprintf("Session %q has closed. Winner: %s.", out.Name, strings.Join(res.Winners, ", "))
	}
	for _, voter := range out.Voters {
		if err := s.insertNotification(ctx, tx, voter, notify.TypeVotingResult, msg, map[string]string{
			"sessionId":   out.ID,
			"sessionName": out.Name,
		}); err != nil {
			return voting.Session{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return voting.Session{}, err
	}
	return out, nil
}

func (s *Store) LinkChain(ctx context.Context, sessionID, host, chainSessionID, txHash string) (voting.Session, error) {
	chainSessionID = strings.TrimSpace(chainSessionID)
	if chainSessionID == "" {
		return voting.Session{}, fmt.Errorf("%w: chain session id is required", voting.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return voting.Session{}, err
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := s.lockHostSession(ctx, tx, sessionID, host)
	if err != nil {
		return voting.Session{}, err
	}
	if !sess.Active {
		return voting.Session{}, fmt.Errorf("%w: session is closed", voting.ErrInvalidPhase)
	}
	if _, err := tx.ExecContext(ctx, `
		update sessions set chain_session_id=$2, chain_tx_hash=nullif($3,'') where id=$1
	`, sessionID, chainSessionID, strings.TrimSpace(txHash)); err != nil {
		return voting.Session{}, err
	}

	out, err := s.loadSession(ctx, tx, sessionID, false)
	if err != nil {
		return voting.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return voting.Session{}, err
	}
	return out, nil
}

func (s *Store) CastVote(ctx context.Context, sessionID, voter, candidateName string, txHash *string) (voting.VoteReceipt, error) {
	voter = strings.ToLower(strings.TrimSpace(voter))
	candidateName = strings.TrimSpace(candidateName)
	if voter == "" || candidateName == "" {
		return voting.VoteReceipt{}, fmt.Errorf("%w: voter and candidate are required", voting.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return voting.VoteReceipt{}, err
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := s.lockSessionRow(ctx, tx, sessionID)
	if err != nil {
		return voting.VoteReceipt{}, err
	}
	now := s.now().UTC()
	if voting.PhaseOf(sess, now) != voting.PhaseOpen {
		return voting.VoteReceipt{}, fmt.Errorf("%w: voting is not open", voting.ErrInvalidPhase)
	}

	var eligible bool
	if err := tx.QueryRowContext(ctx, `
		select exists(select 1 from session_voters where session_id=$1 and voter=$2)
	`, sessionID, voter).Scan(&eligible); err != nil {
		return voting.VoteReceipt{}, err
	}
	if !eligible {
		return voting.VoteReceipt{}, voting.ErrNotEligible
	}

	var hasVoted bool
	if err := tx.QueryRowContext(ctx, `
		select exists(select 1 from votes where session_id=$1 and voter=$2)
	`, sessionID, voter).Scan(&hasVoted); err != nil {
		return voting.VoteReceipt{}, err
	}
	if hasVoted {
		return voting.VoteReceipt{}, voting.ErrAlreadyVoted
	}

	var status string
	err = tx.QueryRowContext(ctx, `
		select status from session_candidates where session_id=$1 and name=$2
	`, sessionID, candidateName).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return voting.VoteReceipt{}, fmt.Errorf("%w: %s", voting.ErrInvalidCandidate, candidateName)
	}
	if err != nil {
		return voting.VoteReceipt{}, err
	}
	if status != voting.CandidateStatusAccepted {
		return voting.VoteReceipt{}, fmt.Errorf("%w: %s", voting.ErrInvalidCandidate, candidateName)
	}

	// The conflict guard closes the race between the existence check above
	// and this insert.
	res, err := tx.ExecContext(ctx, `
		insert into votes(session_id, voter, candidate, tx_hash, created_at)
		values ($1,$2,$3,$4,$5)
		on conflict (session_id, voter) do nothing
	`, sessionID, voter, candidateName, nullable(txHash), now)
	if err != nil {
		return voting.VoteReceipt{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return voting.VoteReceipt{}, voting.ErrAlreadyVoted
	}

	if err := tx.Commit(); err != nil {
		return voting.VoteReceipt{}, err
	}
	return voting.VoteReceipt{
		SessionID: sessionID,
		Voter:     voter,
		Candidate: candidateName,
		Timestamp: now,
		TxHash:    txHash,
	}, nil
}

func (s *Store) RevertVote(ctx context.Context, sessionID, voter string) error {
	voter = strings.ToLower(strings.TrimSpace(voter))

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from sessions where id=$1)
	`, sessionID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return voting.ErrNotFound
	}
	// Zero rows affected is fine; the compensation path may run twice.
	_, err := s.db.ExecContext(ctx, `delete from votes where session_id=$1 and voter=$2`, sessionID, voter)
	return err
}

func (s *Store) RespondToNomination(ctx context.Context, notificationID, sessionID, responder string, accept bool) (voting.Session, error) {
	responder = strings.ToLower(strings.TrimSpace(responder))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return voting.Session{}, err
	}
	defer func() { _ = tx.Rollback() }()

	n, err := scanNotification(tx.QueryRowContext(ctx, `
		select id, recipient, type, message, status, data, created_at
		from notifications where id=$1 for update
	`, notificationID))
	if errors.Is(err, sql.ErrNoRows) {
		return voting.Session{}, fmt.Errorf("%w: notification %s", voting.ErrNotFound, notificationID)
	}
	if err != nil {
		return voting.Session{}, err
	}
	if n.Recipient != responder {
		return voting.Session{}, voting.ErrUnauthorized
	}
	if n.Type != notify.TypeCandidateNomination {
		return voting.Session{}, fmt.Errorf("%w: notification is not a nomination", voting.ErrValidation)
	}
	if n.Data["sessionId"] != sessionID {
		return voting.Session{}, fmt.Errorf("%w: notification does not reference this session", voting.ErrValidation)
	}
	if n.Status == notify.StatusActioned {
		return voting.Session{}, notify.ErrAlreadyActioned
	}

	status := voting.CandidateStatusRejected
	if accept {
		status = voting.CandidateStatusAccepted
	}
	res, err := tx.ExecContext(ctx, `
		update session_candidates set status=$3
		where session_id=$1 and name=$2 and status='pending'
	`, sessionID, n.Data["candidateName"], status)
	if err != nil {
		return voting.Session{}, err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return voting.Session{}, fmt.Errorf("%w: no pending nomination for %q", voting.ErrNotFound, n.Data["candidateName"])
	}

	if _, err := tx.ExecContext(ctx, `
		update notifications set status=$2 where id=$1
	`, notificationID, notify.StatusActioned); err != nil {
		return voting.Session{}, err
	}

	out, err := s.loadSession(ctx, tx, sessionID, false)
	if err != nil {
		return voting.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return voting.Session{}, err
	}
	return out, nil
}

func (s *Store) Results(ctx context.Context, sessionID string) (voting.Results, error) {
	sess, err := s.loadSession(ctx, s.db, sessionID, false)
	if err != nil {
		return voting.Results{}, err
	}
	phase := voting.PhaseOf(sess, s.now())
	if phase != voting.PhaseResultsAvailable && phase != voting.PhaseClosed {
		return voting.Results{}, voting.ErrResultsNotAvailable
	}
	res := voting.AggregateResults(sess)
	res.Verified = voting.VerifyAgainstChain(ctx, s.reader, sess)
	return res, nil
}

// --- helpers ---

// lockSessionRow loads the session header with a row lock, without the child
// tables.
func (s *Store) lockSessionRow(ctx context.Context, q querier, id string) (voting.Session, error) {
	return scanSessionRow(q.QueryRowContext(ctx, sessionHeaderQuery+` for update`, id))
}

func (s *Store) lockHostSession(ctx context.Context, q querier, id, host string) (voting.Session, error) {
	sess, err := s.lockSessionRow(ctx, q, id)
	if err != nil {
		return voting.Session{}, err
	}
	if sess.HostAddress != strings.ToLower(strings.TrimSpace(host)) {
		return voting.Session{}, voting.ErrUnauthorized
	}
	return sess, nil
}

const sessionHeaderQuery = `
	select id, host_address, name, description, start_date, end_date, result_date,
	       active, chain_session_id, chain_tx_hash, created_at
	from sessions where id=$1`

func scanSessionRow(row *sql.Row) (voting.Session, error) {
	var sess voting.Session
	var chainID, chainTx sql.NullString
	err := row.Scan(&sess.ID, &sess.HostAddress, &sess.Name, &sess.Description,
		&sess.StartDate, &sess.EndDate, &sess.ResultDate, &sess.Active,
		&chainID, &chainTx, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return voting.Session{}, voting.ErrNotFound
	}
	if err != nil {
		return voting.Session{}, err
	}
	if chainID.Valid {
		sess.ChainSessionID = &chainID.String
	}
	if chainTx.Valid {
		sess.ChainTxHash = &chainTx.String
	}
	return sess, nil
}

func (s *Store) loadSession(ctx context.Context, q querier, id string, lock bool) (voting.Session, error) {
	query := sessionHeaderQuery
	if lock {
		query += ` for update`
	}
	sess, err := scanSessionRow(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return voting.Session{}, err
	}

	rows, err := q.QueryContext(ctx, `
		select name, status, coalesce(nominated_username,'')
		from session_candidates where session_id=$1 order by position asc
	`, id)
	if err != nil {
		return voting.Session{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var c voting.Candidate
		if err := rows.Scan(&c.Name, &c.Status, &c.NominatedUsername); err != nil {
			return voting.Session{}, err
		}
		sess.Candidates = append(sess.Candidates, c)
	}
	if err := rows.Err(); err != nil {
		return voting.Session{}, err
	}

	voterRows, err := q.QueryContext(ctx, `
		select voter from session_voters where session_id=$1 order by position asc
	`, id)
	if err != nil {
		return voting.Session{}, err
	}
	defer voterRows.Close()
	for voterRows.Next() {
		var v string
		if err := voterRows.Scan(&v); err != nil {
			return voting.Session{}, err
		}
		sess.Voters = append(sess.Voters, v)
	}
	if err := voterRows.Err(); err != nil {
		return voting.Session{}, err
	}

	voteRows, err := q.QueryContext(ctx, `
		select voter, candidate, tx_hash, created_at
		from votes where session_id=$1 order by created_at asc
	`, id)
	if err != nil {
		return voting.Session{}, err
	}
	defer voteRows.Close()
	sess.Votes = []voting.Vote{}
	for voteRows.Next() {
		var v voting.Vote
		var txHash sql.NullString
		if err := voteRows.Scan(&v.Voter, &v.Candidate, &txHash, &v.Timestamp); err != nil {
			return voting.Session{}, err
		}
		if txHash.Valid {
			v.TxHash = &txHash.String
		}
		sess.Votes = append(sess.Votes, v)
	}
	if err := voteRows.Err(); err != nil {
		return voting.Session{}, err
	}
	return sess, nil
}

func (s *Store) listSessions(ctx context.Context, query string, arg any) ([]voting.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessionIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sessionIDs = append(sessionIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]voting.Session, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		sess, err := s.loadSession(ctx, s.db, id, false)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *Store) resolveVoterRef(ctx context.Context, q querier, ref voting.VoterRef) (string, error) {
	id := strings.TrimSpace(ref.Identifier)
	if id == "" {
		return "", fmt.Errorf("%w: voter identifier is required", voting.ErrValidation)
	}
	switch ref.Kind {
	case voting.VoterKindAddress, "":
		return strings.ToLower(id), nil
	case voting.VoterKindUsername:
		var wallet string
		err := q.QueryRowContext(ctx, `select wallet_address from users where username=$1`, id).Scan(&wallet)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", voting.ErrUnknownUser, id)
		}
		if err != nil {
			return "", err
		}
		return wallet, nil
	default:
		return "", fmt.Errorf("%w: unknown voter kind %q", voting.ErrValidation, ref.Kind)
	}
}

func (s *Store) insertNotification(ctx context.Context, q querier, recipient, kind, message string, data map[string]string) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		insert into notifications(id, recipient, type, message, status, data, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, ids.New(), strings.ToLower(strings.TrimSpace(recipient)), kind, message, notify.StatusPending, payload, s.now().UTC())
	return err
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
