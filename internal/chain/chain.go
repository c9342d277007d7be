// Package chain is the boundary to the optional on-chain mirror of a voting
// session. The contract is deliberately narrow: submit a transaction, read a
// per-candidate counter. The mirror is consulted for verification only and is
// never authoritative over the durable tally.
package chain

import (
	"context"
	"errors"
)

// ErrLedger wraps every external-ledger failure. It is propagated to callers
// untranslated so they can decide whether to run the compensating revert.
var ErrLedger = errors.New("chain: ledger call failed")

// TxPayload describes a contract call to mirror on chain.
type TxPayload struct {
	Method string   `json:"method"`
	Args   []string `json:"args"`
}

// Reader reads mirrored state. Vote counts are addressed by the candidate's
// roster index, matching the contract's storage layout.
type Reader interface {
	ReadVoteCount(ctx context.Context, sessionRef string, candidateIndex int) (int64, error)
}

// Ledger is the full collaborator contract. Submission is a blocking round
// trip; retry and backoff policy belongs to the caller, and there is no
// cancellation once a transaction is accepted.
type Ledger interface {
	Reader
	SubmitTransaction(ctx context.Context, sessionRef string, payload TxPayload) (txHash string, err error)
}
