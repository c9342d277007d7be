// Package notify is the durable per-recipient mailbox of actionable events.
// Entries are append-only except for the status field; nothing is ever deleted.
package notify

import (
	"context"
	"errors"
	"time"
)

// Notification types.
const (
	TypeCandidateNomination = "candidate_nomination"
	TypeVotingResult        = "voting_result"
	TypeSystem              = "system"
)

// Notification statuses. A notification moves pending -> actioned exactly once
// (nomination responses) or pending -> read (informational entries).
const (
	StatusPending  = "pending"
	StatusRead     = "read"
	StatusActioned = "actioned"
)

// Notification is a single mailbox entry. Data carries the free-form payload
// linking back to the originating session (sessionId, sessionName,
// candidateName for nominations).
type Notification struct {
	ID        string            `json:"id"`
	Recipient string            `json:"recipient"`
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Status    string            `json:"status"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

var (
	ErrNotFound        = errors.New("notify: notification not found")
	ErrInvalidInput    = errors.New("notify: invalid input")
	ErrAlreadyActioned = errors.New("notify: notification already actioned")
)

// Store defines mailbox operations.
type Store interface {
	Create(ctx context.Context, recipient, kind, message string, data map[string]string) (Notification, error)
	Get(ctx context.Context, id string) (Notification, error)
	ForRecipient(ctx context.Context, recipient string) ([]Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkActioned(ctx context.Context, id string) error
}
