package notify

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ballotbox.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	entries map[string]*Notification
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty mailbox store.
func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]*Notification)}
}

func (s *InMemory) Create(ctx context.Context, recipient, kind, message string, data map[string]string) (Notification, error) {
	recipient = strings.ToLower(strings.TrimSpace(recipient))
	if recipient == "" || message == "" {
		return Notification{}, ErrInvalidInput
	}
	switch kind {
	case TypeCandidateNomination, TypeVotingResult, TypeSystem:
	default:
		return Notification{}, ErrInvalidInput
	}

	n := &Notification{
		ID:        ids.New(),
		Recipient: recipient,
		Type:      kind,
		Message:   message,
		Status:    StatusPending,
		Data:      copyData(data),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.entries[n.ID] = n
	s.mu.Unlock()
	return *n, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.entries[id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	out := *n
	out.Data = copyData(n.Data)
	return out, nil
}

func (s *InMemory) ForRecipient(ctx context.Context, recipient string) ([]Notification, error) {
	recipient = strings.ToLower(strings.TrimSpace(recipient))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Notification
	for _, n := range s.entries {
		if n.Recipient != recipient {
			continue
		}
		cp := *n
		cp.Data = copyData(n.Data)
		out = append(out, cp)
	}
	// Newest first, the order a mailbox is read in.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if n.Status == StatusPending {
		n.Status = StatusRead
	}
	return nil
}

func (s *InMemory) MarkActioned(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if n.Status == StatusActioned {
		return ErrAlreadyActioned
	}
	n.Status = StatusActioned
	return nil
}

func copyData(data map[string]string) map[string]string {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
