package notify

import (
	"context"
	"errors"
	"testing"
)

func TestCreateAndGet(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	n, err := s.Create(ctx, "0xABC", TypeCandidateNomination, "you were nominated", map[string]string{
		"sessionId": "sess-1",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.Recipient != "0xabc" {
		t.Fatalf("expected lowercased recipient, got %q", n.Recipient)
	}
	if n.Status != StatusPending {
		t.Fatalf("expected pending status, got %q", n.Status)
	}

	got, err := s.Get(ctx, n.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Data["sessionId"] != "sess-1" {
		t.Fatalf("data payload lost: %v", got.Data)
	}
}

func TestCreateValidation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.Create(ctx, "", TypeSystem, "msg", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty recipient, got %v", err)
	}
	if _, err := s.Create(ctx, "0xabc", "bogus_kind", "msg", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown kind, got %v", err)
	}
	if _, err := s.Create(ctx, "0xabc", TypeSystem, "", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty message, got %v", err)
	}
}

func TestForRecipientFiltersAndOrders(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.Create(ctx, "0xabc", TypeSystem, "first", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(ctx, "0xother", TypeSystem, "noise", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := s.Create(ctx, "0xabc", TypeSystem, "second", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	items, err := s.ForRecipient(ctx, "0xABC")
	if err != nil {
		t.Fatalf("ForRecipient: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(items))
	}
	if items[0].ID != second.ID {
		t.Fatalf("expected newest first, got %q", items[0].Message)
	}
}

func TestStatusTransitions(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	n, err := s.Create(ctx, "0xabc", TypeCandidateNomination, "msg", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.MarkRead(ctx, n.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	got, _ := s.Get(ctx, n.ID)
	if got.Status != StatusRead {
		t.Fatalf("expected read status, got %q", got.Status)
	}

	if err := s.MarkActioned(ctx, n.ID); err != nil {
		t.Fatalf("MarkActioned: %v", err)
	}
	if err := s.MarkActioned(ctx, n.ID); !errors.Is(err, ErrAlreadyActioned) {
		t.Fatalf("expected ErrAlreadyActioned, got %v", err)
	}

	// A read after actioning does not regress the status.
	if err := s.MarkRead(ctx, n.ID); err != nil {
		t.Fatalf("MarkRead after actioned: %v", err)
	}
	got, _ = s.Get(ctx, n.ID)
	if got.Status != StatusActioned {
		t.Fatalf("actioned status regressed to %q", got.Status)
	}

	if err := s.MarkRead(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
