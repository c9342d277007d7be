package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"ballotbox.org/internal/ids"
	"ballotbox.org/internal/notify"
)

func (s *Store) Create(ctx context.Context, recipient, kind, message string, data map[string]string) (notify.Notification, error) {
	recipient = strings.ToLower(strings.TrimSpace(recipient))
	if recipient == "" || message == "" {
		return notify.Notification{}, notify.ErrInvalidInput
	}
	switch kind {
	case notify.TypeCandidateNomination, notify.TypeVotingResult, notify.TypeSystem:
	default:
		return notify.Notification{}, notify.ErrInvalidInput
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return notify.Notification{}, err
	}
	n := notify.Notification{
		ID:        ids.New(),
		Recipient: recipient,
		Type:      kind,
		Message:   message,
		Status:    notify.StatusPending,
		Data:      data,
		CreatedAt: s.now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into notifications(id, recipient, type, message, status, data, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, n.ID, n.Recipient, n.Type, n.Message, n.Status, payload, n.CreatedAt); err != nil {
		return notify.Notification{}, err
	}
	return n, nil
}

func (s *Store) Get(ctx context.Context, id string) (notify.Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx, `
		select id, recipient, type, message, status, data, created_at
		from notifications where id=$1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return notify.Notification{}, notify.ErrNotFound
	}
	return n, err
}

func (s *Store) ForRecipient(ctx context.Context, recipient string) ([]notify.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, recipient, type, message, status, data, created_at
		from notifications where recipient=$1
		order by created_at desc, id desc
	`, strings.ToLower(strings.TrimSpace(recipient)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []notify.Notification{}
	for rows.Next() {
		var n notify.Notification
		var payload []byte
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Type, &n.Message, &n.Status, &payload, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &n.Data); err != nil {
				return nil, err
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update notifications set status=$2 where id=$1 and status=$3
	`, id, notify.StatusRead, notify.StatusPending)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Either missing or already past pending; only the former is an error.
		var exists bool
		if err := s.db.QueryRowContext(ctx, `
			select exists(select 1 from notifications where id=$1)
		`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return notify.ErrNotFound
		}
	}
	return nil
}

func (s *Store) MarkActioned(ctx context.Context, id string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `select status from notifications where id=$1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.ErrNotFound
	}
	if err != nil {
		return err
	}
	if status == notify.StatusActioned {
		return notify.ErrAlreadyActioned
	}
	_, err = s.db.ExecContext(ctx, `
		update notifications set status=$2 where id=$1
	`, id, notify.StatusActioned)
	return err
}

func scanNotification(row *sql.Row) (notify.Notification, error) {
	var n notify.Notification
	var payload []byte
	if err := row.Scan(&n.ID, &n.Recipient, &n.Type, &n.Message, &n.Status, &payload, &n.CreatedAt); err != nil {
		return notify.Notification{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &n.Data); err != nil {
			return notify.Notification{}, err
		}
	}
	return n, nil
}
