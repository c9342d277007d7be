package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"ballotbox.org/internal/identity"
)

func (s *Store) Register(ctx context.Context, walletAddress, username string) (identity.User, error) {
	wallet := strings.ToLower(strings.TrimSpace(walletAddress))
	username = strings.TrimSpace(username)
	if wallet == "" || username == "" {
		return identity.User{}, identity.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return identity.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var taken bool
	if err := tx.QueryRowContext(ctx, `
		select exists(select 1 from users where wallet_address=$1)
	`, wallet).Scan(&taken); err != nil {
		return identity.User{}, err
	}
	if taken {
		return identity.User{}, identity.ErrWalletTaken
	}
	if err := tx.QueryRowContext(ctx, `
		select exists(select 1 from users where username=$1)
	`, username).Scan(&taken); err != nil {
		return identity.User{}, err
	}
	if taken {
		return identity.User{}, identity.ErrUsernameTaken
	}

	now := s.now().UTC()
	if _, err := tx.ExecContext(ctx, `
		insert into users(wallet_address, username, is_admin, registered_at)
		values ($1,$2,false,$3)
	`, wallet, username, now); err != nil {
		return identity.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return identity.User{}, err
	}

	return identity.User{WalletAddress: wallet, Username: username, RegisteredAt: now}, nil
}

func (s *Store) ResolveUsername(ctx context.Context, username string) (string, error) {
	var wallet string
	err := s.db.QueryRowContext(ctx, `
		select wallet_address from users where username=$1
	`, strings.TrimSpace(username)).Scan(&wallet)
	if errors.Is(err, sql.ErrNoRows) {
		return "", identity.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return wallet, nil
}

func (s *Store) ByWallet(ctx context.Context, walletAddress string) (identity.User, error) {
	var u identity.User
	err := s.db.QueryRowContext(ctx, `
		select wallet_address, username, is_admin, registered_at
		from users where wallet_address=$1
	`, strings.ToLower(strings.TrimSpace(walletAddress))).Scan(&u.WalletAddress, &u.Username, &u.IsAdmin, &u.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.User{}, err
	}
	return u, nil
}

func (s *Store) List(ctx context.Context) ([]identity.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select wallet_address, username, is_admin, registered_at
		from users order by username asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []identity.User{}
	for rows.Next() {
		var u identity.User
		if err := rows.Scan(&u.WalletAddress, &u.Username, &u.IsAdmin, &u.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
