// Package identity maps wallet addresses to chosen display names. Identities
// are immutable once registered; both axes are unique.
package identity

import (
	"context"
	"errors"
	"time"
)

// User links a wallet address to a display name. Addresses are stored
// lowercased so lookups are case-insensitive.
type User struct {
	WalletAddress string    `json:"wallet_address"`
	Username      string    `json:"username"`
	IsAdmin       bool      `json:"is_admin"`
	RegisteredAt  time.Time `json:"registered_at"`
}

var (
	ErrNotFound      = errors.New("identity: user not found")
	ErrWalletTaken   = errors.New("identity: wallet address already registered")
	ErrUsernameTaken = errors.New("identity: username already taken")
	ErrInvalidInput  = errors.New("identity: invalid input")
)

// Registry defines identity operations.
type Registry interface {
	Register(ctx context.Context, walletAddress, username string) (User, error)
	ResolveUsername(ctx context.Context, username string) (string, error)
	ByWallet(ctx context.Context, walletAddress string) (User, error)
	List(ctx context.Context) ([]User, error)
}
