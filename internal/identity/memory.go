package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemory implements Registry with in-process concurrency safety.
type InMemory struct {
	mu       sync.RWMutex
	byWallet map[string]*User
	byName   map[string]string // username -> wallet
}

var _ Registry = (*InMemory)(nil)

// NewInMemory creates an empty registry.
func NewInMemory() *InMemory {
	return &InMemory{
		byWallet: make(map[string]*User),
		byName:   make(map[string]string),
	}
}

func (r *InMemory) Register(ctx context.Context, walletAddress, username string) (User, error) {
	wallet := strings.ToLower(strings.TrimSpace(walletAddress))
	username = strings.TrimSpace(username)
	if wallet == "" || username == "" {
		return User{}, ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byWallet[wallet]; ok {
		return User{}, ErrWalletTaken
	}
	if _, ok := r.byName[username]; ok {
		return User{}, ErrUsernameTaken
	}

	u := &User{
		WalletAddress: wallet,
		Username:      username,
		RegisteredAt:  time.Now().UTC(),
	}
	r.byWallet[wallet] = u
	r.byName[username] = wallet
	return *u, nil
}

func (r *InMemory) ResolveUsername(ctx context.Context, username string) (string, error) {
	username = strings.TrimSpace(username)
	r.mu.RLock()
	defer r.mu.RUnlock()
	wallet, ok := r.byName[username]
	if !ok {
		return "", ErrNotFound
	}
	return wallet, nil
}

func (r *InMemory) ByWallet(ctx context.Context, walletAddress string) (User, error) {
	wallet := strings.ToLower(strings.TrimSpace(walletAddress))
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byWallet[wallet]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (r *InMemory) List(ctx context.Context) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]User, 0, len(r.byWallet))
	for _, u := range r.byWallet {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}
