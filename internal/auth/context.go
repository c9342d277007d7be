package auth

import (
	"context"
	"strings"
)

type walletContextKey struct{}
type adminContextKey struct{}

// ContextWithWallet stores the authenticated wallet identity in the context.
func ContextWithWallet(ctx context.Context, wallet string, admin bool) context.Context {
	ctx = context.WithValue(ctx, walletContextKey{}, strings.ToLower(strings.TrimSpace(wallet)))
	if admin {
		ctx = context.WithValue(ctx, adminContextKey{}, true)
	}
	return ctx
}

// WalletFromContext extracts the authenticated wallet address from the context.
func WalletFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(walletContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// IsAdmin reports whether the context carries an admin identity.
func IsAdmin(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, ok := ctx.Value(adminContextKey{}).(bool)
	return ok && v
}
