package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ballotbox.org/internal/auth"
	"ballotbox.org/internal/voting"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/v1/users",
	"/v1/votes/stream",
	"/",
}

// withAuth validates bearer tokens when a signing secret is configured. With
// no secret the API trusts the wallet addresses in request bodies, matching a
// deployment where a fronting gateway already authenticated the wallet.
func (a *API) withAuth(next http.Handler) http.Handler {
	if !auth.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			respondError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				respondError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			respondError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithWallet(r.Context(), claims.Subject, claims.Admin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorizeWallet checks a claimed wallet address against the authenticated
// identity. When auth is disabled the claimed address is trusted as-is.
func authorizeWallet(ctx context.Context, claimed string) (string, error) {
	claimed = strings.ToLower(strings.TrimSpace(claimed))
	if claimed == "" {
		return "", fmt.Errorf("%w: wallet address is required", voting.ErrValidation)
	}
	wallet, ok := auth.WalletFromContext(ctx)
	if !ok {
		return claimed, nil
	}
	if wallet != claimed && !auth.IsAdmin(ctx) {
		return "", voting.ErrUnauthorized
	}
	return claimed, nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
