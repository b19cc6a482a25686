package myMiddleware

import (
	"context"
	"net/http"
	"strings"

	"mentorchat/internal/auth"
)

// 1. Context keys (exported so handlers can read them)
type contextKey string

const IdentityKey contextKey = "identity"

// 2. The middleware structure
type AuthMiddleware struct {
	authenticator auth.Authenticator
}

func NewAuthMiddleware(a auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{authenticator: a}
}

// 3. The actual handler
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		// Check Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				tokenString = parts[1]
			}
		}

		// Fallback: query param, same name the websocket handshake uses
		if tokenString == "" {
			tokenString = r.URL.Query().Get("authToken")
		}

		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		principal, err := am.authenticator.Authenticate(r.Context(), tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), IdentityKey, principal.Identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFrom returns the caller identity injected by Handle.
func IdentityFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(IdentityKey).(string)
	return id, ok && id != ""
}
