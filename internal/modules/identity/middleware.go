package identity

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aristath/tradeapproval/internal/modules/trades"
)

// HeaderUserID carries the acting principal's identifier
const HeaderUserID = "X-User-Id"

type contextKey struct{}

// WithPrincipal returns a context carrying p
func WithPrincipal(ctx context.Context, p trades.Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom extracts the principal stored by Middleware
func PrincipalFrom(ctx context.Context) (trades.Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(trades.Principal)
	return p, ok
}

// Middleware resolves X-User-Id against the directory and rejects unknown
// callers with 401
func Middleware(dir *Directory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderUserID)
			if id == "" {
				writeError(w, http.StatusUnauthorized, "X-User-Id header is required")
				return
			}

			principal, ok := dir.Lookup(id)
			if !ok {
				writeError(w, http.StatusUnauthorized, "User not found")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
