package auth

import (
	"context"
	"net/http"
	"strings"

	"carecore/internal/incidents"
)

type contextKey string

const accountContextKey contextKey = "carecore_account"

func WithAccount(ctx context.Context, a *Account) context.Context {
	return context.WithValue(ctx, accountContextKey, a)
}

func AccountFromContext(ctx context.Context) (*Account, bool) {
	a, ok := ctx.Value(accountContextKey).(*Account)
	return a, ok
}

// ActorFromContext returns the staff member behind the request.
func ActorFromContext(ctx context.Context) (incidents.Actor, bool) {
	a, ok := AccountFromContext(ctx)
	if !ok || a.EmployeeID == "" {
		return incidents.Actor{}, false
	}
	name := a.DisplayName
	if name == "" {
		name = a.Username
	}
	return incidents.StaffActor(a.EmployeeID, name), true
}

func JWTMiddleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if h == "" || !strings.HasPrefix(h, "Bearer ") {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			token := strings.TrimPrefix(h, "Bearer ")
			claims, err := svc.ParseToken(token)
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			acct := &Account{
				ID:          claims.AccountID,
				Username:    claims.Username,
				EmployeeID:  claims.EmployeeID,
				DisplayName: claims.Name,
				Role:        claims.Role,
			}
			ctx := WithAccount(r.Context(), acct)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole lets the request through only for the listed roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acct, ok := AccountFromContext(r.Context())
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[acct.Role]; !ok {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
