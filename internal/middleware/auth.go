package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/api/httpx"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/auth"
)

type claimsKey struct{}

// CurrentUser is the identity-service view of the caller.
type CurrentUser struct {
	ID    string
	Email string
	Role  string
}

func UserFrom(ctx context.Context) (CurrentUser, bool) {
	u, ok := ctx.Value(claimsKey{}).(CurrentUser)
	return u, ok
}

func withUser(ctx context.Context, u CurrentUser) context.Context {
	return context.WithValue(ctx, claimsKey{}, u)
}

type AuthMiddleware struct {
	verifier *auth.Verifier
}

func NewAuthMiddleware(v *auth.Verifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: v}
}

func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ah := r.Header.Get("Authorization")
		if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}
		token := strings.TrimSpace(ah[len("Bearer "):])
		claims, err := m.verifier.Parse(token)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid access token", nil)
			return
		}
		ctx := withUser(r.Context(), CurrentUser{ID: claims.UserID, Email: claims.Email, Role: claims.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
