package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/HetviBarot21/tippy-sub003/internal/api/httpx"
	"github.com/HetviBarot21/tippy-sub003/internal/auth"
)

type ctxKey string

const ctxOperatorKey ctxKey = "operator"

func Operator(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxOperatorKey).(string)
	return v, ok
}

type AuthMiddleware struct {
	TM     *auth.TokenManager
	AppEnv string
}

func NewAuthMiddleware(tm *auth.TokenManager, appEnv string) *AuthMiddleware {
	return &AuthMiddleware{TM: tm, AppEnv: appEnv}
}

// RequireOperator guards the initiation/status routes.
// DEV: Bearer dev-<name> | any env: Bearer <JWT>
func (m *AuthMiddleware) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ah := r.Header.Get("Authorization")
		if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}
		token := strings.TrimSpace(ah[len("Bearer "):])

		if m.AppEnv == "dev" && strings.HasPrefix(token, "dev-") {
			ctx := context.WithValue(r.Context(), ctxOperatorKey, strings.TrimPrefix(token, "dev-"))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		claims, err := m.TM.Parse(token)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid access token", nil)
			return
		}
		ctx := context.WithValue(r.Context(), ctxOperatorKey, claims.Operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
