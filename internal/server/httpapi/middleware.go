package httpapi

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/offlinekit/docstore/internal/common"
	"github.com/offlinekit/docstore/internal/server/auth"
	"github.com/offlinekit/docstore/internal/server/users"
)

type ctxKey struct{}

// claimsFrom returns the authenticated identity stored by the auth
// middleware, or nil on unauthenticated requests.
func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(ctxKey{}).(*auth.Claims)
	return claims
}

func isAdmin(claims *auth.Claims) bool {
	return claims != nil && slices.Contains(claims.Roles, users.AdminRole)
}

// auth verifies the bearer token and guards the users collection, which only
// administrators may touch.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			writeError(w, common.ErrUnauthorized)
			return
		}

		claims, err := auth.ParseToken(token, s.secret)
		if err != nil {
			writeError(w, common.ErrUnauthorized)
			return
		}

		if r.PathValue("collection") == users.Collection && !isAdmin(claims) {
			writeError(w, common.ErrForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
	})
}
