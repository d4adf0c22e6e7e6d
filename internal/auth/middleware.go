package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
	"github.com/ZerkerEOD/krakenwifi/pkg/httputil"
	"github.com/ZerkerEOD/krakenwifi/pkg/jwt"
)

type contextKey string

const claimsKey contextKey = "claims"

// TokenValidator is implemented by jwt.Signer
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

/*
 * JWTMiddleware guards the control API with a bearer token.
 *
 * The token is taken from, in order:
 *   - the Authorization header ("Bearer <token>")
 *   - the "token" cookie
 *   - the "token" query parameter (browsers cannot set headers on WebSocket upgrades)
 *
 * Context Values Added:
 *   - the validated *jwt.Claims, see ClaimsFromContext
 *
 * Response Codes:
 *   - 401: missing or invalid token
 */
func JWTMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := tokenFromRequest(r)
			if token == "" {
				debug.Warning("No token in request %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
				httputil.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				debug.Warning("Token validation failed for request from %s: %v", r.RemoteAddr, err)
				httputil.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			debug.Debug("Token validated for %s (%s) on %s", claims.Subject, claims.Role, r.URL.Path)

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims JWTMiddleware stored, if any
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*jwt.Claims)
	return claims, ok
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie("token"); err == nil {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}
