package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

// AuthenticatedUserContextKey carries the verified caller identity.
const AuthenticatedUserContextKey = ContextKey("authenticatedUser")

// AuthenticatedUser is the identity the core trusts. Tokens are issued and
// signed by the external identity collaborator; this middleware only
// verifies the signature and extracts the claims.
type AuthenticatedUser struct {
	ID     string
	Claims jwt.MapClaims
}

// UserFromContext extracts the authenticated user set by AuthMiddleware.
func UserFromContext(ctx context.Context) (AuthenticatedUser, bool) {
	user, ok := ctx.Value(AuthenticatedUserContextKey).(AuthenticatedUser)
	return user, ok
}

// AuthMiddleware verifies a Bearer JWT and puts the caller identity into the
// request context. Requests without a valid token and a user_id claim never
// reach a handler.
func AuthMiddleware(secret string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.WarnContext(r.Context(), "Authorization header missing")
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.WarnContext(r.Context(), "Invalid Authorization header format")
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				logger.WarnContext(r.Context(), "Token validation failed", "error", err)
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}
			userID, _ := claims["user_id"].(string)
			if userID == "" {
				logger.WarnContext(r.Context(), "Token missing user_id claim")
				http.Error(w, "Token missing required claim: user_id", http.StatusUnauthorized)
				return
			}

			authUser := AuthenticatedUser{ID: userID, Claims: claims}
			ctx := context.WithValue(r.Context(), AuthenticatedUserContextKey, authUser)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
