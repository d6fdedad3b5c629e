package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-essam23/go-converse/internal/identity"
)

// TokenParser validates a bearer token and returns its claims.
type TokenParser interface {
	Parse(ctx context.Context, credential string) (*identity.Claims, error)
}

// NewAuthMiddleware requires an `Authorization: Bearer <jwt>` header and
// records the caller on the request metadata.
func NewAuthMiddleware(logger *slog.Logger, parser TokenParser) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				WriteError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || strings.TrimSpace(token) == "" {
				logger.Warn("Missing bearer token", slog.String("ip", reqMeta.IP))
				WriteError(w, http.StatusUnauthorized, "No token provided")
				return
			}

			claims, err := parser.Parse(r.Context(), token)
			if err != nil {
				logger.Warn("Invalid bearer token", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				if errors.Is(err, identity.ErrInvalidCredential) || errors.Is(err, identity.ErrRevoked) {
					WriteError(w, http.StatusUnauthorized, "Invalid token")
					return
				}
				WriteError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			reqMeta.UserID = claims.Subject
			reqMeta.Claims = claims
			next.ServeHTTP(w, r)
		})
	}
}
