package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/model"
)

type contextKey string

const (
	// APIKeyIDKey carries the authenticated key's ID for the audit logger.
	APIKeyIDKey contextKey = "api_key_id"
	apiKeyKey   contextKey = "api_key"
)

// APIKeyAuthenticator resolves a raw operator key. *core.APIKeyService
// satisfies it.
type APIKeyAuthenticator interface {
	Authenticate(ctx context.Context, rawKey string) (*model.APIKey, error)
}

// Auth returns a middleware that requires a valid operator API key, sent as
// X-API-Key or as a bearer token.
func Auth(keys APIKeyAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractAPIKey(r)
			if raw == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			key, err := keys.Authenticate(r.Context(), raw)
			if err != nil {
				if !errors.Is(err, core.ErrInvalidCredentials) {
					zerolog.Ctx(r.Context()).Error().Err(err).Msg("api key lookup failed")
					response.WriteError(w, http.StatusInternalServerError, "authentication unavailable")
					return
				}
				response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyKey, key)
			ctx = context.WithValue(ctx, APIKeyIDKey, key.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAPIKey returns the operator key that authenticated the request.
func GetAPIKey(ctx context.Context) *model.APIKey {
	key, _ := ctx.Value(apiKeyKey).(*model.APIKey)
	return key
}

func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
