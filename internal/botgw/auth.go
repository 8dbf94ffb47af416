package botgw

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/convai/dialog-router/internal/store"
)

// botContextKey is the context key type for the authenticated bot record.
type botContextKey struct{}

// tokenFromPath extracts the token segment from a "/bot{token}/action" path.
// Returns "" if the path does not match the expected shape.
func tokenFromPath(path string) string {
	rest := strings.TrimPrefix(path, "/bot")
	if rest == path {
		return ""
	}
	rest = strings.TrimPrefix(rest, "/")
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return rest
	}
	return rest[:idx]
}

// AuthMiddleware validates the bot token embedded in the request path
// against registered bots, rejecting unknown or banned tokens before the
// handler sees the request.
type AuthMiddleware struct {
	store *store.Store
}

// NewAuthMiddleware builds an AuthMiddleware backed by store.
func NewAuthMiddleware(s *store.Store) *AuthMiddleware {
	return &AuthMiddleware{store: s}
}

// Wrap authenticates the bot token from the URL path and injects the
// resolved store.Bot into the request context for downstream handlers.
// Unknown tokens surface the bot HTTP API's 401 envelope, per the spec's
// BotNotRegistered error kind.
func (am *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		token := tokenFromPath(r.URL.Path)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "BotNotRegistered")
			return
		}

		bot, err := am.store.GetBot(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "BotNotRegistered")
			return
		}
		if !constantTimeEqual(bot.Token, token) || bot.Banned {
			writeError(w, http.StatusUnauthorized, "BotNotRegistered")
			return
		}

		ctx := context.WithValue(r.Context(), botContextKey{}, bot)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// BotFromContext retrieves the authenticated bot record set by
// AuthMiddleware.
func BotFromContext(ctx context.Context) (store.Bot, bool) {
	bot, ok := ctx.Value(botContextKey{}).(store.Bot)
	return bot, ok
}
