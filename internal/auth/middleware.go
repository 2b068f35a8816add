package auth

import (
	"context"
	"net/http"

	"github.com/foxochat/chat-core/internal/model"
)

// contextKey is an unexported type used for context keys in this package, so
// no other package can read or shadow the values stored under it.
type contextKey string

const (
	userKey  contextKey = "user"
	tokenKey contextKey = "token"
)

// IdentityResolver turns a presented token into a user. The authentication
// service implements it.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, value string, src TokenSource, requireEmailVerified bool) (*model.User, error)
}

// ErrorWriter writes err as the HTTP response.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// RequireAuth is a middleware that resolves the "Authorization: Bearer"
// header into a user and stores it, with the raw token, in the request
// context. When requireEmailVerified is set, users with an unconfirmed
// address are refused. Failures are written with writeErr and stop the
// chain.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(resolver IdentityResolver, requireEmailVerified bool, writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")

			user, err := resolver.ResolveIdentity(r.Context(), header, FromHeader, requireEmailVerified)
			if err != nil {
				writeErr(w, r, err)
				return
			}

			// ResolveIdentity already validated the header shape.
			token, _ := ExtractToken(header, FromHeader)

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user, token)))
		})
	}
}

// WithUser returns a context carrying the authenticated user and the raw
// token they presented.
func WithUser(ctx context.Context, user *model.User, token string) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	return context.WithValue(ctx, tokenKey, token)
}

// UserFromContext retrieves the authenticated user from the request context.
//
//	user, ok := auth.UserFromContext(r.Context())
//	if !ok {
//	    // route is not behind RequireAuth
//	}
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// TokenFromContext returns the raw token the request was authenticated with.
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}
