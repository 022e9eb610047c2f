package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const sessionKey contextKey = "session"

// TokenFromRequest extracts the bearer credential from the Authorization
// header, falling back to the token query parameter used by browser
// websocket clients that cannot set headers.
func TokenFromRequest(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "bearer ") {
		if token := strings.TrimSpace(authHeader[7:]); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// AuthenticateRequest validates the credential carried by r.
func (a *Authenticator) AuthenticateRequest(r *http.Request) (Session, error) {
	return a.Authenticate(TokenFromRequest(r))
}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext returns the session stored by WithSession.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}

// Middleware rejects requests without a valid bearer credential and stores
// the session in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := a.AuthenticateRequest(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}
