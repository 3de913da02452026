package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const actorContextKey contextKey = "actor"

// AnonymousActor is used when no identity is supplied and tokens are off.
const AnonymousActor = "anonymous"

// ActorFromContext returns the actor id resolved by ActorMiddleware.
func ActorFromContext(ctx context.Context) string {
	if a, ok := ctx.Value(actorContextKey).(string); ok && a != "" {
		return a
	}
	return AnonymousActor
}

// ActorMiddleware resolves the acting identity and stores it in the request
// context. The engine treats it as an opaque id; nothing here decides who
// may punch.
//
// With a secret, a Bearer HS256 token is required and its subject is the
// actor. Without one, the X-Actor-ID header is trusted.
func ActorMiddleware(secret, issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := strings.TrimSpace(r.Header.Get("X-Actor-ID"))
			if secret != "" {
				sub, err := actorFromToken(r.Header.Get("Authorization"), secret, issuer)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "Invalid or missing token", err)
					return
				}
				actor = sub
			}
			if actor == "" {
				actor = AnonymousActor
			}
			ctx := context.WithValue(r.Context(), actorContextKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func actorFromToken(header, secret, issuer string) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", errors.New("bearer token required")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// IssueToken signs an actor token. Used by tests and local tooling; production
// tokens come from the portal's login.
func IssueToken(secret, issuer, actorID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   actorID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
