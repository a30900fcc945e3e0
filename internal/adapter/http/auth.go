package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/logger"
	apperr "github.com/unmappedos-sys/unmappedOS-sub002/pkg/error"
)

type actorKey struct{}

// ActorFromContext returns the operator authenticated for the request
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// OperatorAuth guards the admin routes with HS256 bearer tokens. The token
// subject becomes the actor recorded in audit entries.
type OperatorAuth struct {
	secret []byte
	issuer string
	now    func() time.Time
	logger logger.Logger
}

// NewOperatorAuth creates the middleware. now may be nil.
func NewOperatorAuth(secret, issuer string, now func() time.Time, log logger.Logger) *OperatorAuth {
	if now == nil {
		now = time.Now
	}
	return &OperatorAuth{
		secret: []byte(secret),
		issuer: issuer,
		now:    now,
		logger: log,
	}
}

// IssueToken signs an operator token, used by the CLI and by tests
func (a *OperatorAuth) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign operator token: %w", err)
	}
	return token, nil
}

// Authenticate validates a raw token and returns its subject
func (a *OperatorAuth) Authenticate(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperr.ErrInvalidToken("token expired")
		}
		return "", apperr.ErrInvalidToken(err.Error())
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return "", apperr.ErrInvalidToken("token has no subject")
	}
	if claims.Subject == domain.SystemActor {
		return "", apperr.ErrInvalidToken("token subject is reserved")
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid operator token
func (a *OperatorAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(r.Context(), w, a.logger, apperr.ErrMissingToken())
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			writeError(r.Context(), w, a.logger, apperr.ErrInvalidToken("invalid authorization header format"))
			return
		}

		actor, err := a.Authenticate(parts[1])
		if err != nil {
			a.logger.Warn(r.Context(), "Operator token rejected", map[string]interface{}{
				"path":  r.URL.Path,
				"error": err.Error(),
			})
			writeError(r.Context(), w, a.logger, err)
			return
		}

		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
