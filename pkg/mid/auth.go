package mid

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionResolver identifies the user behind a request.
type SessionResolver interface {
	Resolve(r *http.Request) (userID string, ok bool)
}

// SessionFunc adapts a function to SessionResolver.
type SessionFunc func(r *http.Request) (string, bool)

func (f SessionFunc) Resolve(r *http.Request) (string, bool) { return f(r) }

type userKey struct{}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID returns the authenticated user set by Auth.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok && id != ""
}

// Auth rejects requests without a session with 401 and stores the user ID
// in the request context otherwise.
func Auth(sessions SessionResolver) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := sessions.Resolve(r)
			if !ok || userID == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// JWTSessions resolves HS256 bearer tokens whose subject is the user ID.
type JWTSessions struct {
	secret []byte
	issuer string
}

// NewJWTSessions creates a resolver. A non-empty issuer is enforced.
func NewJWTSessions(secret []byte, issuer string) *JWTSessions {
	return &JWTSessions{secret: secret, issuer: issuer}
}

// Resolve implements SessionResolver.
func (s *JWTSessions) Resolve(r *http.Request) (string, bool) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return "", false
	}
	sub, err := s.Verify(raw)
	return sub, err == nil
}

// Verify checks a token and returns its subject.
func (s *JWTSessions) Verify(raw string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return s.secret, nil }, opts...); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("mid: token has no subject")
	}
	return claims.Subject, nil
}

// Issue signs a token for userID valid for ttl.
func (s *JWTSessions) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
