package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	redis "github.com/redis/go-redis/v9"

	"memagent/internal/persistence"
)

// RevocationStore checks whether a token id has been revoked before its
// natural expiry. Grounded on the teacher's Redis dedupe store, repurposed
// here from idempotency keys to revocation flags.
type RevocationStore interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
}

// RedisRevocationStore is a Redis-backed RevocationStore.
type RedisRevocationStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRevocationStore connects to addr and pings it to validate the
// connection before returning.
func NewRedisRevocationStore(addr, password string, db int, keyPrefix string) (*RedisRevocationStore, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisRevocationStore{client: c, keyPrefix: keyPrefix}, nil
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	_, err := s.client.Get(ctx, s.keyPrefix+jti).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisRevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.keyPrefix+jti, "1", ttl).Err()
}

func (s *RedisRevocationStore) Close() error { return s.client.Close() }

// claims is the set of registered JWT claims the verifier expects. Token
// issuance is out of scope: callers present a token signed elsewhere by the
// same JWTSecret/JWTIssuer.
type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// BearerVerifier validates HS256 bearer tokens and provisions the
// corresponding persistence.User lazily on first sight of a subject.
type BearerVerifier struct {
	secret     []byte
	issuer     string
	revocation RevocationStore
	users      persistence.UserStore
}

func NewBearerVerifier(secret, issuer string, revocation RevocationStore, users persistence.UserStore) *BearerVerifier {
	return &BearerVerifier{secret: []byte(secret), issuer: issuer, revocation: revocation, users: users}
}

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrTokenRevoked  = errors.New("token revoked")
)

// Verify parses and validates tokenString, checks revocation, and ensures a
// persistence.User row exists for its subject.
func (v *BearerVerifier) Verify(ctx context.Context, tokenString string) (persistence.User, error) {
	if tokenString == "" {
		return persistence.User{}, ErrMissingBearer
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer))
	if err != nil || !parsed.Valid {
		return persistence.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || c.Subject == "" {
		return persistence.User{}, ErrInvalidToken
	}

	if v.revocation != nil {
		revoked, err := v.revocation.IsRevoked(ctx, c.ID)
		if err != nil {
			return persistence.User{}, fmt.Errorf("check token revocation: %w", err)
		}
		if revoked {
			return persistence.User{}, ErrTokenRevoked
		}
	}

	return v.users.EnsureUser(ctx, c.Subject, c.Email)
}

type principalKey struct{}

// WithPrincipal attaches an authenticated persistence.User to ctx.
func WithPrincipal(ctx context.Context, u persistence.User) context.Context {
	return context.WithValue(ctx, principalKey{}, u)
}

// Principal extracts the persistence.User attached by RequireBearer.
func Principal(ctx context.Context) (persistence.User, bool) {
	u, ok := ctx.Value(principalKey{}).(persistence.User)
	return u, ok
}

// RequireBearer rejects requests without a valid "Authorization: Bearer
// <jwt>" header and otherwise attaches the resolved principal to the request
// context.
func RequireBearer(v *BearerVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token == header {
				writeUnauthorized(w, "missing bearer token")
				return
			}
			user, err := v.Verify(r.Context(), strings.TrimSpace(token))
			if err != nil {
				writeUnauthorized(w, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), user)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="memagent"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"success":false,"message":%q,"error_code":"unauthorized"}`, msg)
}
