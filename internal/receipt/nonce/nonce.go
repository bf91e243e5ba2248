// Package nonce issues and verifies the signed, expiring nonces the receipt
// endpoint requires alongside each submission.
package nonce

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "klarogeo/pkg/domain-errors"
)

// DefaultTTL bounds how long a page may hold a nonce before submitting.
const DefaultTTL = 12 * time.Hour

// Claims binds a nonce to the form action it was issued for.
type Claims struct {
	Action string `json:"act"`
	jwt.RegisteredClaims
}

// Issuer signs nonces with an HMAC key.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates an Issuer. A non-positive ttl uses DefaultTTL.
func NewIssuer(key string, ttl time.Duration, opts ...Option) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	i := &Issuer{key: []byte(key), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue returns a nonce for action and its expiry.
func (i *Issuer) Issue(action string) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(i.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign nonce")
	}
	return signed, expires, nil
}

// Verify checks that token was issued by this Issuer for action and has not
// expired. Every failure carries CodeInvalidNonce.
func (i *Issuer) Verify(token, action string) error {
	if token == "" {
		return dErrors.New(dErrors.CodeInvalidNonce, "nonce is required")
	}
	claims := new(Claims)
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenUnverifiable
		}
		return i.key, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return dErrors.New(dErrors.CodeInvalidNonce, "nonce expired")
		}
		return dErrors.New(dErrors.CodeInvalidNonce, "invalid nonce")
	}
	if !parsed.Valid || claims.Action != action {
		return dErrors.New(dErrors.CodeInvalidNonce, "invalid nonce")
	}
	return nil
}
