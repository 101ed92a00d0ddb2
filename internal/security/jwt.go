// Package security provides authentication and origin checks for taskpulse.
package security

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/brianly1003/taskpulse/internal/domain"
)

// AccessTokenType is the only token "type" claim accepted. Tokens without a
// type claim are accepted too.
const AccessTokenType = "access"

// Claims are the JWT claims read from an access token.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"type,omitempty"`
}

// User is the identity a token resolves to.
type User struct {
	ID     int64
	Active bool
}

// UserResolver maps a token subject to a user.
type UserResolver interface {
	ResolveUser(ctx context.Context, subject string) (User, error)
}

// NumericSubjects resolves subjects that are decimal user ids. Ids listed in
// Disabled resolve as inactive.
type NumericSubjects struct {
	Disabled map[int64]bool
}

// ResolveUser implements UserResolver.
func (n NumericSubjects) ResolveUser(_ context.Context, subject string) (User, error) {
	id, err := strconv.ParseInt(subject, 10, 64)
	if err != nil || id <= 0 {
		return User{}, fmt.Errorf("%w: subject is not a user id", domain.ErrInvalidToken)
	}
	return User{ID: id, Active: !n.Disabled[id]}, nil
}

// JWTAuthenticator validates HMAC-signed access tokens.
type JWTAuthenticator struct {
	secret   []byte
	methods  []string
	resolver UserResolver
	leeway   time.Duration
}

// NewJWTAuthenticator creates an authenticator. Methods defaults to HS256.
func NewJWTAuthenticator(secret []byte, methods []string, resolver UserResolver) (*JWTAuthenticator, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}
	if len(methods) == 0 {
		methods = []string{jwt.SigningMethodHS256.Alg()}
	}
	for _, m := range methods {
		if _, ok := jwt.GetSigningMethod(m).(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unsupported jwt algorithm %q", m)
		}
	}
	if resolver == nil {
		resolver = NumericSubjects{}
	}
	return &JWTAuthenticator{
		secret:   secret,
		methods:  methods,
		resolver: resolver,
		leeway:   5 * time.Second,
	}, nil
}

// Authenticate returns the id of the active user the token belongs to.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, domain.ErrMissingToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods(a.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if claims.Type != "" && claims.Type != AccessTokenType {
		return 0, fmt.Errorf("%w: token type %q", domain.ErrInvalidToken, claims.Type)
	}
	if claims.Subject == "" {
		return 0, fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}

	user, err := a.resolver.ResolveUser(ctx, claims.Subject)
	if err != nil {
		return 0, err
	}
	if !user.Active {
		return 0, domain.ErrInactiveUser
	}
	return user.ID, nil
}

// Sign issues an access token for userID. It is used by the CLI and tests;
// production tokens come from the main application.
func (a *JWTAuthenticator) Sign(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: AccessTokenType,
	}
	t := jwt.NewWithClaims(jwt.GetSigningMethod(a.methods[0]), claims)
	return t.SignedString(a.secret)
}
