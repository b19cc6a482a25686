package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Principal is the verified caller behind a bearer token.
type Principal struct {
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Authenticator turns a bearer token into a verified Principal.
// Both the WebSocket handshake and the REST middleware depend on this.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Principal, error)
}

// JWTValidator verifies HMAC-signed tokens issued by the account service.
type JWTValidator struct {
	secret []byte
	claim  string
}

// NewJWTValidator builds a validator reading the caller identity from claim.
// An empty claim falls back to the registered "sub" claim.
func NewJWTValidator(secret, claim string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret), claim: claim}
}

func (v *JWTValidator) Authenticate(_ context.Context, tokenString string) (Principal, error) {
	if tokenString == "" {
		return Principal{}, ErrInvalidToken
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Principal{}, ErrInvalidToken
	}

	identity := ""
	if v.claim != "" {
		identity, _ = claims[v.claim].(string)
	}
	if identity == "" {
		identity, _ = claims.GetSubject()
	}
	if identity == "" {
		return Principal{}, fmt.Errorf("%w: no identity claim", ErrInvalidToken)
	}

	p := Principal{Identity: identity}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.ExpiresAt = exp.Time
	}
	return p, nil
}
