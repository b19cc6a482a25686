package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTValidatorReadsIdentityClaim(t *testing.T) {
	v := NewJWTValidator(testSecret, "_id")
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, testSecret, jwt.MapClaims{"_id": "user-1", "exp": exp.Unix()})

	p, err := v.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.Identity)
	assert.True(t, p.ExpiresAt.Equal(exp))
}

func TestJWTValidatorFallsBackToSubject(t *testing.T) {
	v := NewJWTValidator(testSecret, "_id")
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "user-2"})

	p, err := v.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-2", p.Identity)
	assert.True(t, p.ExpiresAt.IsZero())
}

func TestJWTValidatorRejects(t *testing.T) {
	v := NewJWTValidator(testSecret, "_id")
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", signToken(t, "other", jwt.MapClaims{"_id": "u"})},
		{"expired", signToken(t, testSecret, jwt.MapClaims{"_id": "u", "exp": time.Now().Add(-time.Minute).Unix()})},
		{"no identity", signToken(t, testSecret, jwt.MapClaims{"name": "u"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Authenticate(context.Background(), tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

type countingAuthenticator struct {
	calls atomic.Int32
	p     Principal
	err   error
}

func (c *countingAuthenticator) Authenticate(context.Context, string) (Principal, error) {
	c.calls.Add(1)
	return c.p, c.err
}

func newCache(t *testing.T, next Authenticator) (*CachedAuthenticator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachedAuthenticator(next, client, time.Minute, zaptest.NewLogger(t)), mr
}

func TestCachedAuthenticatorHit(t *testing.T) {
	next := &countingAuthenticator{p: Principal{Identity: "user-1"}}
	cache, mr := newCache(t, next)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := cache.Authenticate(ctx, "token-a")
		require.NoError(t, err)
		assert.Equal(t, "user-1", p.Identity)
	}
	assert.Equal(t, int32(1), next.calls.Load())

	ttl := mr.TTL(cacheKey("token-a"))
	assert.Equal(t, time.Minute, ttl)
}

func TestCachedAuthenticatorCapsTTLAtExpiry(t *testing.T) {
	now := time.Now()
	next := &countingAuthenticator{p: Principal{Identity: "user-1", ExpiresAt: now.Add(20 * time.Second)}}
	cache, mr := newCache(t, next)
	cache.now = func() time.Time { return now }

	_, err := cache.Authenticate(context.Background(), "token-b")
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, mr.TTL(cacheKey("token-b")))
}

func TestCachedAuthenticatorDoesNotCacheFailures(t *testing.T) {
	next := &countingAuthenticator{err: ErrInvalidToken}
	cache, mr := newCache(t, next)

	for i := 0; i < 2; i++ {
		_, err := cache.Authenticate(context.Background(), "bad")
		require.ErrorIs(t, err, ErrInvalidToken)
	}
	assert.Equal(t, int32(2), next.calls.Load())
	assert.False(t, mr.Exists(cacheKey("bad")))
}

func TestCachedAuthenticatorReplacesCorruptEntry(t *testing.T) {
	next := &countingAuthenticator{p: Principal{Identity: "user-3"}}
	cache, mr := newCache(t, next)
	require.NoError(t, mr.Set(cacheKey("token-c"), "{not json"))

	p, err := cache.Authenticate(context.Background(), "token-c")
	require.NoError(t, err)
	assert.Equal(t, "user-3", p.Identity)
	assert.Equal(t, int32(1), next.calls.Load())

	raw, err := mr.Get(cacheKey("token-c"))
	require.NoError(t, err)
	assert.Contains(t, raw, "user-3")
}

func TestCachedAuthenticatorSurvivesRedisOutage(t *testing.T) {
	next := &countingAuthenticator{p: Principal{Identity: "user-4"}}
	cache, mr := newCache(t, next)
	mr.Close()

	p, err := cache.Authenticate(context.Background(), "token-d")
	require.NoError(t, err)
	assert.Equal(t, "user-4", p.Identity)
}

func TestCachedAuthenticatorEmptyToken(t *testing.T) {
	next := &countingAuthenticator{p: Principal{Identity: "x"}}
	cache, _ := newCache(t, next)

	_, err := cache.Authenticate(context.Background(), "")
	assert.True(t, errors.Is(err, ErrInvalidToken))
	assert.Equal(t, int32(0), next.calls.Load())
}
