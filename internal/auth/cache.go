package auth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

const cacheKeyPrefix = "mentorchat:auth:"

// CachedAuthenticator keeps verified principals in Redis so reconnect storms
// from mobile clients do not re-verify the same token on every handshake.
// Redis failures degrade to direct verification.
type CachedAuthenticator struct {
	next  Authenticator
	redis redis.UniversalClient
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time
}

// NewCachedAuthenticator wraps next with a Redis-backed result cache.
func NewCachedAuthenticator(next Authenticator, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CachedAuthenticator {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedAuthenticator{
		next:  next,
		redis: client,
		ttl:   ttl,
		log:   logger,
		now:   time.Now,
	}
}

func cacheKey(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *CachedAuthenticator) Authenticate(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrInvalidToken
	}
	key := cacheKey(token)

	raw, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Principal
		if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil && p.Identity != "" &&
			(p.ExpiresAt.IsZero() || c.now().Before(p.ExpiresAt)) {
			return p, nil
		}
		// corrupt or stale entry, verify again
		_ = c.redis.Del(ctx, key).Err()
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("token cache lookup failed", zap.Error(err))
	}

	p, err := c.next.Authenticate(ctx, token)
	if err != nil {
		return Principal{}, err
	}

	ttl := c.ttl
	if !p.ExpiresAt.IsZero() {
		if remaining := p.ExpiresAt.Sub(c.now()); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl > 0 {
		body, _ := json.Marshal(p)
		if err := c.redis.Set(ctx, key, body, ttl).Err(); err != nil {
			c.log.Warn("token cache store failed", zap.Error(err))
		}
	}
	return p, nil
}
