package access

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pario-ai/budgeteer/pkg/config"
)

// revokeScript adds the principal to the revoked set and records the
// restriction tags on first revocation.
// KEYS[1] = revoked set, KEYS[2] = restriction hash
// ARGV[1] = principal, ARGV[2] = level, ARGV[3] = unix timestamp
var revokeScript = redis.NewScript(`
local added = redis.call("SADD", KEYS[1], ARGV[1])
if added == 1 or redis.call("EXISTS", KEYS[2]) == 0 then
    redis.call("HSET", KEYS[2], "level", ARGV[2], "timestamp", ARGV[3])
end
return added
`)

// grantScript removes the principal from the revoked set and drops its tags.
// KEYS[1] = revoked set, KEYS[2] = restriction hash
// ARGV[1] = principal
var grantScript = redis.NewScript(`
local removed = redis.call("SREM", KEYS[1], ARGV[1])
redis.call("DEL", KEYS[2])
return removed
`)

// Redis keeps the revoked set in Redis so gateways can check it directly.
type Redis struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis connects to the configured Redis server.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return NewRedisClient(client, cfg.KeyPrefix), nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "budgeteer"
	}
	return &Redis{client: client, prefix: prefix, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Redis) setKey() string { return r.prefix + ":revoked" }

func (r *Redis) tagKey(principal string) string { return r.prefix + ":restriction:" + principal }

func (r *Redis) Revoke(ctx context.Context, principal string) (bool, error) {
	n, err := revokeScript.Run(ctx, r.client,
		[]string{r.setKey(), r.tagKey(principal)},
		principal, LevelFullSuspension, r.now().Unix()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis revoke %s: %w", principal, err)
	}
	return n == 1, nil
}

func (r *Redis) Grant(ctx context.Context, principal string) (bool, error) {
	n, err := grantScript.Run(ctx, r.client,
		[]string{r.setKey(), r.tagKey(principal)},
		principal).Int64()
	if err != nil {
		return false, fmt.Errorf("redis grant %s: %w", principal, err)
	}
	return n == 1, nil
}

func (r *Redis) IsRevoked(ctx context.Context, principal string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.setKey(), principal).Result()
	if err != nil {
		return false, fmt.Errorf("redis check %s: %w", principal, err)
	}
	return ok, nil
}

func (r *Redis) ValidateRestriction(ctx context.Context, principal string) (bool, error) {
	tags, err := r.client.HGetAll(ctx, r.tagKey(principal)).Result()
	if err != nil {
		return false, fmt.Errorf("redis restriction %s: %w", principal, err)
	}
	if tags["level"] != LevelFullSuspension {
		return false, nil
	}
	_, err = strconv.ParseInt(tags["timestamp"], 10, 64)
	return err == nil, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
