package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// unregisterScript deletes the key only when it still holds the caller's session,
// so a late teardown can't release a channel claimed by a newer session.
var unregisterScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// refreshScript extends the claim only when it still holds the caller's session.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 1`)

type RedisConfig struct {
	Redis  redis.UniversalClient
	Prefix string
	// TTL expires a claim left behind by a crashed process. A live session
	// renews its claim with Refresh before it expires.
	TTL time.Duration
}

// Redis is a Registry shared by every process using the same Redis.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedis(c RedisConfig) *Redis {
	return &Redis{
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    c.TTL,
	}
}

func (r *Redis) Register(ctx context.Context, channelID, sessionID string) (bool, error) {
	ok, err := r.redis.SetNX(ctx, r.key(channelID), sessionID, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("registry: register channel %s: %w", channelID, err)
	}
	return ok, nil
}

func (r *Redis) Unregister(ctx context.Context, channelID, sessionID string) error {
	if err := unregisterScript.Run(ctx, r.redis, []string{r.key(channelID)}, sessionID).Err(); err != nil {
		return fmt.Errorf("registry: unregister channel %s: %w", channelID, err)
	}
	return nil
}

func (r *Redis) Refresh(ctx context.Context, channelID, sessionID string) (bool, error) {
	n, err := refreshScript.Run(ctx, r.redis, []string{r.key(channelID)}, sessionID, r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("registry: refresh channel %s: %w", channelID, err)
	}
	return n == 1, nil
}

// LeaseInterval is how often a session should call Refresh to keep its claim.
func (r *Redis) LeaseInterval() time.Duration {
	return r.ttl / 3
}

func (r *Redis) IsActive(ctx context.Context, channelID string) (bool, error) {
	n, err := r.redis.Exists(ctx, r.key(channelID)).Result()
	if err != nil {
		return false, fmt.Errorf("registry: lookup channel %s: %w", channelID, err)
	}
	return n > 0, nil
}

func (r *Redis) key(channelID string) string {
	return fmt.Sprintf("%s:channel:%s:session", r.prefix, channelID)
}
