package claim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var redisReleaseScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
  if redis.call("GET", key) == ARGV[1] then
    redis.call("DEL", key)
  end
end
return 1
`)

// Redis claims keys across every process sharing the Redis instance.
type Redis struct {
	log    *zap.SugaredLogger
	client redis.UniversalClient
	prefix string
}

// NewRedis constructs a claimer backed by Redis.
func NewRedis(log *zap.SugaredLogger, client redis.UniversalClient, prefix string) *Redis {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if prefix == "" {
		prefix = "claim"
	}
	return &Redis{log: log, client: client, prefix: prefix}
}

// Claim implements the Claimer interface. Each key is set with NX and a
// token unique to this claim. If any key is already held the keys taken so
// far are released and ErrClaimed is returned.
func (r *Redis) Claim(ctx context.Context, ttl time.Duration, keys ...string) (func(), error) {
	if r.client == nil {
		return nil, errors.New("redis client is nil")
	}

	token := uuid.NewString()
	taken := make([]string, 0, len(keys))

	releaseKeys := func(ks []string) {
		if len(ks) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisReleaseScript.Run(ctx, r.client, ks, token).Err(); err != nil {
			r.log.Errorw("claim", "status", "release failed, keys held until expiry", "keys", ks, "ERROR", err)
		}
	}

	for _, key := range keys {
		k := fmt.Sprintf("%s:%s", r.prefix, key)

		ok, err := r.client.SetNX(ctx, k, token, ttl).Result()
		if err != nil {
			releaseKeys(taken)
			return nil, fmt.Errorf("claiming %s: %w", key, err)
		}

		if !ok {
			releaseKeys(taken)
			return nil, ErrClaimed
		}

		taken = append(taken, k)
	}

	var once sync.Once
	release := func() {
		once.Do(func() { releaseKeys(taken) })
	}

	return release, nil
}

// Hold implements the Claimer interface. The keys are overwritten with a
// token no release function carries.
func (r *Redis) Hold(ctx context.Context, ttl time.Duration, keys ...string) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}

	token := "hold:" + uuid.NewString()
	for _, key := range keys {
		k := fmt.Sprintf("%s:%s", r.prefix, key)
		if err := r.client.Set(ctx, k, token, ttl).Err(); err != nil {
			return fmt.Errorf("holding %s: %w", key, err)
		}
	}

	return nil
}
