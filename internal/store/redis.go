package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// casScript stores ARGV[2] under KEYS[1] when the stored version equals ARGV[1].
// Returns the new version, or -1 on mismatch.
var casScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if not cur then cur = 0 else cur = tonumber(cur) end
if cur ~= tonumber(ARGV[1]) then return -1 end
local nv = cur + 1
redis.call('HSET', KEYS[1], 'v', nv, 'd', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
else
	redis.call('PERSIST', KEYS[1])
end
return nv
`)

// Presence keys are sorted sets of connection ids scored by their expiry in
// unix milliseconds. Every script prunes expired members first.

// presenceAddScript: ARGV now, expiresAt, member, ttl ms.
var presenceAddScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return redis.call('ZCARD', KEYS[1])
`)

// presenceRemoveScript: ARGV now, member.
var presenceRemoveScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
return redis.call('ZCARD', KEYS[1])
`)

// presenceTouchScript: ARGV now, expiresAt, member, ttl ms.
var presenceTouchScript = redis.NewScript(`
local cur = redis.call('ZSCORE', KEYS[1], ARGV[3])
if not cur or tonumber(cur) <= tonumber(ARGV[1]) then return 0 end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, int64, error) {
	vals, err := s.rdb.HMGet(ctx, key, "v", "d").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("hmget %s: %w", key, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, 0, ErrNotFound
	}

	rawVersion, _ := vals[0].(string)
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("parse version of %s: %w", key, err)
	}
	data, _ := vals[1].(string)
	return []byte(data), version, nil
}

func (s *RedisStore) CompareAndSet(ctx context.Context, key string, expected int64, value []byte, ttl time.Duration) (int64, error) {
	n, err := casScript.Run(ctx, s.rdb, []string{key}, expected, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("cas %s: %w", key, err)
	}
	if n < 0 {
		return 0, ErrVersionConflict
	}
	return n, nil
}

func (s *RedisStore) PresenceAdd(ctx context.Context, key, member string, ttl time.Duration) (int64, error) {
	ttl = presenceTTL(ttl)
	now := time.Now()
	n, err := presenceAddScript.Run(ctx, s.rdb, []string{key},
		now.UnixMilli(), now.Add(ttl).UnixMilli(), member, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("presence add %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) PresenceRemove(ctx context.Context, key, member string) (int64, error) {
	n, err := presenceRemoveScript.Run(ctx, s.rdb, []string{key}, time.Now().UnixMilli(), member).Int64()
	if err != nil {
		return 0, fmt.Errorf("presence remove %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) PresenceTouch(ctx context.Context, key, member string, ttl time.Duration) error {
	ttl = presenceTTL(ttl)
	now := time.Now()
	err := presenceTouchScript.Run(ctx, s.rdb, []string{key},
		now.UnixMilli(), now.Add(ttl).UnixMilli(), member, ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("presence touch %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) PresenceCount(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.ZCount(ctx, key, "("+strconv.FormatInt(time.Now().UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("presence count %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
