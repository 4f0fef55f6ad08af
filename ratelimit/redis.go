package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces limiter keys in a shared Redis.
const DefaultRedisPrefix = "leadkit:ratelimit:"

// expiryGrace keeps a finished window around long enough for Get to see
// it, matching the sweep grace of the memory store.
const expiryGrace = 5 * time.Minute

// hitScript runs the fixed-window state machine inside Redis so that
// concurrent instances never admit more than max requests per window.
//
// Returns {limited, count, reset_at_ms}.
var hitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local grace = tonumber(ARGV[4])

local count = tonumber(redis.call('HGET', key, 'count') or '0')
local reset = tonumber(redis.call('HGET', key, 'reset_at') or '0')

if count == 0 or now > reset then
	reset = now + window
	redis.call('HSET', key, 'count', 1, 'reset_at', reset)
	redis.call('PEXPIREAT', key, reset + grace)
	return {0, 1, reset}
end

if count >= max then
	return {1, count, reset}
end

count = redis.call('HINCRBY', key, 'count', 1)
return {0, count, reset}
`)

// RedisStore keeps buckets in Redis hashes with fields count and
// reset_at (epoch ms). Keys expire on their own, so Sweep is a no-op.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// OpenRedis parses a redis:// or rediss:// URL and verifies the server
// answers.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	vals, err := s.client.HMGet(ctx, s.prefix+key, "count", "reset_at").Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return Entry{}, false, nil
	}
	count, err := strconv.Atoi(fmt.Sprint(vals[0]))
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get %s: bad count: %w", key, err)
	}
	resetMs, err := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get %s: bad reset_at: %w", key, err)
	}
	return Entry{Key: key, Count: count, ResetAt: time.UnixMilli(resetMs)}, true, nil
}

func (s *RedisStore) Set(ctx context.Context, e Entry) error {
	k := s.prefix + e.Key
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k, "count", e.Count, "reset_at", e.ResetAt.UnixMilli())
		p.PExpireAt(ctx, k, e.ResetAt.Add(expiryGrace))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", e.Key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, rule Rule) (Entry, bool, error) {
	res, err := hitScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(), rule.Window.Milliseconds(), rule.MaxRequests, expiryGrace.Milliseconds()).Slice()
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis hit %s: %w", key, err)
	}
	if len(res) != 3 {
		return Entry{}, false, errors.New("redis hit: unexpected script result")
	}
	limited, _ := res[0].(int64)
	count, _ := res[1].(int64)
	reset, _ := res[2].(int64)
	return Entry{Key: key, Count: int(count), ResetAt: time.UnixMilli(reset)}, limited == 1, nil
}
