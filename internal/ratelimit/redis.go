package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// concurrencyTTLSeconds bounds how long a leaked in-flight slot can survive.
const concurrencyTTLSeconds = 3600

// admitScript validates all six window limits plus the concurrency cap and
// commits every counter in one atomic step. A get-then-set pair here would
// over-admit under concurrent callers, so the whole decision runs server-side.
var admitScript = redis.NewScript(`
local counts = {}
for i = 1, 6 do
  counts[i] = tonumber(redis.call("GET", KEYS[i]) or "0")
end
local inflight = tonumber(redis.call("GET", KEYS[7]) or "0")
local tokens = tonumber(ARGV[8])
local deltas = {1, tokens, 1, tokens, 1, tokens}
for i = 1, 6 do
  if counts[i] + deltas[i] > tonumber(ARGV[i]) then
    return {0, i, counts[1], counts[2], counts[3], counts[4], counts[5], counts[6], inflight}
  end
end
if inflight + 1 > tonumber(ARGV[7]) then
  return {0, 7, counts[1], counts[2], counts[3], counts[4], counts[5], counts[6], inflight}
end
local ttls = {ARGV[9], ARGV[9], ARGV[10], ARGV[10], ARGV[11], ARGV[11]}
for i = 1, 6 do
  local v = redis.call("INCRBY", KEYS[i], deltas[i])
  if v == deltas[i] then
    redis.call("EXPIRE", KEYS[i], tonumber(ttls[i]))
  end
  counts[i] = v
end
inflight = redis.call("INCR", KEYS[7])
redis.call("EXPIRE", KEYS[7], tonumber(ARGV[12]))
return {1, 0, counts[1], counts[2], counts[3], counts[4], counts[5], counts[6], inflight}
`)

// burstScript refills the token bucket lazily and consumes one token when at
// least one is available. Tokens travel as strings to keep float precision.
var burstScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local tokens = capacity
local state = redis.call("HMGET", KEYS[1], "tokens", "last")
if state[1] then
  local last = tonumber(state[2])
  local elapsed = now - last
  tokens = tonumber(state[1])
  if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * capacity / window)
  end
end
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end
redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "last", tostring(now))
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[4]))
return {allowed, tostring(tokens)}
`)

// releaseScript decrements the in-flight counter without letting it go
// negative when a release races a TTL expiry.
var releaseScript = redis.NewScript(`
local v = redis.call("DECR", KEYS[1])
if v < 0 then
  redis.call("SET", KEYS[1], 0, "EX", tonumber(ARGV[1]))
  v = 0
end
return v
`)

// RedisStore implements CounterStore on shared Redis state so every gateway
// instance observes the same counters.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: strings.TrimSpace(prefix)}
}

// InFlight returns the current concurrency count for the key.
func (s *RedisStore) InFlight(ctx context.Context, key string) (int64, error) {
	if s == nil || s.client == nil {
		return 0, storeErr("inflight", errNoClient)
	}
	val, errGet := s.client.Get(ctx, s.concKey(key)).Result()
	if errGet == redis.Nil {
		return 0, nil
	}
	if errGet != nil {
		return 0, storeErr("inflight", errGet)
	}
	count, errParse := strconv.ParseInt(val, 10, 64)
	if errParse != nil {
		return 0, storeErr("inflight", errParse)
	}
	return count, nil
}

// TakeBurstToken refills and consumes from the shared burst bucket.
func (s *RedisStore) TakeBurstToken(ctx context.Context, key string, capacity, windowSeconds int, now time.Time) (bool, float64, error) {
	if s == nil || s.client == nil {
		return false, 0, storeErr("burst", errNoClient)
	}
	nowSec := float64(now.UnixNano()) / float64(time.Second)
	res, errEval := burstScript.Run(ctx, s.client, []string{s.burstKey(key)},
		capacity, windowSeconds, strconv.FormatFloat(nowSec, 'f', -1, 64), windowSeconds*2).Result()
	if errEval != nil {
		return false, 0, storeErr("burst", errEval)
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, storeErr("burst", errBadReply)
	}
	allowed, okAllowed := values[0].(int64)
	raw, okTokens := values[1].(string)
	if !okAllowed || !okTokens {
		return false, 0, storeErr("burst", errBadReply)
	}
	tokens, errParse := strconv.ParseFloat(raw, 64)
	if errParse != nil {
		return false, 0, storeErr("burst", errParse)
	}
	return allowed == 1, tokens, nil
}

// Admit runs the atomic six-window plus concurrency check-and-commit.
func (s *RedisStore) Admit(ctx context.Context, key string, cfg Config, tokens int64, now time.Time) (Admission, error) {
	if s == nil || s.client == nil {
		return Admission{}, storeErr("admit", errNoClient)
	}
	keys := []string{
		s.windowKey(key, GranularityMinute, now, "req"),
		s.windowKey(key, GranularityMinute, now, "tok"),
		s.windowKey(key, GranularityHour, now, "req"),
		s.windowKey(key, GranularityHour, now, "tok"),
		s.windowKey(key, GranularityDay, now, "req"),
		s.windowKey(key, GranularityDay, now, "tok"),
		s.concKey(key),
	}
	res, errEval := admitScript.Run(ctx, s.client, keys,
		cfg.RequestsPerMinute, cfg.TokensPerMinute,
		cfg.RequestsPerHour, cfg.TokensPerHour,
		cfg.RequestsPerDay, cfg.TokensPerDay,
		cfg.ConcurrencyLimit, tokens,
		GranularityMinute.seconds()*2, GranularityHour.seconds()*2, GranularityDay.seconds()*2,
		concurrencyTTLSeconds).Result()
	if errEval != nil {
		return Admission{}, storeErr("admit", errEval)
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 9 {
		return Admission{}, storeErr("admit", errBadReply)
	}
	nums := make([]int64, len(values))
	for i, v := range values {
		n, okNum := v.(int64)
		if !okNum {
			return Admission{}, storeErr("admit", errBadReply)
		}
		nums[i] = n
	}
	return Admission{
		Allowed:  nums[0] == 1,
		Breached: Breach(nums[1]),
		Minute:   Usage{Requests: nums[2], Tokens: nums[3]},
		Hour:     Usage{Requests: nums[4], Tokens: nums[5]},
		Day:      Usage{Requests: nums[6], Tokens: nums[7]},
		InFlight: nums[8],
	}, nil
}

// Release decrements the in-flight counter, floored at zero.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return storeErr("release", errNoClient)
	}
	if errEval := releaseScript.Run(ctx, s.client, []string{s.concKey(key)}, concurrencyTTLSeconds).Err(); errEval != nil {
		return storeErr("release", errEval)
	}
	return nil
}

func (s *RedisStore) windowKey(key string, g Granularity, now time.Time, kind string) string {
	bucket := bucketStart(now, g).Unix()
	return fmt.Sprintf("%s:win:%s:%s:%d:%s", s.keyPrefix(), key, g, bucket, kind)
}

func (s *RedisStore) concKey(key string) string {
	return s.keyPrefix() + ":conc:" + key
}

func (s *RedisStore) burstKey(key string) string {
	return s.keyPrefix() + ":burst:" + key
}

func (s *RedisStore) keyPrefix() string {
	if s.prefix == "" {
		return "mra:rl"
	}
	return s.prefix
}
