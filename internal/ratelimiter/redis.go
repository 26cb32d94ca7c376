package ratelimiter

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// refillScript performs the same refill-then-consume arithmetic as
// TokenBucket.consume, atomically, against a per-key Redis hash so multiple
// dispatcher processes share one bucket. KEYS[1] is the bucket key, KEYS[2]
// the global bucket key (or "" to skip it). It returns {acquired, wait_ms}:
// wait_ms is the bucket's own estimate, in milliseconds, of when it would
// next hold enough tokens (0 when acquired is 1). Lua numbers cross the
// wire as integer replies, so the estimate is rounded up to the nearest
// millisecond rather than carried as a float.
const refillScript = `
local function take(key, capacity, refillRate, tokens, now)
	local data = redis.call('HMGET', key, 'tokens', 'ts')
	local current = tonumber(data[1])
	local ts = tonumber(data[2])
	if current == nil then
		current = capacity
		ts = now
	end
	local elapsed = math.max(0, now - ts)
	local stamp = math.max(ts, now)
	current = math.min(capacity, current + elapsed * refillRate)
	if current < tokens then
		redis.call('HMSET', key, 'tokens', current, 'ts', stamp)
		redis.call('EXPIRE', key, 3600)
		local waitMs = 0
		if refillRate > 0 then
			waitMs = math.ceil((tokens - current) / refillRate * 1000)
		end
		return {0, waitMs}
	end
	current = current - tokens
	redis.call('HMSET', key, 'tokens', current, 'ts', stamp)
	redis.call('EXPIRE', key, 3600)
	return {1, 0}
end

local now = tonumber(ARGV[4])
local tokens = tonumber(ARGV[3])

if KEYS[2] ~= '' then
	local g = take(KEYS[2], tonumber(ARGV[5]), tonumber(ARGV[6]), tokens, now)
	if g[1] == 0 then
		return g
	end
end

local k = take(KEYS[1], tonumber(ARGV[1]), tonumber(ARGV[2]), tokens, now)
if k[1] == 0 and KEYS[2] ~= '' then
	redis.call('HINCRBYFLOAT', KEYS[2], 'tokens', tokens)
end
return k
`

// Redis is the shared-bucket limiter used when multiple dispatcher
// processes need to agree on one rate budget per phone number (§4.1). It
// falls open to a Local limiter on any Redis error so a cache outage
// degrades to best-effort per-process limiting instead of blocking all
// sends, matching the fall-open posture aniladanir's cache wrapper takes
// for its Redis-backed reads.
type Redis struct {
	client   *redis.Client
	cfg      Config
	fallback *Local
	log      *zap.Logger
	prefix   string
}

func NewRedis(client *redis.Client, cfg Config, log *zap.Logger) *Redis {
	return &Redis{client: client, cfg: cfg, fallback: NewLocal(cfg), log: log, prefix: "ratelimit:"}
}

func (r *Redis) Acquire(ctx context.Context, key string, tokens float64) (bool, time.Duration, error) {
	globalKey := ""
	if r.cfg.GlobalCapacity > 0 {
		globalKey = r.prefix + "global"
	}

	now := float64(time.Now().UnixNano()) / 1e9
	res, err := r.client.Eval(ctx, refillScript,
		[]string{r.prefix + key, globalKey},
		r.cfg.Capacity, r.cfg.RefillRate, tokens, now, r.cfg.GlobalCapacity, r.cfg.GlobalRefillRate,
	).Result()
	if err != nil {
		if r.log != nil {
			r.log.Warn("ratelimiter: redis unavailable, falling open to local", zap.Error(err), zap.String("key", key))
		}
		return r.fallback.Acquire(ctx, key, tokens)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		if r.log != nil {
			r.log.Warn("ratelimiter: unexpected eval result, falling open to local", zap.String("key", key))
		}
		return r.fallback.Acquire(ctx, key, tokens)
	}
	acquired := vals[0].(int64) == 1
	waitMs, _ := vals[1].(int64)
	return acquired, time.Duration(waitMs) * time.Millisecond, nil
}

// Penalize zeroes key's remote bucket and pushes its refill timestamp
// retryAfter into the future, matching tokenBucket.penalize's semantics but
// expressed as plain HSET/EXPIRE rather than a script — a best-effort
// write where losing a race against a concurrent Acquire just means the
// penalty is shorter than intended, never longer.
func (r *Redis) Penalize(ctx context.Context, key string, retryAfter time.Duration) {
	future := float64(time.Now().Add(retryAfter).UnixNano()) / 1e9
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, r.prefix+key, "tokens", 0, "ts", future)
	pipe.Expire(ctx, r.prefix+key, time.Hour)
	if _, err := pipe.Exec(ctx); err != nil && r.log != nil {
		r.log.Warn("ratelimiter: redis penalize failed", zap.Error(err), zap.String("key", key))
	}
	r.fallback.Penalize(ctx, key, retryAfter)
}
