package dispatcher

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// idempotencyTTL mirrors TTL.IDEMPOTENCY from the original's server/core/redis
// module: 24 hours is long enough to span a worker crash/restart cycle
// while not growing unbounded.
const idempotencyTTL = 24 * time.Hour

// idempotencyGuard is the Redis fast path in front of the Postgres CAS (a
// GET before the send, a SET with idempotencyTTL after an accepted send), grounded on check_already_sent/mark_as_sent in
// original_source/server/workers/outbound.py. Postgres's CASStatus remains
// the source of truth; this only avoids the round-trip on the hot
// duplicate-delivery path. A nil client disables the fast path (every
// message falls through to the CAS).
type idempotencyGuard struct {
	client *redis.Client
}

func newIdempotencyGuard(client *redis.Client) *idempotencyGuard {
	return &idempotencyGuard{client: client}
}

func (g *idempotencyGuard) key(messageID string) string {
	return "outbound:sent:" + messageID
}

// alreadySent reports whether messageID was already marked sent. On Redis
// error it returns false so the dispatcher falls through to the
// authoritative CAS rather than blocking delivery.
func (g *idempotencyGuard) alreadySent(ctx context.Context, messageID string) bool {
	if g.client == nil {
		return false
	}
	_, err := g.client.Get(ctx, g.key(messageID)).Result()
	return err == nil
}

func (g *idempotencyGuard) markSent(ctx context.Context, messageID, upstreamMessageID string) {
	if g.client == nil {
		return
	}
	g.client.Set(ctx, g.key(messageID), upstreamMessageID, idempotencyTTL)
}
