package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// rotationKey is the Redis list holding the agent rotation for an org.
func rotationKey(orgID uuid.UUID) string {
	return fmt.Sprintf("org:%s:agents:rr", orgID)
}

// RedisRotationQueue implements RotationQueue on a Redis list per
// organization. The pop-front/push-back pair is a single LMOVE, so rotation
// is atomic even under concurrent dispatch; the rebuild paths write the
// roster with one RPUSH (lazy) or a DEL+RPUSH transaction (force), so a
// roster is never partially written.
type RedisRotationQueue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisRotationQueue creates a rotation queue backed by the given client.
func NewRedisRotationQueue(client *redis.Client, logger *zap.Logger) *RedisRotationQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRotationQueue{client: client, logger: logger}
}

// Rotate pops the front agent and pushes it to the back in one atomic
// command. ok is false when the queue is empty.
func (q *RedisRotationQueue) Rotate(ctx context.Context, orgID uuid.UUID) (uuid.UUID, bool, error) {
	key := rotationKey(orgID)
	val, err := q.client.LMove(ctx, key, key, "LEFT", "RIGHT").Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("lmove %s: %w", key, err)
	}
	agentID, err := uuid.Parse(val)
	if err != nil {
		// A corrupt entry is dropped from rotation rather than served again.
		q.logger.Warn("rotation queue entry is not a uuid, discarding",
			zap.String("org_id", orgID.String()), zap.String("value", val))
		q.client.LRem(ctx, key, 1, val)
		return uuid.Nil, false, nil
	}
	return agentID, true, nil
}

// Append pushes the roster onto the back of the queue with one RPUSH.
func (q *RedisRotationQueue) Append(ctx context.Context, orgID uuid.UUID, agents []uuid.UUID) error {
	if len(agents) == 0 {
		return nil
	}
	vals := make([]interface{}, len(agents))
	for i, id := range agents {
		vals[i] = id.String()
	}
	if err := q.client.RPush(ctx, rotationKey(orgID), vals...).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}

// Replace clears the queue and writes the roster inside a MULTI/EXEC
// pipeline, so concurrent rotations observe either the old queue or the
// full new one.
func (q *RedisRotationQueue) Replace(ctx context.Context, orgID uuid.UUID, agents []uuid.UUID) error {
	key := rotationKey(orgID)
	pipe := q.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(agents) > 0 {
		vals := make([]interface{}, len(agents))
		for i, id := range agents {
			vals[i] = id.String()
		}
		pipe.RPush(ctx, key, vals...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replace rotation %s: %w", key, err)
	}
	return nil
}

// Len returns the queue length.
func (q *RedisRotationQueue) Len(ctx context.Context, orgID uuid.UUID) (int64, error) {
	n, err := q.client.LLen(ctx, rotationKey(orgID)).Result()
	if err != nil {
		return 0, fmt.Errorf("llen: %w", err)
	}
	return n, nil
}

// Snapshot returns the queue contents front to back. Entries that are not
// valid uuids are skipped. Used by the reconciler to detect drift.
func (q *RedisRotationQueue) Snapshot(ctx context.Context, orgID uuid.UUID) ([]uuid.UUID, error) {
	vals, err := q.client.LRange(ctx, rotationKey(orgID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange: %w", err)
	}
	out := make([]uuid.UUID, 0, len(vals))
	for _, v := range vals {
		id, err := uuid.Parse(v)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
