package convo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps per-session context in a capped redis list with a TTL,
// so context survives a server restart within a session's lifetime but
// still evicts on its own.
type RedisStore struct {
	rdb    *redis.Client
	maxLen int64
	ttl    time.Duration
}

func NewRedisStore(rdb *redis.Client, maxLen int, ttl time.Duration) *RedisStore {
	if maxLen <= 0 {
		maxLen = 40
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisStore{rdb: rdb, maxLen: int64(maxLen), ttl: ttl}
}

func key(sessionID string) string { return "live:" + sessionID + ":context" }

func (s *RedisStore) Append(ctx context.Context, sessionID string, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key(sessionID), b)
	pipe.LTrim(ctx, key(sessionID), -s.maxLen, -1)
	pipe.Expire(ctx, key(sessionID), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Recent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	raw, err := s.rdb.LRange(ctx, key(sessionID), start, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue // corrupt entry, skip
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, key(sessionID)).Err()
}
