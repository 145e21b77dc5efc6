package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStreamSink appends entries to a Redis stream with XADD. Stream ids
// are assigned by Redis; the entry id is stored as a field.
type RedisStreamSink struct {
	redis  redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a sink. maxLen > 0 caps the stream length
// approximately; entries past the cap are trimmed from the head.
func NewRedisStreamSink(rdb redis.UniversalClient, stream string, maxLen int64) *RedisStreamSink {
	if stream == "" {
		stream = "authcore:audit"
	}
	return &RedisStreamSink{redis: rdb, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Write(ctx context.Context, e Entry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("audit: encode detail: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"id":            e.ID,
			"ts":            e.Timestamp.UTC().Format(time.RFC3339Nano),
			"actor_id":      e.ActorID,
			"session_id":    e.SessionID,
			"action":        string(e.Action),
			"resource_type": e.ResourceType,
			"resource_id":   e.ResourceID,
			"outcome":       string(e.Outcome),
			"suspicious":    strconv.FormatBool(e.Suspicious),
			"ip":            e.IP,
			"user_agent":    e.UserAgent,
			"detail":        string(detail),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.redis.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("audit: xadd: %w", err)
	}
	return nil
}
