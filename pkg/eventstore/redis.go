package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/rueidis"
)

const (
	DefaultRedisPrefix = "mcpgw"
	DefaultRedisTTL    = time.Hour
)

type redisStore struct {
	client rueidis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore stores events in one sorted set per stream, scored by sequence number.
// Both keys of a stream share a hash tag so they live on the same cluster slot.
func NewRedisStore(client rueidis.Client, prefix string, ttl time.Duration) Store {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &redisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *redisStore) seqKey(streamID string) string {
	return fmt.Sprintf("%s:{%s}:seq", r.prefix, streamID)
}

func (r *redisStore) eventsKey(streamID string) string {
	return fmt.Sprintf("%s:{%s}:events", r.prefix, streamID)
}

func (r *redisStore) Append(ctx context.Context, streamID string, msg json.RawMessage) (string, error) {
	seq, err := r.client.Do(ctx, r.client.B().Incr().Key(r.seqKey(streamID)).Build()).AsInt64()
	if err != nil {
		return "", fmt.Errorf("could not allocate event sequence: %w", err)
	}

	// members must be unique, so they carry their sequence number
	member := strconv.FormatInt(seq, 10) + ":" + string(msg)
	ttl := int64(r.ttl / time.Second)

	for _, res := range r.client.DoMulti(ctx,
		r.client.B().Zadd().Key(r.eventsKey(streamID)).ScoreMember().ScoreMember(float64(seq), member).Build(),
		r.client.B().Expire().Key(r.eventsKey(streamID)).Seconds(ttl).Build(),
		r.client.B().Expire().Key(r.seqKey(streamID)).Seconds(ttl).Build(),
	) {
		if err := res.Error(); err != nil {
			return "", fmt.Errorf("could not store event: %w", err)
		}
	}

	return EventID(streamID, seq), nil
}

func (r *redisStore) ReplayAfter(ctx context.Context, lastEventID string, send SendFunc) (string, error) {
	streamID, after, err := ParseEventID(lastEventID)
	if err != nil {
		return "", err
	}

	exists, err := r.client.Do(ctx, r.client.B().Exists().Key(r.seqKey(streamID)).Build()).AsInt64()
	if err != nil {
		return "", fmt.Errorf("could not look up stream: %w", err)
	}
	if exists == 0 {
		return "", ErrStreamNotFound
	}

	members, err := r.client.Do(ctx, r.client.B().Zrangebyscore().
		Key(r.eventsKey(streamID)).
		Min("(" + strconv.FormatInt(after, 10)).
		Max("+inf").
		Build(),
	).AsStrSlice()
	if err != nil && !rueidis.IsRedisNil(err) {
		return "", fmt.Errorf("could not load events: %w", err)
	}

	for _, m := range members {
		seqStr, payload, ok := strings.Cut(m, ":")
		if !ok {
			continue
		}
		seq, err := strconv.ParseInt(seqStr, 10, 64)
		if err != nil {
			continue
		}
		if err := send(EventID(streamID, seq), json.RawMessage(payload)); err != nil {
			return streamID, err
		}
	}

	return streamID, nil
}

func (r *redisStore) DeleteStream(ctx context.Context, streamID string) error {
	err := r.client.Do(ctx, r.client.B().Del().Key(r.seqKey(streamID), r.eventsKey(streamID)).Build()).Error()
	if err != nil {
		return fmt.Errorf("could not delete stream: %w", err)
	}
	return nil
}
