package eventlog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the log with a Redis Stream. Entries are added with
// explicit IDs of the form "<seq>-0" so that stream order is exactly log
// order and ranges can be read back by sequence.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "pulse:events"
	}
	return &RedisStore{client: client, key: key}
}

func streamID(seq uint64) string {
	return strconv.FormatUint(seq, 10) + "-0"
}

func seqFromStreamID(id string) (uint64, error) {
	dash := strings.IndexByte(id, '-')
	if dash < 0 {
		return 0, fmt.Errorf("eventlog: malformed stream id %q", id)
	}
	return strconv.ParseUint(id[:dash], 10, 64)
}

func (s *RedisStore) Append(ctx context.Context, seq uint64, data []byte) error {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key,
		ID:     streamID(seq),
		Values: map[string]interface{}{"data": data},
	}).Err()
}

func (s *RedisStore) ReadRange(ctx context.Context, from, to uint64) ([][]byte, error) {
	if from == 0 {
		from = 1
	}
	msgs, err := s.client.XRange(ctx, s.key, streamID(from), streamID(to)).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			return nil, fmt.Errorf("eventlog: stream entry %s has no data field", m.ID)
		}
		out = append(out, []byte(raw))
	}
	return out, nil
}

func (s *RedisStore) LastSeq(ctx context.Context) (uint64, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.key, "+", "-", 1).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	return seqFromStreamID(msgs[0].ID)
}
