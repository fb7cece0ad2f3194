// Package stream is the durable work queue: redis streams read through a
// consumer group, with every field value msgpack-encoded on the wire.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

// maxLen caps stream growth; trimming is approximate to stay cheap.
const maxLen = 100000

// Conn is a shared redis connection; individual streams hang off it.
type Conn struct {
	rdb *redis.Client
}

// Dial connects to redis. The connection is verified lazily by the first
// stream operation, not here.
func Dial(addr string, db int) *Conn {
	return &Conn{rdb: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

func (c *Conn) Close() error { return c.rdb.Close() }

// Stream is one named stream read through one consumer group.
type Stream struct {
	rdb      *redis.Client
	name     string
	group    string
	consumer string
}

// Stream binds a stream/group/consumer triple, creating the group (and the
// stream, if absent) on first use.
func (c *Conn) Stream(ctx context.Context, name, group, consumer string) (*Stream, error) {
	err := c.rdb.XGroupCreateMkStream(ctx, name, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create group %s on %s: %w", group, name, err)
	}
	return &Stream{rdb: c.rdb, name: name, group: group, consumer: consumer}, nil
}

// Entry is one decoded stream entry.
type Entry struct {
	ID     string
	Fields map[string]any
}

func encodeFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		b, err := msgpack.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		out[k] = b
	}
	return out, nil
}

// Add appends one entry.
func (s *Stream) Add(ctx context.Context, fields map[string]any) error {
	enc, err := encodeFields(fields)
	if err != nil {
		return err
	}
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.name,
		MaxLen: maxLen,
		Approx: true,
		Values: enc,
	}).Err()
}

// AddBatch appends a batch of entries in one pipeline round trip.
func (s *Stream) AddBatch(ctx context.Context, batch []map[string]any) error {
	if len(batch) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	for _, fields := range batch {
		enc, err := encodeFields(fields)
		if err != nil {
			return err
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.name,
			MaxLen: maxLen,
			Approx: true,
			Values: enc,
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Read blocks up to block for undelivered entries and decodes their fields.
// A nil slice with nil error means the block timed out.
func (s *Stream) Read(ctx context.Context, count int64, block time.Duration) ([]Entry, error) {
	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.name, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", s.name, err)
	}
	var out []Entry
	for _, streamRes := range res {
		for _, msg := range streamRes.Messages {
			fields := make(map[string]any, len(msg.Values))
			for k, v := range msg.Values {
				raw, ok := v.(string)
				if !ok {
					log.Warn().Str("stream", s.name).Str("field", k).Msg("non-string stream value, dropping field")
					continue
				}
				var dec any
				if err := msgpack.Unmarshal([]byte(raw), &dec); err != nil {
					log.Warn().Str("stream", s.name).Str("field", k).Err(err).Msg("undecodable stream field, dropping")
					continue
				}
				fields[k] = dec
			}
			out = append(out, Entry{ID: msg.ID, Fields: fields})
		}
	}
	return out, nil
}

// Ack removes entries from the group's pending list.
func (s *Stream) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.rdb.XAck(ctx, s.name, s.group, ids...).Err()
}

// FlushPending acknowledges entries that have sat in the pending list longer
// than minIdle. Run at startup: whatever a dead consumer left behind is
// treated as lost work so it stops hiding fresh entries.
func (s *Stream) FlushPending(ctx context.Context, minIdle time.Duration) (int, error) {
	flushed := 0
	for {
		pending, err := s.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: s.name,
			Group:  s.group,
			Idle:   minIdle,
			Start:  "-",
			End:    "+",
			Count:  500,
		}).Result()
		if err != nil {
			return flushed, fmt.Errorf("xpending %s: %w", s.name, err)
		}
		if len(pending) == 0 {
			return flushed, nil
		}
		ids := make([]string, len(pending))
		for i, p := range pending {
			ids[i] = p.ID
		}
		if err := s.Ack(ctx, ids...); err != nil {
			return flushed, err
		}
		flushed += len(ids)
		log.Warn().Str("stream", s.name).Int("count", len(ids)).Msg("discarded stale pending entries")
	}
}
