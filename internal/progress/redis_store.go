// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	xglog "github.com/allnine-dev/keewacker/internal/log"
	"github.com/allnine-dev/keewacker/internal/metrics"
)

const maxTxRetries = 32

// RedisStore is a bounded Store shared across processes. Records live in
// string keys; a sorted set scored by a write sequence orders them.
type RedisStore struct {
	client   redis.UniversalClient
	prefix   string
	capacity int
}

// NewRedisStore creates a redis-backed store. The client is owned by the caller.
func NewRedisStore(client redis.UniversalClient, prefix string, capacity int) *RedisStore {
	if prefix == "" {
		prefix = "keewacker:progress:"
	}
	return &RedisStore{client: client, prefix: prefix, capacity: capacity}
}

func (s *RedisStore) recordKey(contentKey string) string { return s.prefix + "rec:" + contentKey }
func (s *RedisStore) recentKey() string                  { return s.prefix + "recent" }
func (s *RedisStore) seqKey() string                     { return s.prefix + "seq" }

func (s *RedisStore) Get(ctx context.Context, contentKey string) (Record, bool, error) {
	data, err := s.client.Get(ctx, s.recordKey(contentKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("progress: decode %s: %w", contentKey, err)
	}
	return rec, true, nil
}

// Upsert merges under WATCH so concurrent writers of one key serialise.
func (s *RedisStore) Upsert(ctx context.Context, rec Record) error {
	rec, err := prepare(rec)
	if err != nil {
		return err
	}
	recKey := s.recordKey(rec.ContentKey)

	txf := func(tx *redis.Tx) error {
		merged := rec
		prev, err := tx.Get(ctx, recKey).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var old Record
			if json.Unmarshal(prev, &old) == nil {
				merged = rec.mergeOnto(old)
			}
		}
		data, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		seq, err := tx.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, recKey, data, 0)
			pipe.ZAdd(ctx, s.recentKey(), redis.Z{Score: float64(seq), Member: rec.ContentKey})
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, txf, recKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		break
	}
	if err != nil {
		return fmt.Errorf("progress: redis upsert %s: %w", rec.ContentKey, err)
	}
	metrics.RecordProgressUpsert(BackendRedis)
	return s.trim(ctx)
}

// trim evicts the lowest-sequence members beyond capacity.
func (s *RedisStore) trim(ctx context.Context) error {
	if s.capacity <= 0 {
		return nil
	}
	n, err := s.client.ZCard(ctx, s.recentKey()).Result()
	if err != nil {
		return err
	}
	excess := n - int64(s.capacity)
	if excess <= 0 {
		return nil
	}
	popped, err := s.client.ZPopMin(ctx, s.recentKey(), excess).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(popped))
	for _, z := range popped {
		member, _ := z.Member.(string)
		keys = append(keys, s.recordKey(member))
		logger := xglog.WithComponent("progress")
		logger.Debug().
			Str(xglog.FieldEvent, "progress.evicted").
			Str(xglog.FieldStore, BackendRedis).
			Str(xglog.FieldContentKey, member).
			Msg("retention cap reached, evicted least recently watched record")
	}
	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	metrics.RecordProgressEvictions(BackendRedis, len(keys))
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Record, error) {
	members, err := s.client.ZRevRange(ctx, s.recentKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = s.recordKey(m)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.recentKey()).Result()
	return int(n), err
}

func (s *RedisStore) Close() error {
	return nil
}
