package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/koios/qr-decoder/pkg/models"
	"github.com/redis/go-redis/v9"
)

const (
	fieldTotal   = "total"
	fieldSuccess = "success"
	fieldTimeMs  = "time_ms"
)

// redisStore keeps one JSON value per entry plus two sorted sets scored by
// timestamp (all entries, successful entries), a hash of per-entry processing
// times and a hash of running totals.
type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis builds a store on a shared client. The caller owns the client.
func NewRedis(client *redis.Client, prefix string) (Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis store requires a client")
	}
	return &redisStore{client: client, prefix: prefix}, nil
}

func (s *redisStore) entryKey(id string) string { return s.prefix + "log:" + id }
func (s *redisStore) allKey() string            { return s.prefix + "logs:all" }
func (s *redisStore) successKey() string        { return s.prefix + "logs:success" }
func (s *redisStore) totalsKey() string         { return s.prefix + "logs:totals" }
func (s *redisStore) timesKey() string          { return s.prefix + "logs:time_ms" }

func (s *redisStore) Insert(ctx context.Context, entry *models.ProcessingLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return persistenceError("store.Insert", err)
	}

	score := float64(entry.Timestamp.UnixMilli())
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(entry.ID), data, 0)
		pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: entry.ID})
		if entry.Success {
			pipe.ZAdd(ctx, s.successKey(), redis.Z{Score: score, Member: entry.ID})
			pipe.HIncrBy(ctx, s.totalsKey(), fieldSuccess, 1)
		}
		pipe.HSet(ctx, s.timesKey(), entry.ID, entry.ProcessingTimeMs)
		pipe.HIncrBy(ctx, s.totalsKey(), fieldTotal, 1)
		pipe.HIncrByFloat(ctx, s.totalsKey(), fieldTimeMs, entry.ProcessingTimeMs)
		return nil
	})
	return persistenceError("store.Insert", err)
}

func (s *redisStore) CountSuccessful(ctx context.Context, since time.Time) (int64, error) {
	var (
		count int64
		err   error
	)
	if since.IsZero() {
		count, err = s.client.ZCard(ctx, s.successKey()).Result()
	} else {
		count, err = s.client.ZCount(ctx, s.successKey(), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	}
	if err != nil {
		return 0, persistenceError("store.CountSuccessful", err)
	}
	return count, nil
}

func (s *redisStore) Recent(ctx context.Context, limit int) ([]models.ProcessingLog, error) {
	if limit <= 0 {
		return []models.ProcessingLog{}, nil
	}

	ids, err := s.client.ZRevRange(ctx, s.allKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, persistenceError("store.Recent", err)
	}
	return s.load(ctx, ids)
}

func (s *redisStore) load(ctx context.Context, ids []string) ([]models.ProcessingLog, error) {
	entries := make([]models.ProcessingLog, 0, len(ids))
	if len(ids) == 0 {
		return entries, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, persistenceError("store.load", err)
	}

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var entry models.ProcessingLog
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *redisStore) Summary(ctx context.Context) (models.ProcessingSummary, error) {
	totals, err := s.client.HGetAll(ctx, s.totalsKey()).Result()
	if err != nil {
		return models.ProcessingSummary{}, persistenceError("store.Summary", err)
	}

	total, _ := strconv.ParseInt(totals[fieldTotal], 10, 64)
	successful, _ := strconv.ParseInt(totals[fieldSuccess], 10, 64)
	timeMs, _ := strconv.ParseFloat(totals[fieldTimeMs], 64)

	avg := 0.0
	if total > 0 {
		avg = timeMs / float64(total)
	}
	return summarize(total, successful, avg), nil
}

func (s *redisStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.allKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, persistenceError("store.Prune", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// Totals come from the index structures; entry bodies may be missing.
	successful, err := s.countSuccessMembers(ctx, ids)
	if err != nil {
		return 0, persistenceError("store.Prune", err)
	}
	timeMs, err := s.sumTimes(ctx, ids)
	if err != nil {
		return 0, persistenceError("store.Prune", err)
	}

	members := make([]interface{}, len(ids))
	keys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		keys[i] = s.entryKey(id)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.allKey(), members...)
		pipe.ZRem(ctx, s.successKey(), members...)
		pipe.HDel(ctx, s.timesKey(), ids...)
		pipe.HIncrBy(ctx, s.totalsKey(), fieldTotal, -int64(len(ids)))
		pipe.HIncrBy(ctx, s.totalsKey(), fieldSuccess, -successful)
		pipe.HIncrByFloat(ctx, s.totalsKey(), fieldTimeMs, -timeMs)
		return nil
	})
	if err != nil {
		return 0, persistenceError("store.Prune", err)
	}
	return int64(len(ids)), nil
}

func (s *redisStore) countSuccessMembers(ctx context.Context, ids []string) (int64, error) {
	cmds := make([]*redis.FloatCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.ZScore(ctx, s.successKey(), id)
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return 0, err
	}

	var n int64
	for _, cmd := range cmds {
		switch err := cmd.Err(); err {
		case nil:
			n++
		case redis.Nil:
		default:
			return 0, err
		}
	}
	return n, nil
}

func (s *redisStore) sumTimes(ctx context.Context, ids []string) (float64, error) {
	values, err := s.client.HMGet(ctx, s.timesKey(), ids...).Result()
	if err != nil {
		return 0, err
	}

	var sum float64
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		if ms, err := strconv.ParseFloat(raw, 64); err == nil {
			sum += ms
		}
	}
	return sum, nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return persistenceError("store.Ping", s.client.Ping(ctx).Err())
}

// Close is a no-op; the shared client is closed by its owner.
func (s *redisStore) Close() error {
	return nil
}
