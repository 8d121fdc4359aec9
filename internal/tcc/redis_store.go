package tcc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisKeyPrefix     = "keyvex:tcc:"
	redisUpdateRetries = 10
)

// RedisStore keeps contexts as JSON documents in Redis. Updates are
// optimistic: WATCH the key, apply the mutation, write in MULTI/EXEC, and
// retry when another writer got there first.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. ttl <= 0 uses DefaultTTL.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(jobID string) string {
	return redisKeyPrefix + jobID
}

func (s *RedisStore) Create(ctx context.Context, t *TCC) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal tcc: %w", err)
	}
	ok, err := s.client.SetNX(ctx, redisKey(t.JobID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrExists, t.JobID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (*TCC, error) {
	data, err := s.client.Get(ctx, redisKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decode(data)
}

func (s *RedisStore) Update(ctx context.Context, jobID string, mutate MutateFunc) (*TCC, error) {
	var out *TCC
	err := s.optimistic(ctx, jobID, func(t *TCC) (bool, error) {
		if err := mutate(t); err != nil {
			return false, err
		}
		out = t
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) AdvanceStep(ctx context.Context, jobID string, from []OrchestrationStep, to OrchestrationStep) (bool, *TCC, error) {
	var (
		out      *TCC
		advanced bool
	)
	err := s.optimistic(ctx, jobID, func(t *TCC) (bool, error) {
		out = t
		advanced = advance(t, from, to)
		return advanced, nil
	})
	if err != nil {
		return false, nil, err
	}
	return advanced, out, nil
}

func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, redisKey(jobID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// optimistic runs apply inside a WATCH transaction. apply reports whether
// the document changed; unchanged documents are not written back.
func (s *RedisStore) optimistic(ctx context.Context, jobID string, apply func(t *TCC) (bool, error)) error {
	key := redisKey(jobID)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrNotFound, jobID)
			}
			return fmt.Errorf("redis get: %w", err)
		}
		t, err := decode(data)
		if err != nil {
			return err
		}
		changed, err := apply(t)
		if err != nil || !changed {
			return err
		}
		Bump(t)
		encoded, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal tcc: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < redisUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", ErrConflict, jobID)
}

func decode(data []byte) (*TCC, error) {
	var t TCC
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal tcc: %w", err)
	}
	return &t, nil
}
