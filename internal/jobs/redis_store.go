package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix     = "job:"
	maxUpdateRetries = 16
)

// RedisStore はジョブ状態を Redis に保存します。
// 更新は WATCH/MULTI による楽観的トランザクションで直列化します。
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb: rdb,
	}
}

// Create はレコードを新規保存します。
func (s *RedisStore) Create(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.JobID == "" {
		return fmt.Errorf("record.JobID is required")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, jobKey(record.JobID), payload, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job already exists: %s", record.JobID)
	}
	return nil
}

// Get はジョブ情報を取得します。
func (s *RedisStore) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, nil
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Update はジョブ情報を部分更新します。
func (s *RedisStore) Update(ctx context.Context, jobID string, mutate func(*Record) error) (*Record, error) {
	key := jobKey(jobID)
	var updated *Record

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
			}
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		if err := mutate(&record); err != nil {
			return err
		}
		payload, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		if err == nil {
			updated = &record
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("job update conflict: %s", jobID)
}

// List は全ジョブを返します。
func (s *RedisStore) List(ctx context.Context) ([]*Record, error) {
	var records []*Record
	iter := s.rdb.Scan(ctx, 0, jobKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		record, err := s.Get(ctx, iter.Val()[len(jobKeyPrefix):])
		if err != nil {
			return nil, err
		}
		// SCAN と GET の間に削除されたキーは無視する
		if record != nil {
			records = append(records, record)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sortNewestFirst(records)
	return records, nil
}

// Delete はジョブを削除します。
func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	return s.rdb.Del(ctx, jobKey(jobID)).Err()
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

var _ Store = (*RedisStore)(nil)
