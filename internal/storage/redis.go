package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/you/whisperd/internal/domain"
)

const (
	jobKeyPrefix = "job:"
	jobIndexKey  = "jobs:index"

	// optimistic transaction retries before giving up on a contended key
	txRetries = 5
)

// RedisStore backs the job map with a shared redis instance, so every
// serving process observes the same records. Mutations are
// read-modify-write cycles inside WATCH transactions keyed by the job id;
// contention is scoped to one job and retried.
type RedisStore struct {
	rdb *r.Client
	now func() time.Time
}

func NewRedisStore(rdb *r.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func (s *RedisStore) Create(ctx context.Context, payloadRef string) (domain.Job, error) {
	now := s.now().UTC()
	job := domain.Job{
		ID:         uuid.NewString(),
		Status:     domain.StatusPending,
		Progress:   0,
		Message:    "Job created",
		CreatedAt:  now,
		UpdatedAt:  now,
		PayloadRef: payloadRef,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return domain.Job{}, errors.Wrap(err, "marshal job")
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, jobKeyPrefix+job.ID, data, 0)
	pipe.SAdd(ctx, jobIndexKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Job{}, errors.Wrap(err, "persist job")
	}
	return job, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (domain.Job, error) {
	raw, err := s.rdb.Get(ctx, jobKeyPrefix+id).Bytes()
	if err == r.Nil {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.Job{}, errors.Wrap(err, "get job")
	}

	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return domain.Job{}, errors.Wrap(err, "decode job")
	}
	return job, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, progress float64, message string) error {
	return s.mutate(ctx, id, func(j *domain.Job, now time.Time) bool {
		return applyUpdate(j, progress, message, now)
	})
}

func (s *RedisStore) Complete(ctx context.Context, id string, result *domain.TranscriptionResult) error {
	return s.mutate(ctx, id, func(j *domain.Job, now time.Time) bool {
		return applyComplete(j, result, now)
	})
}

func (s *RedisStore) Fail(ctx context.Context, id string, message string) error {
	return s.mutate(ctx, id, func(j *domain.Job, now time.Time) bool {
		return applyFail(j, message, now)
	})
}

func (s *RedisStore) ListAll(ctx context.Context) ([]domain.Job, error) {
	ids, err := s.rdb.SMembers(ctx, jobIndexKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list job ids")
	}

	out := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if err == domain.ErrJobNotFound {
			// index entry outlived the record; drop it
			s.rdb.SRem(ctx, jobIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, jobKeyPrefix+id)
	pipe.SRem(ctx, jobIndexKey, id)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "delete job")
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

// mutate runs a WATCH-guarded read-modify-write on one job key. A
// concurrent writer to the same key aborts the transaction and we retry.
func (s *RedisStore) mutate(ctx context.Context, id string, fn func(*domain.Job, time.Time) bool) error {
	key := jobKeyPrefix + id

	txn := func(tx *r.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == r.Nil {
			return domain.ErrJobNotFound
		}
		if err != nil {
			return errors.Wrap(err, "get job")
		}

		var job domain.Job
		if err := json.Unmarshal(raw, &job); err != nil {
			return errors.Wrap(err, "decode job")
		}
		if !fn(&job, s.now().UTC()) {
			// terminal record; mutation dropped by contract
			return nil
		}

		data, err := json.Marshal(job)
		if err != nil {
			return errors.Wrap(err, "marshal job")
		}
		_, err = tx.TxPipelined(ctx, func(pipe r.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < txRetries; i++ {
		err = s.rdb.Watch(ctx, txn, key)
		if err != r.TxFailedErr {
			return err
		}
	}
	return errors.Wrap(err, "job mutation contended")
}
