package storage

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/you/whisperd/internal/domain"
)

// PostgresStore persists job records in a shared database (source of
// truth across serving instances). State machine rules are enforced in
// the UPDATE predicates: a terminal row matches no transition, so late
// writes fall through as no-ops, and row-level locking serializes
// per-job mutation.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore { return &PostgresStore{db} }

func (s *PostgresStore) Create(ctx context.Context, payloadRef string) (domain.Job, error) {
	id := uuid.NewString()
	row := s.db.QueryRow(ctx, `insert into jobs(id, status, progress, message, payload_ref)
values ($1, 'PENDING', 0, 'Job created', $2)
returning id, status, progress, message, payload_ref, created_at, updated_at`,
		id, payloadRef)

	var job domain.Job
	if err := row.Scan(&job.ID, &job.Status, &job.Progress, &job.Message,
		&job.PayloadRef, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return domain.Job{}, errors.Wrap(err, "insert job")
	}
	return job, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Job, error) {
	row := s.db.QueryRow(ctx, `select id, status, progress, message, result, error, payload_ref, created_at, updated_at
from jobs where id = $1`, id)

	var (
		job       domain.Job
		resultRaw []byte
		errMsg    *string
	)
	err := row.Scan(&job.ID, &job.Status, &job.Progress, &job.Message,
		&resultRaw, &errMsg, &job.PayloadRef, &job.CreatedAt, &job.UpdatedAt)
	if err == pgx.ErrNoRows {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.Job{}, errors.Wrap(err, "select job")
	}
	if errMsg != nil {
		job.Error = *errMsg
	}
	if len(resultRaw) > 0 {
		job.Result = &domain.TranscriptionResult{}
		if err := json.Unmarshal(resultRaw, job.Result); err != nil {
			return domain.Job{}, errors.Wrap(err, "decode result")
		}
	}
	return job, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, progress float64, message string) error {
	tag, err := s.db.Exec(ctx, `update jobs
   set status = 'PROCESSING',
       progress = greatest(progress, least(greatest($2, 0), 100)),
       message = coalesce(nullif($3, ''), message),
       updated_at = now()
 where id = $1
   and status in ('PENDING','PROCESSING')`, id, progress, message)
	if err != nil {
		return errors.Wrap(err, "update job")
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	return nil
}

func (s *PostgresStore) Complete(ctx context.Context, id string, result *domain.TranscriptionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "marshal result")
	}

	tag, err := s.db.Exec(ctx, `update jobs
   set status = 'COMPLETED',
       progress = 100,
       message = 'Transcription completed',
       result = $2,
       updated_at = now()
 where id = $1
   and status in ('PENDING','PROCESSING')`, id, data)
	if err != nil {
		return errors.Wrap(err, "complete job")
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, id string, message string) error {
	tag, err := s.db.Exec(ctx, `update jobs
   set status = 'FAILED',
       message = $2,
       error = $2,
       updated_at = now()
 where id = $1
   and status in ('PENDING','PROCESSING')`, id, message)
	if err != nil {
		return errors.Wrap(err, "fail job")
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	return nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]domain.Job, error) {
	rows, err := s.db.Query(ctx, `select id, status, progress, message, created_at, updated_at
from jobs`)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		var job domain.Job
		if err := rows.Scan(&job.ID, &job.Status, &job.Progress, &job.Message,
			&job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `delete from jobs where id = $1`, id)
	return errors.Wrap(err, "delete job")
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// missingOrTerminal distinguishes "row absent" (NotFound) from "row
// terminal" (mutation silently dropped) after a zero-row transition.
func (s *PostgresStore) missingOrTerminal(ctx context.Context, id string) error {
	var exists bool
	if err := s.db.QueryRow(ctx,
		`select exists(select 1 from jobs where id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, "check job")
	}
	if !exists {
		return domain.ErrJobNotFound
	}
	return nil
}
