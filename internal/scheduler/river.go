package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"nodelife.io/nodelife/internal/domain"
	"nodelife.io/nodelife/internal/jobs"
	apperrors "nodelife.io/nodelife/internal/pkg/errors"
	"nodelife.io/nodelife/internal/pkg/logger"
)

const nodeJobsSchema = `
CREATE TABLE IF NOT EXISTS node_jobs (
	job_key      text   PRIMARY KEY,
	river_job_id bigint NOT NULL,
	scheduled_at timestamptz NOT NULL
);
`

// RiverScheduler delivers deferred commands through River. A node_jobs
// row maps each logical job key to the pending River job so that
// replacing or cancelling a slot can target the right job id.
type RiverScheduler struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
}

// NewRiverScheduler creates a scheduler over the shared connection pool.
// The River client is bound later: the client needs its workers at
// construction and the command worker sits downstream of this scheduler.
func NewRiverScheduler(pool *pgxpool.Pool) *RiverScheduler {
	return &RiverScheduler{pool: pool}
}

// Bind attaches the initialized River client. Must happen before the
// first SendAt or Cancel.
func (s *RiverScheduler) Bind(client *river.Client[pgx.Tx]) {
	s.client = client
}

// Migrate creates the job-key mapping table. River manages its own
// tables through rivermigrate.
func (s *RiverScheduler) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, nodeJobsSchema); err != nil {
		return fmt.Errorf("migrate node_jobs: %w", err)
	}
	return nil
}

// SendAt implements Scheduler. The insert and the mapping upsert share a
// transaction so a crash cannot leave a pending job without a mapping.
func (s *RiverScheduler) SendAt(ctx context.Context, cmd domain.Command, at time.Time, jobKey string) error {
	encoded, err := domain.EncodeCommand(cmd)
	if err != nil {
		return apperrors.WrapInternal(err, apperrors.CodeSchedulerFailure,
			"encode deferred command")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.WrapInternal(err, apperrors.CodeSchedulerFailure,
			"begin scheduling transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	previous, err := s.mappedJobID(ctx, tx, jobKey)
	if err != nil {
		return err
	}

	result, err := s.client.InsertTx(ctx, tx, jobs.NodeCommandArgs{
		JobKey:  jobKey,
		Command: encoded,
	}, &river.InsertOpts{ScheduledAt: at})
	if err != nil {
		return apperrors.WrapInternal(err, apperrors.CodeSchedulerFailure,
			"insert deferred command")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO node_jobs (job_key, river_job_id, scheduled_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (job_key) DO UPDATE SET
			river_job_id = EXCLUDED.river_job_id,
			scheduled_at = EXCLUDED.scheduled_at`,
		jobKey, result.Job.ID, at); err != nil {
		return apperrors.WrapInternal(err, apperrors.CodeSchedulerFailure,
			"upsert job mapping (table=node_jobs)")
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.WrapInternal(err, apperrors.CodeSchedulerFailure,
			"commit scheduling transaction")
	}

	// Cancel the replaced job outside the transaction; a leftover job is
	// harmless because its key no longer maps to it and the engine's
	// guards swallow stale deliveries.
	if previous != nil && *previous != result.Job.ID {
		s.cancelJobID(ctx, jobKey, *previous)
	}

	logger.Debug("deferred command scheduled",
		zap.String("job_key", jobKey),
		zap.String("command_type", string(cmd.CommandType())),
		zap.Time("at", at),
		zap.Int64("river_job_id", result.Job.ID),
	)
	return nil
}

// Cancel implements Scheduler.
func (s *RiverScheduler) Cancel(ctx context.Context, jobKeys ...string) error {
	for _, jobKey := range jobKeys {
		jobID, err := s.mappedJobID(ctx, s.pool, jobKey)
		if err != nil {
			return err
		}
		if jobID == nil {
			continue
		}
		s.cancelJobID(ctx, jobKey, *jobID)
		if _, err := s.pool.Exec(ctx,
			`DELETE FROM node_jobs WHERE job_key = $1`, jobKey); err != nil {
			return apperrors.WrapInternal(err, apperrors.CodeSchedulerFailure,
				"delete job mapping (table=node_jobs)")
		}
	}
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *RiverScheduler) mappedJobID(ctx context.Context, q rowQuerier, jobKey string) (*int64, error) {
	var jobID int64
	err := q.QueryRow(ctx,
		`SELECT river_job_id FROM node_jobs WHERE job_key = $1`, jobKey).Scan(&jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.WrapInternal(err, apperrors.CodeSchedulerFailure,
			"lookup job mapping (table=node_jobs)")
	}
	return &jobID, nil
}

func (s *RiverScheduler) cancelJobID(ctx context.Context, jobKey string, jobID int64) {
	if _, err := s.client.JobCancel(ctx, jobID); err != nil {
		if errors.Is(err, rivertype.ErrNotFound) {
			return
		}
		// Best effort. The job may already be running or finished.
		logger.Warn("failed to cancel deferred command",
			zap.String("job_key", jobKey),
			zap.Int64("river_job_id", jobID),
			zap.Error(err),
		)
	}
}
