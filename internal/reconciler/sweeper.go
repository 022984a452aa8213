package reconciler

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fertilia/reconciler/internal/domain"
	"github.com/fertilia/reconciler/internal/store"
)

const defaultPageSize = 100

// Sweeper closes the gap left by dropped or never-fired terminal events:
// it walks the job store for terminal jobs that were never reconciled and
// funnels each through the same processor path a live event would take.
// Racing the live path is safe; the processor's idempotency guard makes
// the two converge on a single economic effect.
type Sweeper struct {
	jobs      store.JobStore
	processor *Processor
	pageSize  int
	log       zerolog.Logger
}

// NewSweeper creates a Sweeper. pageSize <= 0 selects the default.
func NewSweeper(jobs store.JobStore, processor *Processor, pageSize int, logger zerolog.Logger) *Sweeper {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Sweeper{
		jobs:      jobs,
		processor: processor,
		pageSize:  pageSize,
		log:       logger.With().Str("component", "sweeper").Logger(),
	}
}

// Sweep processes every unreconciled terminal job and returns a summary.
//
// Per-job failures are counted, logged, and skipped; they never abort the
// sweep. Cancellation is honored between pages: re-running from the start
// is safe, so an interrupted sweep just leaves work for the next one.
func (s *Sweeper) Sweep(ctx context.Context) (domain.SweepSummary, error) {
	runID := uuid.NewString()
	log := s.log.With().Str("sweep_id", runID).Logger()
	log.Info().Msg("reconciliation sweep started")

	var summary domain.SweepSummary
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).
				Int("processed", summary.Processed).
				Msg("sweep interrupted")
			return summary, err
		}

		jobs, next, err := s.jobs.ListUnreconciled(ctx, cursor, s.pageSize)
		if err != nil {
			return summary, domain.Dependencyf("job store", err)
		}

		for _, job := range jobs {
			if err := s.sweepJob(ctx, job); err != nil {
				summary.Errors++
				sweepJobsTotal.WithLabelValues("error").Inc()
				log.Error().Err(err).
					Str("job_id", job.JobID).
					Str("status", string(job.Status)).
					Msg("sweep failed to reconcile job")
				continue
			}
			summary.Processed++
			sweepJobsTotal.WithLabelValues("processed").Inc()
		}

		if next == "" {
			break
		}
		cursor = next
	}

	log.Info().
		Int("processed", summary.Processed).
		Int("errors", summary.Errors).
		Msg("reconciliation sweep completed")
	return summary, nil
}

// sweepJob replays the terminal event the transport never delivered,
// built from the job's stored fields.
func (s *Sweeper) sweepJob(ctx context.Context, job domain.Job) error {
	switch job.Status {
	case domain.JobCompleted:
		_, err := s.processor.ApplySuccess(ctx, domain.SuccessEvent{
			JobID:   job.JobID,
			UserID:  job.UserID,
			Seconds: job.Seconds,
			Model:   job.Model,
		})
		return err
	case domain.JobFailed:
		_, err := s.processor.ApplyFailure(ctx, domain.FailureEvent{
			JobID:  job.JobID,
			UserID: job.UserID,
		})
		return err
	default:
		// ListUnreconciled only returns terminal jobs; anything else is a
		// store bug worth surfacing as an error count.
		return domain.Validationf("job %s has non-terminal status %q", job.JobID, job.Status)
	}
}
