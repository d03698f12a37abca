package worker

import (
	"context"
	"time"

	"github.com/recotune/recotune/internal/models"
	"github.com/recotune/recotune/pkg/log"
)

type JobClaimer interface {
	ClaimNext(ctx context.Context) (*models.TuningJob, error)
}

// JobExecutor runs a job that is already RUNNING.
type JobExecutor func(ctx context.Context, job *models.TuningJob)

type Worker struct {
	claimer      JobClaimer
	pool         *Pool
	pollInterval time.Duration
	executor     JobExecutor
}

func NewWorker(claimer JobClaimer, pool *Pool, pollInterval time.Duration, executor JobExecutor) *Worker {
	if claimer == nil {
		panic("worker requires job claimer")
	}
	if pool == nil {
		pool = NewPool(1)
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if executor == nil {
		executor = func(context.Context, *models.TuningJob) {}
	}

	return &Worker{
		claimer:      claimer,
		pool:         pool,
		pollInterval: pollInterval,
		executor:     executor,
	}
}

// Run polls for PENDING jobs until ctx is done. A slot is reserved before
// each claim so a claimed job never waits for capacity while RUNNING.
func (w *Worker) Run(ctx context.Context) error {
	defer w.pool.Wait()

	for {
		slot, err := w.pool.Acquire(ctx)
		if err != nil {
			return nil
		}

		job, err := w.claimer.ClaimNext(ctx)
		if err != nil || job == nil {
			slot.Release()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error("failed to claim next job", "error", err)
			}
			if sleepErr := sleepWithContext(ctx, w.pollInterval); sleepErr != nil {
				return nil
			}
			continue
		}

		slot.Go(func() {
			w.executor(ctx, job)
		})
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
