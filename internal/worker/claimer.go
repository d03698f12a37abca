package worker

import (
	"context"
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/recotune/recotune/internal/jobstate"
	"github.com/recotune/recotune/internal/metrics"
	"github.com/recotune/recotune/internal/models"
	"github.com/recotune/recotune/pkg/log"
)

const claimBatch = 64

type Claimer struct {
	nodeID string
	jobs   *jobstate.Machine
}

func NewClaimer(nodeID string, jobs *jobstate.Machine) *Claimer {
	if jobs == nil {
		panic("worker claimer requires job state machine")
	}
	if strings.TrimSpace(nodeID) == "" {
		nodeID = "unknown-node"
	}

	return &Claimer{
		nodeID: nodeID,
		jobs:   jobs,
	}
}

// ClaimNext moves the oldest PENDING job to RUNNING and returns it, or
// returns nil when no job is available.
func (c *Claimer) ClaimNext(ctx context.Context) (*models.TuningJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pending, err := c.jobs.List(ctx, &jobstate.ListRequest{
		Status: models.JobStatusPending,
		Limit:  claimBatch,
	})
	if err != nil {
		return nil, err
	}

	for _, candidate := range pending {
		claimed, err := c.jobs.Claim(ctx, candidate.ID)
		if err != nil {
			if isClaimContentionErr(err) {
				metrics.WorkerClaimContentionTotal.WithLabelValues(c.nodeID).Inc()
			}
			return nil, err
		}
		if !claimed {
			// Another node won the race.
			metrics.WorkerClaimContentionTotal.WithLabelValues(c.nodeID).Inc()
			continue
		}

		job, err := c.jobs.Get(ctx, candidate.ID)
		if err != nil {
			// The claim stands, so the job must not stay RUNNING.
			if ferr := c.jobs.Fail(context.WithoutCancel(ctx), candidate.ID, err); ferr != nil {
				log.Error("failed to release claimed job", "job_id", candidate.ID, "error", ferr)
			}
			return nil, err
		}

		metrics.WorkerClaimsTotal.WithLabelValues(c.nodeID).Inc()
		log.Info("claimed job", "job_id", job.ID, "node_id", c.nodeID)
		return job, nil
	}

	return nil, nil
}

func isClaimContentionErr(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
