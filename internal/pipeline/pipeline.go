// Package pipeline executes claimed tuning jobs end to end: search, final
// training and the terminal status transition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/recotune/recotune/internal/artifact"
	"github.com/recotune/recotune/internal/autopilot"
	"github.com/recotune/recotune/internal/candidate"
	"github.com/recotune/recotune/internal/event"
	"github.com/recotune/recotune/internal/jobstate"
	"github.com/recotune/recotune/internal/metrics"
	"github.com/recotune/recotune/internal/models"
	"github.com/recotune/recotune/internal/recommend"
	"github.com/recotune/recotune/internal/study"
	"github.com/recotune/recotune/pkg/log"
)

// Searcher runs the hyperparameter search of one job.
type Searcher interface {
	Run(ctx context.Context, in autopilot.Input) (*autopilot.Result, error)
}

// FinalTrainer builds the deployable model from the winning configuration
// and returns a reference to it.
type FinalTrainer interface {
	Train(ctx context.Context, req *artifact.Request) (string, error)
}

type Config struct {
	Jobs     *jobstate.Machine
	Registry *candidate.Registry
	// Searchers holds one scheduler per isolation engine.
	Searchers map[models.IsolationEngine]Searcher
	Trainer   FinalTrainer
	Bus       event.Bus
	// Progress is an additional sink called after each trial.
	Progress autopilot.ProgressFunc
}

type Pipeline struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Jobs == nil:
		return nil, errors.New("pipeline: job state machine is required")
	case cfg.Registry == nil:
		return nil, errors.New("pipeline: candidate registry is required")
	case len(cfg.Searchers) == 0:
		return nil, errors.New("pipeline: at least one searcher is required")
	case cfg.Trainer == nil:
		return nil, errors.New("pipeline: final trainer is required")
	}
	if cfg.Bus == nil {
		cfg.Bus = event.New()
	}
	return &Pipeline{cfg: cfg, now: time.Now}, nil
}

// Run claims the job and executes it. A false result with a nil error
// means the job was not PENDING and was left alone.
func (p *Pipeline) Run(ctx context.Context, id uint64) (bool, error) {
	claimed, err := p.cfg.Jobs.Claim(ctx, id)
	if err != nil || !claimed {
		return false, err
	}

	job, err := p.cfg.Jobs.Get(ctx, id)
	if err != nil {
		p.fail(ctx, id, err)
		return true, err
	}
	return true, p.Execute(ctx, job)
}

// Execute runs a job the caller already moved to RUNNING. Whatever goes
// wrong after that point leaves the job FAILED, and the error is still
// returned to the caller.
func (p *Pipeline) Execute(ctx context.Context, job *models.TuningJob) error {
	start := p.now()
	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()

	p.publish(event.Event{Type: event.TypeJobStarted, JobID: job.ID}, nil)
	log.Info("job started", "job_id", job.ID, "alias", job.Alias, "engine", job.Engine)

	result, err := p.execute(ctx, job)
	status := models.JobStatusCompleted
	if err != nil {
		status = models.JobStatusFailed
		p.fail(ctx, job.ID, err)
		p.publish(event.Event{Type: event.TypeJobFailed, JobID: job.ID}, map[string]string{"error": err.Error()})
	} else {
		p.publish(event.Event{Type: event.TypeJobCompleted, JobID: job.ID, Study: result.Study}, map[string]interface{}{
			"candidate":        result.Candidate,
			"params":           result.Params,
			"score":            result.Score,
			"trials":           len(result.Trials),
			"budget_exhausted": result.BudgetExhausted,
		})
	}

	elapsed := p.now().Sub(start)
	metrics.JobDurationSeconds.WithLabelValues(string(status)).Observe(elapsed.Seconds())
	log.Info("job finished", "job_id", job.ID, "status", status, "duration", elapsed)
	return err
}

// execute converts a panic into an error so the job still reaches FAILED
// and the dispatcher survives.
func (p *Pipeline) execute(ctx context.Context, job *models.TuningJob) (result *autopilot.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("job panicked: %v", r)
		}
	}()

	searcher, ok := p.cfg.Searchers[job.Engine]
	if !ok {
		return nil, fmt.Errorf("isolation engine %q is not available", job.Engine)
	}

	dataPath, err := filepath.Abs(job.DataPath)
	if err != nil {
		return nil, err
	}
	data, err := recommend.LoadCSV(dataPath)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	in := p.input(job, data, dataPath)
	result, err = searcher.Run(ctx, in)
	if err != nil {
		return nil, err
	}

	ref, err := p.cfg.Trainer.Train(ctx, &artifact.Request{
		JobID:     job.ID,
		Candidate: result.Candidate,
		Params:    result.Params,
		Score:     result.Score,
		Seed:      result.TrialSeed,
		JobSeed:   result.Seed,
		Cutoff:    in.Cutoff,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("final training: %w", err)
	}

	if err := p.cfg.Jobs.Complete(ctx, job.ID, jobstate.Outcome{
		Candidate:   result.Candidate,
		Params:      result.Params,
		Score:       result.Score,
		ArtifactRef: ref,
	}); err != nil {
		return nil, err
	}

	return result, nil
}

func (p *Pipeline) input(job *models.TuningJob, data *recommend.Dataset, dataPath string) autopilot.Input {
	names := []string(job.Candidates)
	if len(names) == 0 {
		names = p.cfg.Registry.Names()
	}
	cutoff := job.Cutoff
	if cutoff <= 0 {
		cutoff = models.DefaultCutoff
	}
	holdout := job.HoldoutFraction
	if holdout <= 0 {
		holdout = models.DefaultHoldoutFraction
	}

	return autopilot.Input{
		JobID:             job.ID,
		Data:              data,
		DataPath:          dataPath,
		Candidates:        names,
		MemoryBudget:      job.MemoryBudget,
		NTrials:           job.NTrials,
		TimeoutOverall:    job.TimeoutOverall(),
		TimeoutSingleStep: job.TimeoutSingleStep(),
		Seed:              job.RandomSeed,
		Cutoff:            cutoff,
		HoldoutFraction:   holdout,
		SplitSeed:         job.SplitSeed,
		Progress:          p.progress(job.ID),
	}
}

// progress publishes a trial event and forwards to the configured sink. A
// panicking sink is logged and does not reach the scheduler.
func (p *Pipeline) progress(jobID uint64) autopilot.ProgressFunc {
	return func(index int, row study.Row) {
		defer func() {
			if r := recover(); r != nil {
				log.Warn("progress sink panicked", "job_id", jobID, "trial", index, "panic", r)
			}
		}()

		p.publish(event.Event{Type: event.TypeTrialCompleted, JobID: jobID}, row)
		if p.cfg.Progress != nil {
			p.cfg.Progress(index, row)
		}
	}
}

func (p *Pipeline) publish(e event.Event, payload interface{}) {
	if payload != nil {
		var err error
		if e, err = e.WithPayload(payload); err != nil {
			log.Warn("encode event payload", "type", e.Type, "error", err)
		}
	}
	p.cfg.Bus.Publish(e)
}

// fail records cause on the job. It uses a context that survives
// cancellation of ctx so shutdown still leaves a terminal status.
func (p *Pipeline) fail(ctx context.Context, id uint64, cause error) {
	log.Error("job failed", "job_id", id, "error", cause)
	if err := p.cfg.Jobs.Fail(context.WithoutCancel(ctx), id, cause); err != nil {
		log.Error("record job failure", "job_id", id, "error", err)
	}
}
