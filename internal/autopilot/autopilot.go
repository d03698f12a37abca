// Package autopilot runs the hyperparameter search of one tuning job: it
// filters the candidates by memory budget, then launches one isolated
// trial worker at a time against a throwaway study until the trial count
// or the time budget is exhausted, and finally reports the best trial.
package autopilot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/recotune/recotune/internal/atom"
	"github.com/recotune/recotune/internal/candidate"
	"github.com/recotune/recotune/internal/metrics"
	"github.com/recotune/recotune/internal/models"
	"github.com/recotune/recotune/internal/recommend"
	"github.com/recotune/recotune/internal/seed"
	"github.com/recotune/recotune/internal/study"
	"github.com/recotune/recotune/internal/trial"
	"github.com/recotune/recotune/pkg/container"
	"github.com/recotune/recotune/pkg/log"
)

const (
	defaultPollInterval = 100 * time.Millisecond

	// maxLogTail bounds the worker output echoed into the scheduler log.
	maxLogTail = 4 << 10

	outcomeCompleted = "completed"
	outcomeTimeout   = "timeout"
	outcomeFailed    = "failed"
)

// ProgressFunc receives the index of the trial that just finished and the
// latest row of the study. It runs on the scheduler goroutine.
type ProgressFunc func(index int, row study.Row)

// CommandFunc builds the worker argv for a request file.
type CommandFunc func(requestPath string) []string

// Config holds what is shared by every run of a Scheduler.
type Config struct {
	Engine   atom.Engine
	Registry *candidate.Registry
	// StudyBase is the parent directory of per-run study directories.
	StudyBase string
	Command   CommandFunc
	// Image is only used by container engines.
	Image        string
	Env          map[string]string
	PollInterval time.Duration
}

// Input describes one search.
type Input struct {
	JobID             uint64
	Data              *recommend.Dataset
	DataPath          string
	Candidates        []string
	MemoryBudget      int64
	NTrials           int
	TimeoutOverall    time.Duration
	TimeoutSingleStep time.Duration
	Seed              *int64
	Cutoff            int
	HoldoutFraction   float64
	SplitSeed         int64
	Progress          ProgressFunc
}

// Result is the outcome of a search.
type Result struct {
	Study     string                 `json:"study"`
	Candidate string                 `json:"candidate"`
	Params    map[string]interface{} `json:"params"`
	Score     float64                `json:"score"`
	Trials    []study.Row            `json:"trials"`
	// BudgetExhausted is set when the overall timeout ended the loop
	// before NTrials ran.
	BudgetExhausted bool `json:"budget_exhausted"`
	// Seed is the base seed of the run. TrialSeed is the seed the best
	// trial trained with, which the final model must reuse.
	Seed      int64 `json:"seed"`
	TrialSeed int64 `json:"trial_seed"`
}

type Scheduler struct {
	cfg  Config
	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// New validates cfg and returns a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	switch {
	case cfg.Engine == nil:
		return nil, errors.New("autopilot: engine is required")
	case cfg.Registry == nil:
		return nil, errors.New("autopilot: candidate registry is required")
	case cfg.Command == nil:
		return nil, errors.New("autopilot: worker command is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return &Scheduler{
		cfg:  cfg,
		now:  time.Now,
		wait: sleep,
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StudyName derives the study name of a job started at t.
func StudyName(jobID uint64, t time.Time) string {
	return fmt.Sprintf("job-%d-%s", jobID, t.UTC().Format("20060102T150405"))
}

// TrialTimeout is the effective timeout of the next trial given the time
// already spent. Zero means unbounded.
func TrialTimeout(overall, single, elapsed time.Duration) time.Duration {
	if overall <= 0 {
		return single
	}
	remaining := overall - elapsed
	if single > 0 && single < remaining {
		return single
	}
	return remaining
}

// run is the state of a single Run call.
type run struct {
	*Scheduler
	in      Input
	name    string
	storage *study.Storage
	request trial.Request
}

// Run executes the search. Worker failures and timeouts are recorded as
// zero-score trials; anything else that goes wrong is returned.
func (s *Scheduler) Run(ctx context.Context, in Input) (*Result, error) {
	if in.NTrials < 1 {
		return nil, fmt.Errorf("autopilot: n_trials must be at least 1, got %d", in.NTrials)
	}
	if in.Data == nil {
		return nil, errors.New("autopilot: dataset is required")
	}

	ranges, surviving, err := candidate.Filter(in.Data, in.MemoryBudget, in.Candidates, s.cfg.Registry)
	if err != nil {
		return nil, err
	}
	if len(surviving) == 0 {
		return nil, candidate.ErrNoAvailableCandidate
	}

	start := s.now()
	name := StudyName(in.JobID, start)
	dir := filepath.Join(s.cfg.StudyBase, name+"-"+uuid.NewString())

	storage, err := study.Init(dir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := storage.Destroy(); err != nil {
			log.Error("destroy study storage", "study", name, "dir", dir, "error", err)
		}
	}()

	if _, err := storage.Create(ctx, name, models.StudyDirectionMaximize); err != nil {
		return nil, err
	}

	r := &run{
		Scheduler: s,
		in:        in,
		name:      name,
		storage:   storage,
		request: trial.Request{
			StudyDir:        dir,
			StudyName:       name,
			DataPath:        in.DataPath,
			Cutoff:          in.Cutoff,
			HoldoutFraction: in.HoldoutFraction,
			SplitSeed:       in.SplitSeed,
			Candidates:      surviving,
			Ranges:          ranges,
			MemoryBudget:    in.MemoryBudget,
		},
	}
	seeds := seed.NewSequence(in.Seed)

	log.Info("search started",
		"job_id", in.JobID,
		"study", name,
		"candidates", surviving,
		"n_trials", in.NTrials,
		"timeout_overall", in.TimeoutOverall,
		"timeout_singlestep", in.TimeoutSingleStep,
		"seed", seeds.Base(),
	)

	exhausted := false
	for i := 0; i < in.NTrials; i++ {
		elapsed := s.now().Sub(start)
		// >= rather than >: at elapsed == overall TrialTimeout would be zero,
		// which reads as unbounded.
		if in.TimeoutOverall > 0 && elapsed >= in.TimeoutOverall {
			exhausted = true
			break
		}

		timeout := TrialTimeout(in.TimeoutOverall, in.TimeoutSingleStep, elapsed)
		if err := r.trial(ctx, i, seeds.Next(), timeout); err != nil {
			return nil, err
		}

		if in.Progress != nil {
			rows, err := storage.All(ctx, name)
			if err != nil {
				return nil, err
			}
			if len(rows) > 0 {
				in.Progress(i, rows[len(rows)-1])
			}
		}

		if in.TimeoutOverall > 0 && s.now().Sub(start) >= in.TimeoutOverall {
			exhausted = i+1 < in.NTrials
			break
		}
	}

	rows, err := storage.All(ctx, name)
	if err != nil {
		return nil, err
	}

	best, err := r.best(ctx, rows)
	if err != nil {
		return nil, err
	}
	best.Trials = rows
	best.BudgetExhausted = exhausted
	best.Seed = seeds.Base()

	log.Info("search finished",
		"job_id", in.JobID,
		"study", name,
		"trials", len(rows),
		"budget_exhausted", exhausted,
		"candidate", best.Candidate,
		"score", best.Score,
	)

	return best, nil
}

// best reads the best trial and flattens its parameters. A trial that was
// killed before recording its parameters can tie for best at 0.0; such
// trials are skipped in favor of the next best.
func (r *run) best(ctx context.Context, rows []study.Row) (*Result, error) {
	t, err := r.storage.Best(ctx, r.name)
	if err != nil {
		return nil, err
	}

	name, params, err := study.Split(t.Params)
	score := *t.Value
	trialSeed := t.Seed
	if err != nil {
		found := false
		for _, row := range rows {
			if row.State != models.TrialStateComplete || row.Value == nil || row.Candidate == "" {
				continue
			}
			if !found || *row.Value > score {
				score = *row.Value
				trialSeed = row.Seed
				name, params, err = study.Split(row.Params)
				found = err == nil
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: no trial recorded its parameters", study.ErrNoCompletedTrial)
		}
	}

	return &Result{
		Study:     r.name,
		Candidate: name,
		Params:    params,
		Score:     score,
		TrialSeed: trialSeed,
	}, nil
}

// trial launches one worker and waits for it.
func (r *run) trial(ctx context.Context, index int, trialSeed int64, timeout time.Duration) error {
	req := r.request
	req.Seed = trialSeed

	path, err := trial.Write(req.StudyDir, index, &req)
	if err != nil {
		return err
	}

	spec := container.Spec{
		Env:    r.cfg.Env,
		Memory: r.in.MemoryBudget,
	}
	spec.BindSame(req.StudyDir, false)
	spec.BindSame(filepath.Dir(req.DataPath), true)

	started := r.now()
	a, err := r.cfg.Engine.Create(&atom.EngineCreateRequest{
		Name:    fmt.Sprintf("%s-trial-%d", r.name, index),
		Image:   r.cfg.Image,
		Command: r.cfg.Command(path),
		Spec:    spec,
	})
	if err != nil {
		return fmt.Errorf("launch trial %d: %w", index, err)
	}

	log.Debug("trial worker launched", "study", r.name, "index", index, "atom", a.ID(), "timeout", timeout)

	result, timedOut, err := r.monitor(ctx, a.ID(), started, timeout)
	if err != nil {
		r.abandon(a.ID())
		return err
	}

	outcome := outcomeCompleted
	switch {
	case timedOut:
		outcome = outcomeTimeout
		log.Warn("trial timed out", "study", r.name, "index", index, "timeout", timeout)
	case result != atom.Success:
		outcome = outcomeFailed
		log.Warn("trial worker failed",
			"study", r.name,
			"index", index,
			"result", result,
			"output", r.tail(a.ID()),
		)
	}

	if outcome != outcomeCompleted {
		if err := r.reconcile(ctx); err != nil {
			r.remove(a.ID())
			return err
		}
	}

	r.remove(a.ID())

	metrics.TrialsTotal.WithLabelValues(outcome).Inc()
	metrics.TrialDurationSeconds.WithLabelValues(outcome).Observe(r.now().Sub(started).Seconds())
	return nil
}

// monitor polls the worker until it stops or the timeout passes. On
// timeout the worker is killed without a grace period.
func (r *run) monitor(ctx context.Context, id string, started time.Time, timeout time.Duration) (atom.Result, bool, error) {
	for {
		a, err := r.cfg.Engine.Get(&atom.EngineGetRequest{ID: id})
		if err != nil {
			return "", false, fmt.Errorf("inspect trial worker %s: %w", id, err)
		}

		switch a.State() {
		case atom.Stopped:
			return a.Result(), false, nil
		case atom.Invalid:
			return "", false, fmt.Errorf("trial worker %s is in an invalid state", id)
		}

		if timeout > 0 && r.now().Sub(started) >= timeout {
			if err := r.kill(id); err != nil {
				return "", false, err
			}
			return atom.Killed, true, nil
		}

		pause := r.cfg.PollInterval
		if timeout > 0 {
			if left := timeout - r.now().Sub(started); left < pause {
				pause = left
			}
		}

		if err := r.wait(ctx, pause); err != nil {
			return "", false, err
		}
	}
}

// abandon kills and removes a worker whose fate is unknown, so nothing
// keeps running once the study directory is destroyed.
func (r *run) abandon(id string) {
	if err := r.kill(id); err != nil {
		log.Error("kill abandoned trial worker", "atom", id, "error", err)
	}
	r.remove(id)
}

func (r *run) remove(id string) {
	if err := r.cfg.Engine.Remove(&atom.EngineRemoveRequest{ID: id}); err != nil {
		log.Warn("remove trial worker", "atom", id, "error", err)
	}
}

func (r *run) kill(id string) error {
	if err := r.cfg.Engine.Stop(&atom.EngineStopRequest{ID: id, Force: true}); err != nil {
		return fmt.Errorf("kill trial worker %s: %w", id, err)
	}
	return nil
}

// reconcile closes the trial a dead worker left behind with the sentinel
// score. The worker may have written its own value or state just before
// dying; those writes win.
func (r *run) reconcile(ctx context.Context) error {
	t, err := r.storage.Running(ctx, r.name)
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}

	if err := r.storage.SetValue(ctx, t.ID, 0.0); err != nil && !errors.Is(err, study.ErrTrialFinished) {
		return err
	}
	if err := r.storage.SetState(ctx, t.ID, models.TrialStateComplete); err != nil && !errors.Is(err, study.ErrTrialFinished) {
		return err
	}
	return nil
}

func (r *run) tail(id string) string {
	logs, err := r.cfg.Engine.Logs(&atom.EngineLogsRequest{ID: id})
	if err != nil {
		return ""
	}
	defer logs.Close()

	buf, _ := io.ReadAll(io.LimitReader(logs, 1<<20))
	if len(buf) > maxLogTail {
		buf = buf[len(buf)-maxLogTail:]
	}
	return string(bytes.TrimSpace(buf))
}
