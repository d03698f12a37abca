// Package trial is the body of a trial worker process: draw a candidate
// and its parameters from the trial seed, train, score on the holdout and
// record the result in the study.
package trial

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/recotune/recotune/internal/candidate"
	"github.com/recotune/recotune/internal/models"
	"github.com/recotune/recotune/internal/recommend"
	"github.com/recotune/recotune/internal/study"
	"github.com/recotune/recotune/pkg/log"
)

// Result summarizes a finished trial.
type Result struct {
	Number    int
	Candidate string
	Params    map[string]interface{}
	Score     float64
	Elapsed   time.Duration
}

// Choose draws the candidate and its parameters for seed. It consumes the
// rng in a fixed order, so the same seed always yields the same choice.
func Choose(req *Request, registry *candidate.Registry, seed int64) (candidate.Candidate, map[string]interface{}, error) {
	rng := rand.New(rand.NewSource(seed))

	name := req.Candidates[rng.Intn(len(req.Candidates))]
	c, ok := registry.Get(name)
	if !ok {
		return nil, nil, fmt.Errorf("unknown candidate %q", name)
	}
	return c, c.Suggest(rng, req.Ranges[name]), nil
}

// Run executes one trial. The trial row is created first so that a worker
// dying later leaves a RUNNING trial for the scheduler to reconcile.
func Run(ctx context.Context, req *Request, registry *candidate.Registry) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.MemoryBudget > 0 {
		debug.SetMemoryLimit(req.MemoryBudget)
	}

	start := time.Now()

	storage, err := study.Open(req.StudyDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := storage.Close(); err != nil {
			log.Warn("close study storage", "dir", req.StudyDir, "error", err)
		}
	}()

	t, err := storage.NewTrial(ctx, req.StudyName, req.Seed)
	if err != nil {
		return nil, fmt.Errorf("create trial: %w", err)
	}

	c, params, err := Choose(req, registry, req.Seed)
	if err != nil {
		return nil, err
	}

	log.Info("trial started",
		"study", req.StudyName,
		"number", t.Number,
		"candidate", c.Name(),
		"params", params,
	)

	if err := storage.SetParams(ctx, t.ID, study.Params(c.Name(), params)); err != nil {
		return nil, fmt.Errorf("record trial params: %w", err)
	}

	score, err := Score(ctx, req, c, params)
	if err != nil {
		return nil, err
	}

	if err := storage.SetValue(ctx, t.ID, score); err != nil {
		return nil, fmt.Errorf("record trial value: %w", err)
	}
	if err := storage.SetState(ctx, t.ID, models.TrialStateComplete); err != nil {
		return nil, fmt.Errorf("complete trial: %w", err)
	}

	result := &Result{
		Number:    t.Number,
		Candidate: c.Name(),
		Params:    params,
		Score:     score,
		Elapsed:   time.Since(start),
	}

	log.Info("trial completed",
		"study", req.StudyName,
		"number", result.Number,
		"candidate", result.Candidate,
		"score", result.Score,
		"elapsed", result.Elapsed,
	)

	return result, nil
}

// Score trains c on the request's training split and evaluates it on the
// holdout.
func Score(ctx context.Context, req *Request, c candidate.Candidate, params map[string]interface{}) (float64, error) {
	data, err := recommend.LoadCSV(req.DataPath)
	if err != nil {
		return 0, err
	}

	split, err := recommend.HoldoutSplit(data, req.HoldoutFraction, req.SplitSeed)
	if err != nil {
		return 0, err
	}

	model, err := c.Train(ctx, split.Train, params, req.Seed)
	if err != nil {
		return 0, fmt.Errorf("train %s: %w", c.Name(), err)
	}

	return recommend.Evaluator{Cutoff: req.Cutoff}.NDCG(ctx, model, split)
}
