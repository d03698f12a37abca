package autopilot

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/recotune/recotune/internal/atom"
	"github.com/recotune/recotune/internal/candidate"
	"github.com/recotune/recotune/internal/models"
	"github.com/recotune/recotune/internal/recommend"
	"github.com/recotune/recotune/internal/study"
	"github.com/recotune/recotune/internal/trial"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeAtom struct {
	id     string
	state  atom.State
	result atom.Result
}

func (a *fakeAtom) ID() string           { return a.id }
func (a *fakeAtom) State() atom.State    { return a.state }
func (a *fakeAtom) Result() atom.Result  { return a.result }
func (a *fakeAtom) CreatedAt() time.Time { return time.Time{} }
func (a *fakeAtom) StartedAt() time.Time { return time.Time{} }
func (a *fakeAtom) StoppedAt() time.Time { return time.Time{} }

// behavior scripts one fake worker.
type behavior struct {
	// seconds until the worker completes on its own
	duration int
	// exit non-zero instead of writing a score
	fail bool
	// die before creating a trial
	early bool
	// record a score on the first tick without completing
	partial float64
	// fail every Get from this tick on
	lostAt int
	// report an invalid state from this tick on
	invalidAt int
}

var errDaemon = errors.New("daemon unreachable")

// clockEngine simulates trial workers against the real study storage.
// Every Get advances the clock by one second.
type clockEngine struct {
	t        *testing.T
	clock    *fakeClock
	registry *candidate.Registry
	script   func(index int) behavior
	score    float64

	created  int
	stopped  []string
	removed  []string
	requests []*trial.Request
	workers  map[string]*fakeWorker
}

type fakeWorker struct {
	atom    *fakeAtom
	req     *trial.Request
	trialID uint
	ticks   int
	plan    behavior
}

func newClockEngine(t *testing.T, clock *fakeClock, script func(int) behavior) *clockEngine {
	return &clockEngine{
		t:        t,
		clock:    clock,
		registry: candidate.DefaultRegistry(),
		script:   script,
		score:    0.5,
		workers:  make(map[string]*fakeWorker),
	}
}

func (e *clockEngine) storage(req *trial.Request) *study.Storage {
	s, err := study.Open(req.StudyDir)
	require.NoError(e.t, err)
	return s
}

func (e *clockEngine) Create(req *atom.EngineCreateRequest) (atom.Atom, error) {
	index := e.created
	e.created++

	r, err := trial.Read(req.Command[len(req.Command)-1])
	require.NoError(e.t, err)
	e.requests = append(e.requests, r)

	w := &fakeWorker{
		atom: &fakeAtom{id: req.Name, state: atom.Running},
		req:  r,
		plan: e.script(index),
	}
	e.workers[w.atom.id] = w

	if w.plan.early {
		w.atom.state, w.atom.result = atom.Stopped, atom.Failure
		return w.atom, nil
	}

	s := e.storage(r)
	defer s.Close()

	ctx := context.Background()
	t, err := s.NewTrial(ctx, r.StudyName, r.Seed)
	require.NoError(e.t, err)
	w.trialID = t.ID

	c, params, err := trial.Choose(r, e.registry, r.Seed)
	require.NoError(e.t, err)
	require.NoError(e.t, s.SetParams(ctx, t.ID, study.Params(c.Name(), params)))

	return w.atom, nil
}

func (e *clockEngine) Get(req *atom.EngineGetRequest) (atom.Atom, error) {
	w, ok := e.workers[req.ID]
	if !ok {
		return nil, atom.ErrNotFound
	}
	if w.atom.state != atom.Running {
		return w.atom, nil
	}

	e.clock.Advance(time.Second)
	w.ticks++

	if w.plan.lostAt > 0 && w.ticks >= w.plan.lostAt {
		return nil, errDaemon
	}
	if w.plan.invalidAt > 0 && w.ticks >= w.plan.invalidAt {
		return &fakeAtom{id: w.atom.id, state: atom.Invalid}, nil
	}

	ctx := context.Background()
	if w.plan.partial > 0 && w.ticks == 1 {
		s := e.storage(w.req)
		require.NoError(e.t, s.SetValue(ctx, w.trialID, w.plan.partial))
		require.NoError(e.t, s.Close())
	}

	if w.plan.duration > 0 && w.ticks >= w.plan.duration {
		if w.plan.fail {
			w.atom.state, w.atom.result = atom.Stopped, atom.Failure
			return w.atom, nil
		}

		s := e.storage(w.req)
		require.NoError(e.t, s.SetValue(ctx, w.trialID, e.score))
		require.NoError(e.t, s.SetState(ctx, w.trialID, models.TrialStateComplete))
		require.NoError(e.t, s.Close())
		w.atom.state, w.atom.result = atom.Stopped, atom.Success
	}
	return w.atom, nil
}

func (e *clockEngine) List(*atom.EngineListRequest) ([]atom.Atom, error) {
	return nil, nil
}

func (e *clockEngine) Stop(req *atom.EngineStopRequest) error {
	w, ok := e.workers[req.ID]
	if !ok {
		return atom.ErrNotFound
	}
	require.True(e.t, req.Force)
	e.stopped = append(e.stopped, req.ID)
	w.atom.state, w.atom.result = atom.Stopped, atom.Killed
	return nil
}

func (e *clockEngine) Remove(req *atom.EngineRemoveRequest) error {
	e.removed = append(e.removed, req.ID)
	return nil
}

func (e *clockEngine) Logs(*atom.EngineLogsRequest) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("panic: out of memory\n")), nil
}

// inlineEngine runs the real trial body synchronously inside Create.
type inlineEngine struct {
	t        *testing.T
	registry *candidate.Registry
	results  map[string]*trial.Result
	order    []*trial.Result
}

func newInlineEngine(t *testing.T) *inlineEngine {
	return &inlineEngine{
		t:        t,
		registry: candidate.DefaultRegistry(),
		results:  make(map[string]*trial.Result),
	}
}

func (e *inlineEngine) Create(req *atom.EngineCreateRequest) (atom.Atom, error) {
	r, err := trial.Read(req.Command[len(req.Command)-1])
	require.NoError(e.t, err)

	res, err := trial.Run(context.Background(), r, e.registry)
	if err != nil {
		return &fakeAtom{id: req.Name, state: atom.Stopped, result: atom.Failure}, nil
	}
	e.results[req.Name] = res
	e.order = append(e.order, res)
	return &fakeAtom{id: req.Name, state: atom.Stopped, result: atom.Success}, nil
}

func (e *inlineEngine) Get(req *atom.EngineGetRequest) (atom.Atom, error) {
	if _, ok := e.results[req.ID]; !ok {
		return &fakeAtom{id: req.ID, state: atom.Stopped, result: atom.Failure}, nil
	}
	return &fakeAtom{id: req.ID, state: atom.Stopped, result: atom.Success}, nil
}

func (e *inlineEngine) List(*atom.EngineListRequest) ([]atom.Atom, error) { return nil, nil }
func (e *inlineEngine) Stop(*atom.EngineStopRequest) error              { return nil }
func (e *inlineEngine) Remove(*atom.EngineRemoveRequest) error          { return nil }
func (e *inlineEngine) Logs(*atom.EngineLogsRequest) (io.ReadCloser, error) {
	return nil, errors.New("no logs")
}

func (e *inlineEngine) candidates() []string {
	names := make([]string, len(e.order))
	for i, r := range e.order {
		names[i] = r.Candidate
	}
	return names
}

// noisyCandidate scores items at random from the training seed, so the
// same params give a different score under a different seed.
type noisyCandidate struct{}

const noisy = "noisy"

func (noisyCandidate) Name() string { return noisy }

func (noisyCandidate) RangeForBudget(*recommend.Dataset, int64) candidate.Verdict {
	return candidate.Range{Params: []candidate.ParamSpec{{Name: "scale", Kind: candidate.KindFloat, Low: 1, High: 2}}}
}

func (noisyCandidate) Suggest(rng *rand.Rand, r candidate.Range) map[string]interface{} {
	return candidate.Sample(rng, r)
}

func (noisyCandidate) Train(_ context.Context, data *recommend.Dataset, params map[string]interface{}, seed int64) (recommend.Model, error) {
	scale, err := candidate.Float(params, "scale")
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	m := make(noisyModel, data.NumUsers())
	for u := range m {
		m[u] = make([]float64, data.NumItems())
		for i := range m[u] {
			m[u][i] = scale * rng.Float64()
		}
	}
	return m, nil
}

type noisyModel [][]float64

func (m noisyModel) Scores(user int) []float64 { return m[user] }
