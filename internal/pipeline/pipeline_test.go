package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/recotune/recotune/internal/artifact"
	"github.com/recotune/recotune/internal/autopilot"
	"github.com/recotune/recotune/internal/candidate"
	"github.com/recotune/recotune/internal/event"
	"github.com/recotune/recotune/internal/jobstate"
	"github.com/recotune/recotune/internal/metrics"
	metrictestutil "github.com/recotune/recotune/internal/metrics/testutil"
	"github.com/recotune/recotune/internal/models"
	"github.com/recotune/recotune/internal/study"
	"github.com/recotune/recotune/internal/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type searcherFunc func(ctx context.Context, in autopilot.Input) (*autopilot.Result, error)

func (f searcherFunc) Run(ctx context.Context, in autopilot.Input) (*autopilot.Result, error) {
	return f(ctx, in)
}

type mockTrainer struct {
	mock.Mock
}

func (m *mockTrainer) Train(ctx context.Context, req *artifact.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func score(v float64) *float64 { return &v }

type PipelineTestSuite struct {
	suite.Suite
	jobs    *jobstate.Machine
	dir     string
	trainer *mockTrainer
	bus     event.Bus
	inputs  []autopilot.Input
}

func (s *PipelineTestSuite) SetupTest() {
	s.jobs = jobstate.New(testutil.OpenTestDB(s.T()))
	s.dir = s.T().TempDir()
	s.trainer = &mockTrainer{}
	s.bus = event.New()
	s.inputs = nil
}

func (s *PipelineTestSuite) job(engine models.IsolationEngine) *models.TuningJob {
	testutil.WriteCSV(s.T(), s.dir, 30, 12)
	job := &models.TuningJob{
		Alias:        "clusters",
		NTrials:      2,
		MemoryBudget: 1 << 30,
		DataPath:     filepath.Join(s.dir, "interactions.csv"),
		Engine:       engine,
	}
	s.Require().NoError(s.jobs.Create(context.Background(), job))
	return job
}

func (s *PipelineTestSuite) pipeline(search searcherFunc, progress autopilot.ProgressFunc) *Pipeline {
	p, err := New(Config{
		Jobs:     s.jobs,
		Registry: candidate.DefaultRegistry(),
		Searchers: map[models.IsolationEngine]Searcher{
			models.IsolationEngineProcess: searcherFunc(func(ctx context.Context, in autopilot.Input) (*autopilot.Result, error) {
				s.inputs = append(s.inputs, in)
				return search(ctx, in)
			}),
		},
		Trainer:  s.trainer,
		Bus:      s.bus,
		Progress: progress,
	})
	s.Require().NoError(err)
	return p
}

func succeed(ctx context.Context, in autopilot.Input) (*autopilot.Result, error) {
	row := study.Row{Number: 0, State: models.TrialStateComplete, Candidate: candidate.Popularity, Value: score(0.3)}
	in.Progress(0, row)
	return &autopilot.Result{
		Study:     "job-1-20260101T000000",
		Candidate: candidate.Popularity,
		Params:    map[string]interface{}{"min_support": 2},
		Score:     0.3,
		Trials:    []study.Row{row},
		Seed:      11,
		TrialSeed: 23,
	}, nil
}

func (s *PipelineTestSuite) TestRunCompletesJob() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := s.bus.Subscribe(ctx, event.Filter{})
	s.Require().NoError(err)

	job := s.job(models.IsolationEngineProcess)
	s.trainer.On("Train", mock.Anything, mock.MatchedBy(func(req *artifact.Request) bool {
		return req.JobID == job.ID && req.Candidate == candidate.Popularity && req.Seed == 23 && req.JobSeed == 11 && req.Data != nil
	})).Return("/artifacts/job-1", nil).Once()

	before := metrictestutil.HistogramCount(s.T(), metrics.JobDurationSeconds, string(models.JobStatusCompleted))

	claimed, err := s.pipeline(succeed, nil).Run(ctx, job.ID)
	s.Require().NoError(err)
	s.True(claimed)
	s.trainer.AssertExpectations(s.T())

	got, err := s.jobs.Get(ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusCompleted, got.Status)
	s.Equal(candidate.Popularity, got.BestCandidate)
	s.Require().NotNil(got.BestScore)
	s.Equal(0.3, *got.BestScore)
	s.Equal("/artifacts/job-1", got.ArtifactRef)
	s.Equal(before+1, metrictestutil.HistogramCount(s.T(), metrics.JobDurationSeconds, string(models.JobStatusCompleted)))

	s.Require().Len(s.inputs, 1)
	in := s.inputs[0]
	s.Equal(candidate.DefaultRegistry().Names(), in.Candidates)
	s.Equal(models.DefaultCutoff, in.Cutoff)
	s.Equal(models.DefaultHoldoutFraction, in.HoldoutFraction)
	s.True(filepath.IsAbs(in.DataPath))
	s.Equal(2, in.NTrials)

	var types []event.Type
	for len(types) < 3 {
		select {
		case e := <-events:
			types = append(types, e.Type)
		case <-time.After(time.Second):
			s.FailNow("missing events", "got %v", types)
		}
	}
	s.Equal([]event.Type{event.TypeJobStarted, event.TypeTrialCompleted, event.TypeJobCompleted}, types)
}

func (s *PipelineTestSuite) TestRunSkipsClaimedJob() {
	ctx := context.Background()
	job := s.job(models.IsolationEngineProcess)

	claimed, err := s.jobs.Claim(ctx, job.ID)
	s.Require().NoError(err)
	s.Require().True(claimed)

	claimed, err = s.pipeline(succeed, nil).Run(ctx, job.ID)
	s.NoError(err)
	s.False(claimed)
	s.Empty(s.inputs)
}

func (s *PipelineTestSuite) TestSearchFailureFailsJob() {
	ctx := context.Background()
	job := s.job(models.IsolationEngineProcess)

	_, err := s.pipeline(func(context.Context, autopilot.Input) (*autopilot.Result, error) {
		return nil, candidate.ErrNoAvailableCandidate
	}, nil).Run(ctx, job.ID)
	s.ErrorIs(err, candidate.ErrNoAvailableCandidate)

	got, err := s.jobs.Get(ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusFailed, got.Status)
	s.Contains(got.Error, candidate.ErrNoAvailableCandidate.Error())
	s.trainer.AssertNotCalled(s.T(), "Train", mock.Anything, mock.Anything)
}

func (s *PipelineTestSuite) TestTrainerFailureFailsJob() {
	ctx := context.Background()
	job := s.job(models.IsolationEngineProcess)
	s.trainer.On("Train", mock.Anything, mock.Anything).Return("", errors.New("disk full")).Once()

	_, err := s.pipeline(succeed, nil).Run(ctx, job.ID)
	s.ErrorContains(err, "disk full")

	got, err := s.jobs.Get(ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusFailed, got.Status)
	s.Nil(got.BestScore)
}

func (s *PipelineTestSuite) TestTrainerPanicFailsJob() {
	ctx := context.Background()
	job := s.job(models.IsolationEngineProcess)
	s.trainer.On("Train", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		var counts map[string]int
		counts["trained"]++
	}).Return("", nil).Once()

	var err error
	s.NotPanics(func() {
		_, err = s.pipeline(succeed, nil).Run(ctx, job.ID)
	})
	s.ErrorContains(err, "job panicked")
	s.ErrorContains(err, "nil map")

	got, err := s.jobs.Get(ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusFailed, got.Status)
	s.Contains(got.Error, "job panicked")
	s.NotNil(got.CompletedAt)
}

func (s *PipelineTestSuite) TestSearchPanicFailsJob() {
	ctx := context.Background()
	job := s.job(models.IsolationEngineProcess)

	_, err := s.pipeline(func(context.Context, autopilot.Input) (*autopilot.Result, error) {
		panic("candidate exploded")
	}, nil).Run(ctx, job.ID)
	s.ErrorContains(err, "candidate exploded")

	got, err := s.jobs.Get(ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusFailed, got.Status)
	s.trainer.AssertNotCalled(s.T(), "Train", mock.Anything, mock.Anything)
}

func (s *PipelineTestSuite) TestMissingDataFailsJob() {
	ctx := context.Background()
	job := &models.TuningJob{NTrials: 1, MemoryBudget: 1 << 20, DataPath: filepath.Join(s.dir, "missing.csv")}
	s.Require().NoError(s.jobs.Create(ctx, job))

	_, err := s.pipeline(succeed, nil).Run(ctx, job.ID)
	s.Error(err)
	s.Empty(s.inputs)

	got, err := s.jobs.Get(ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusFailed, got.Status)
}

func (s *PipelineTestSuite) TestUnavailableEngineFailsJob() {
	ctx := context.Background()
	job := s.job(models.IsolationEngineDocker)

	_, err := s.pipeline(succeed, nil).Run(ctx, job.ID)
	s.ErrorContains(err, "docker")

	got, err := s.jobs.Get(ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusFailed, got.Status)
}

func (s *PipelineTestSuite) TestCancelledSearchStillFailsJob() {
	ctx, cancel := context.WithCancel(context.Background())
	job := s.job(models.IsolationEngineProcess)

	claimed, err := s.jobs.Claim(ctx, job.ID)
	s.Require().NoError(err)
	s.Require().True(claimed)
	job, err = s.jobs.Get(ctx, job.ID)
	s.Require().NoError(err)

	err = s.pipeline(func(ctx context.Context, _ autopilot.Input) (*autopilot.Result, error) {
		cancel()
		return nil, ctx.Err()
	}, nil).Execute(ctx, job)
	s.ErrorIs(err, context.Canceled)

	got, err := s.jobs.Get(context.Background(), job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusFailed, got.Status)
}

func (s *PipelineTestSuite) TestPanickingProgressSinkIsContained() {
	ctx := context.Background()
	job := s.job(models.IsolationEngineProcess)
	s.trainer.On("Train", mock.Anything, mock.Anything).Return("ref", nil).Once()

	_, err := s.pipeline(succeed, func(int, study.Row) { panic("sink exploded") }).Run(ctx, job.ID)
	s.Require().NoError(err)

	got, err := s.jobs.Get(ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusCompleted, got.Status)
}

func (s *PipelineTestSuite) TestJobSettingsReachScheduler() {
	ctx := context.Background()
	testutil.WriteCSV(s.T(), s.dir, 30, 12)
	seed := int64(5)
	job := &models.TuningJob{
		NTrials:                  4,
		MemoryBudget:             1 << 28,
		DataPath:                 filepath.Join(s.dir, "interactions.csv"),
		Candidates:               []string{candidate.EASE},
		Cutoff:                   5,
		HoldoutFraction:          0.3,
		SplitSeed:                2,
		RandomSeed:               &seed,
		TimeoutOverallSeconds:    score(60),
		TimeoutSingleStepSeconds: score(1.5),
	}
	s.Require().NoError(s.jobs.Create(ctx, job))
	s.trainer.On("Train", mock.Anything, mock.MatchedBy(func(req *artifact.Request) bool {
		return req.Cutoff == 5
	})).Return("ref", nil).Once()

	_, err := s.pipeline(succeed, nil).Run(ctx, job.ID)
	s.Require().NoError(err)

	s.Require().Len(s.inputs, 1)
	in := s.inputs[0]
	s.Equal([]string{candidate.EASE}, in.Candidates)
	s.Equal(5, in.Cutoff)
	s.Equal(0.3, in.HoldoutFraction)
	s.Equal(int64(2), in.SplitSeed)
	s.Equal(time.Minute, in.TimeoutOverall)
	s.Equal(1500*time.Millisecond, in.TimeoutSingleStep)
	s.Require().NotNil(in.Seed)
	s.Equal(int64(5), *in.Seed)
	s.Equal(int64(1<<28), in.MemoryBudget)
}

func TestPipelineTestSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("expected error for empty config")
	}
}
