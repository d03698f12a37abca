package study

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/recotune/recotune/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testStudy = "job-1-20260101T000000"

type StudyTestSuite struct {
	suite.Suite
	storage *Storage
}

func (s *StudyTestSuite) SetupTest() {
	storage, err := Init(filepath.Join(s.T().TempDir(), "study"))
	s.Require().NoError(err)
	s.storage = storage

	_, err = s.storage.Create(context.Background(), testStudy, models.StudyDirectionMaximize)
	s.Require().NoError(err)
}

func (s *StudyTestSuite) TearDownTest() {
	_ = s.storage.Close()
}

func (s *StudyTestSuite) complete(seed int64, value float64) *models.Trial {
	ctx := context.Background()
	trial, err := s.storage.NewTrial(ctx, testStudy, seed)
	s.Require().NoError(err)
	s.Require().NoError(s.storage.SetParams(ctx, trial.ID, Params("itemknn", map[string]interface{}{"k": 10})))
	s.Require().NoError(s.storage.SetValue(ctx, trial.ID, value))
	s.Require().NoError(s.storage.SetState(ctx, trial.ID, models.TrialStateComplete))
	return trial
}

func (s *StudyTestSuite) TestCreateIsIdempotent() {
	st, err := s.storage.Create(context.Background(), testStudy, models.StudyDirectionMaximize)
	s.Require().NoError(err)
	s.Equal(testStudy, st.Name)
}

func (s *StudyTestSuite) TestCreateConflictingDirection() {
	_, err := s.storage.Create(context.Background(), testStudy, models.StudyDirectionMinimize)
	s.ErrorIs(err, ErrStudySchemaConflict)
}

func (s *StudyTestSuite) TestTrialNumbersIncrease() {
	ctx := context.Background()
	for want := 0; want < 4; want++ {
		trial, err := s.storage.NewTrial(ctx, testStudy, int64(want))
		s.Require().NoError(err)
		s.Equal(want, trial.Number)
		s.Equal(models.TrialStateRunning, trial.State)
	}
}

func (s *StudyTestSuite) TestNewTrialUnknownStudy() {
	_, err := s.storage.NewTrial(context.Background(), "missing", 1)
	s.ErrorIs(err, ErrStudyNotFound)
}

func (s *StudyTestSuite) TestDoubleWriteFailsSoftly() {
	ctx := context.Background()
	trial := s.complete(1, 0.3)

	s.ErrorIs(s.storage.SetValue(ctx, trial.ID, 0.0), ErrTrialFinished)
	s.ErrorIs(s.storage.SetState(ctx, trial.ID, models.TrialStateComplete), ErrTrialFinished)
	s.ErrorIs(s.storage.SetParams(ctx, trial.ID, map[string]interface{}{}), ErrTrialFinished)

	best, err := s.storage.Best(ctx, testStudy)
	s.Require().NoError(err)
	s.Require().NotNil(best.Value)
	s.Equal(0.3, *best.Value)
}

func (s *StudyTestSuite) TestValueWrittenButStateMissing() {
	ctx := context.Background()
	trial, err := s.storage.NewTrial(ctx, testStudy, 1)
	s.Require().NoError(err)
	s.Require().NoError(s.storage.SetValue(ctx, trial.ID, 0.7))

	// the timeout path must not overwrite a real score but can still
	// close the trial
	s.ErrorIs(s.storage.SetValue(ctx, trial.ID, 0.0), ErrTrialFinished)
	s.NoError(s.storage.SetState(ctx, trial.ID, models.TrialStateComplete))

	best, err := s.storage.Best(ctx, testStudy)
	s.Require().NoError(err)
	s.Equal(0.7, *best.Value)
}

func (s *StudyTestSuite) TestUnknownTrial() {
	s.ErrorIs(s.storage.SetValue(context.Background(), 999, 1), ErrTrialNotFound)
}

func (s *StudyTestSuite) TestSetStateRejectsRunning() {
	trial, err := s.storage.NewTrial(context.Background(), testStudy, 1)
	s.Require().NoError(err)
	s.Error(s.storage.SetState(context.Background(), trial.ID, models.TrialStateRunning))
}

func (s *StudyTestSuite) TestBestPicksMaximumAmongComplete() {
	ctx := context.Background()
	s.complete(1, 0.1)
	winner := s.complete(2, 0.5)
	s.complete(3, 0.5)

	running, err := s.storage.NewTrial(ctx, testStudy, 4)
	s.Require().NoError(err)
	s.Require().NoError(s.storage.SetValue(ctx, running.ID, 0.9))

	best, err := s.storage.Best(ctx, testStudy)
	s.Require().NoError(err)
	s.Equal(winner.Number, best.Number)
}

func (s *StudyTestSuite) TestBestWithoutCompletedTrial() {
	_, err := s.storage.NewTrial(context.Background(), testStudy, 1)
	s.Require().NoError(err)

	_, err = s.storage.Best(context.Background(), testStudy)
	s.ErrorIs(err, ErrNoCompletedTrial)
}

func (s *StudyTestSuite) TestRunningReturnsLatest() {
	ctx := context.Background()

	trial, err := s.storage.Running(ctx, testStudy)
	s.Require().NoError(err)
	s.Nil(trial)

	s.complete(1, 0.2)
	open, err := s.storage.NewTrial(ctx, testStudy, 2)
	s.Require().NoError(err)

	trial, err = s.storage.Running(ctx, testStudy)
	s.Require().NoError(err)
	s.Require().NotNil(trial)
	s.Equal(open.ID, trial.ID)
}

func (s *StudyTestSuite) TestAllRows() {
	s.complete(7, 0.25)

	rows, err := s.storage.All(context.Background(), testStudy)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal("itemknn", rows[0].Candidate)
	s.Equal(int64(7), rows[0].Seed)
	s.Equal(models.TrialStateComplete, rows[0].State)
	s.EqualValues(10, rows[0].Params["itemknn.k"])
}

func (s *StudyTestSuite) TestSharedAcrossHandles() {
	other, err := Open(s.storage.Dir())
	s.Require().NoError(err)
	defer other.Close()

	trial, err := other.NewTrial(context.Background(), testStudy, 1)
	s.Require().NoError(err)

	found, err := s.storage.Running(context.Background(), testStudy)
	s.Require().NoError(err)
	s.Equal(trial.ID, found.ID)
}

func (s *StudyTestSuite) TestDestroyRemovesDirectory() {
	dir := s.storage.Dir()
	s.Require().NoError(s.storage.Destroy())

	_, err := os.Stat(dir)
	s.True(os.IsNotExist(err))
}

func TestStudyTestSuite(t *testing.T) {
	suite.Run(t, new(StudyTestSuite))
}

func TestOpenMissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestParamsRoundTrip(t *testing.T) {
	stored := Params("ease", map[string]interface{}{"lambda": 100.0})
	require.Equal(t, "ease", stored[CandidateKey])
	require.Equal(t, 100.0, stored["ease.lambda"])

	candidate, params, err := Split(stored)
	require.NoError(t, err)
	require.Equal(t, "ease", candidate)
	if diff := cmp.Diff(map[string]interface{}{"lambda": 100.0}, params); diff != "" {
		t.Fatalf("params mismatch (-want +got):\n%s", diff)
	}

	_, _, err = Split(map[string]interface{}{"ease.lambda": 1.0})
	require.Error(t, err)
}
