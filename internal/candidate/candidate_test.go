package candidate

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/recotune/recotune/internal/metrics"
	metrictestutil "github.com/recotune/recotune/internal/metrics/testutil"
	"github.com/recotune/recotune/internal/recommend"
	"github.com/recotune/recotune/internal/testutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type FilterTestSuite struct {
	suite.Suite
	data     *recommend.Dataset
	registry *Registry
	items    int64
}

func (s *FilterTestSuite) SetupTest() {
	s.data = testutil.Dataset(s.T(), 60, 30)
	s.registry = DefaultRegistry()
	s.items = int64(s.data.NumItems())
}

func (s *FilterTestSuite) TestAllFeasibleKeepsCallerOrder() {
	ranges, surviving, err := Filter(s.data, 1<<30, []string{EASE, Popularity, ItemKNN}, s.registry)
	s.Require().NoError(err)
	s.Equal([]string{EASE, Popularity, ItemKNN}, surviving)
	s.Len(ranges, 3)
}

func (s *FilterTestSuite) TestBudgetLeavesOnlyPopularity() {
	before := metrictestutil.CounterValue(s.T(), metrics.CandidatesInfeasibleTotal, EASE)

	budget := 16*s.items + 1
	ranges, surviving, err := Filter(s.data, budget, []string{Popularity, ItemKNN, EASE}, s.registry)
	s.Require().NoError(err)
	s.Equal([]string{Popularity}, surviving)
	s.Contains(ranges, Popularity)
	s.NotContains(ranges, EASE)

	after := metrictestutil.CounterValue(s.T(), metrics.CandidatesInfeasibleTotal, EASE)
	s.Equal(before+1, after)
}

func (s *FilterTestSuite) TestNothingSurvives() {
	ranges, surviving, err := Filter(s.data, 1, []string{Popularity, ItemKNN, EASE}, s.registry)
	s.Require().NoError(err)
	s.Empty(surviving)
	s.Empty(ranges)
}

func (s *FilterTestSuite) TestUnknownCandidate() {
	_, _, err := Filter(s.data, 1<<30, []string{"deep-magic"}, s.registry)
	s.Error(err)
}

func (s *FilterTestSuite) TestDuplicatesCollapse() {
	_, surviving, err := Filter(s.data, 1<<30, []string{EASE, EASE}, s.registry)
	s.Require().NoError(err)
	s.Equal([]string{EASE}, surviving)
}

func (s *FilterTestSuite) TestItemKNNCapsNeighborsByBudget() {
	n := s.items
	budget := 8*n*n + 8*n + 16*n*3

	verdict := itemKNN{}.RangeForBudget(s.data, budget)
	r, ok := verdict.(Range)
	s.Require().True(ok)

	spec, ok := r.Spec("k")
	s.Require().True(ok)
	s.Equal(1.0, spec.Low)
	s.Equal(3.0, spec.High)

	_, ok = itemKNN{}.RangeForBudget(s.data, budget-16*n*3).(Infeasible)
	s.True(ok)
}

func (s *FilterTestSuite) TestInfeasibleReportsRequirement() {
	v, ok := ease{}.RangeForBudget(s.data, 1024).(Infeasible)
	s.Require().True(ok)
	s.Equal(24*s.items*s.items, v.Required)
	s.Contains(v.Error(), "ease needs")
}

func (s *FilterTestSuite) TestTrainFromSuggestion() {
	ctx := context.Background()
	for _, c := range Builtin() {
		r, ok := c.RangeForBudget(s.data, 1<<30).(Range)
		s.Require().True(ok, c.Name())

		params := c.Suggest(rand.New(rand.NewSource(3)), r)

		// parameters travel through JSON between processes
		raw, err := json.Marshal(params)
		s.Require().NoError(err)
		decoded := map[string]interface{}{}
		s.Require().NoError(json.Unmarshal(raw, &decoded))

		model, err := c.Train(ctx, s.data, decoded, 3)
		s.Require().NoError(err, c.Name())
		s.Len(model.Scores(0), s.data.NumItems())
	}
}

func TestFilterTestSuite(t *testing.T) {
	suite.Run(t, new(FilterTestSuite))
}

func TestSampleStaysInRangeAndRepeats(t *testing.T) {
	r := Range{Params: []ParamSpec{
		{Name: "k", Kind: KindInt, Low: 2, High: 5},
		{Name: "alpha", Kind: KindFloat, Low: 0.1, High: 0.2},
		{Name: "lambda", Kind: KindLogFloat, Low: 1, High: 1000},
		{Name: "metric", Kind: KindCategorical, Choices: []string{"cosine", "jaccard"}},
	}}

	for seed := int64(0); seed < 50; seed++ {
		a := Sample(rand.New(rand.NewSource(seed)), r)
		b := Sample(rand.New(rand.NewSource(seed)), r)
		require.Equal(t, a, b)

		k := a["k"].(int)
		require.GreaterOrEqual(t, k, 2)
		require.LessOrEqual(t, k, 5)
		require.InDelta(t, 0.15, a["alpha"].(float64), 0.05)
		require.GreaterOrEqual(t, a["lambda"].(float64), 1.0)
		require.LessOrEqual(t, a["lambda"].(float64), 1000.0)
		require.Contains(t, []string{"cosine", "jaccard"}, a["metric"])
	}
}

func TestParamReaders(t *testing.T) {
	params := map[string]interface{}{
		"a": 3,
		"b": 4.0,
		"c": 4.5,
		"d": json.Number("7"),
		"e": "x",
	}

	v, err := Int(params, "a")
	require.NoError(t, err)
	require.Equal(t, 3, v)

	v, err = Int(params, "b")
	require.NoError(t, err)
	require.Equal(t, 4, v)

	v, err = Int(params, "d")
	require.NoError(t, err)
	require.Equal(t, 7, v)

	_, err = Int(params, "c")
	require.Error(t, err)
	_, err = Int(params, "e")
	require.Error(t, err)
	_, err = Int(params, "missing")
	require.Error(t, err)

	f, err := Float(params, "a")
	require.NoError(t, err)
	require.Equal(t, 3.0, f)

	_, err = Float(params, "e")
	require.Error(t, err)
}
