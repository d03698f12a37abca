package candidate

import (
	"context"
	"math/rand"

	units "github.com/docker/go-units"
	"github.com/recotune/recotune/internal/recommend"
	"github.com/recotune/recotune/internal/recommend/algorithms"
)

const (
	Popularity = "popularity"
	ItemKNN    = "itemknn"
	EASE       = "ease"

	maxNeighbors = 200
)

// Builtin returns the shipped candidates.
func Builtin() []Candidate {
	return []Candidate{popularity{}, itemKNN{}, ease{}}
}

func tooLarge(name string, required int64) Infeasible {
	return Infeasible{
		Reason:   name + " needs " + units.BytesSize(float64(required)),
		Required: required,
	}
}

type popularity struct{}

func (popularity) Name() string { return Popularity }

func (popularity) RangeForBudget(data *recommend.Dataset, budget int64) Verdict {
	required := 16 * int64(data.NumItems())
	if required > budget {
		return tooLarge(Popularity, required)
	}
	return Range{Params: []ParamSpec{
		{Name: "min_support", Kind: KindInt, Low: 1, High: 10},
	}}
}

func (popularity) Suggest(rng *rand.Rand, r Range) map[string]interface{} {
	return Sample(rng, r)
}

func (popularity) Train(ctx context.Context, data *recommend.Dataset, params map[string]interface{}, _ int64) (recommend.Model, error) {
	minSupport, err := Int(params, "min_support")
	if err != nil {
		return nil, err
	}
	return algorithms.Popularity{MinSupport: minSupport}.Fit(ctx, data)
}

type itemKNN struct{}

func (itemKNN) Name() string { return ItemKNN }

// RangeForBudget caps k so the neighbor lists fit next to the dense
// similarity pass.
func (itemKNN) RangeForBudget(data *recommend.Dataset, budget int64) Verdict {
	n := int64(data.NumItems())
	if n < 2 {
		return Infeasible{Reason: "itemknn needs at least two items"}
	}

	base := 8*n*n + 8*n
	perNeighbor := 16 * n
	if budget < base+perNeighbor {
		return tooLarge(ItemKNN, base+perNeighbor)
	}

	k := (budget - base) / perNeighbor
	if k > n-1 {
		k = n - 1
	}
	if k > maxNeighbors {
		k = maxNeighbors
	}

	return Range{Params: []ParamSpec{
		{Name: "k", Kind: KindInt, Low: 1, High: float64(k)},
		{Name: "shrinkage", Kind: KindLogFloat, Low: 1, High: 1000},
	}}
}

func (itemKNN) Suggest(rng *rand.Rand, r Range) map[string]interface{} {
	return Sample(rng, r)
}

func (itemKNN) Train(ctx context.Context, data *recommend.Dataset, params map[string]interface{}, _ int64) (recommend.Model, error) {
	k, err := Int(params, "k")
	if err != nil {
		return nil, err
	}
	shrinkage, err := Float(params, "shrinkage")
	if err != nil {
		return nil, err
	}
	return algorithms.ItemKNN{K: k, Shrinkage: shrinkage}.Fit(ctx, data)
}

type ease struct{}

func (ease) Name() string { return EASE }

func (ease) RangeForBudget(data *recommend.Dataset, budget int64) Verdict {
	n := int64(data.NumItems())
	required := 24 * n * n
	if required > budget {
		return tooLarge(EASE, required)
	}
	return Range{Params: []ParamSpec{
		{Name: "lambda", Kind: KindLogFloat, Low: 1, High: 10000},
	}}
}

func (ease) Suggest(rng *rand.Rand, r Range) map[string]interface{} {
	return Sample(rng, r)
}

func (ease) Train(ctx context.Context, data *recommend.Dataset, params map[string]interface{}, _ int64) (recommend.Model, error) {
	lambda, err := Float(params, "lambda")
	if err != nil {
		return nil, err
	}
	return algorithms.EASE{Lambda: lambda}.Fit(ctx, data)
}
