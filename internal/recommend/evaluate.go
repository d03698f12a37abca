package recommend

import (
	"context"
	"errors"
	"math"
	"sort"
)

// Model scores every item for a user of the dataset it was trained on.
type Model interface {
	// Scores returns one score per item index. Higher ranks first.
	Scores(user int) []float64
}

// Evaluator computes nDCG at a fixed cutoff against a holdout split.
type Evaluator struct {
	Cutoff int
}

// NDCG averages nDCG@Cutoff over the users with held-out items. Items the
// user already has in train are never recommended. The result lies in
// [0, 1].
func (e Evaluator) NDCG(ctx context.Context, model Model, split *Split) (float64, error) {
	if e.Cutoff <= 0 {
		return 0, errors.New("evaluation cutoff must be positive")
	}

	users := make([]int, 0, len(split.Test))
	for u := range split.Test {
		users = append(users, u)
	}
	sort.Ints(users)
	if len(users) == 0 {
		return 0, nil
	}

	var total float64
	for n, u := range users {
		if n%64 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}

		ranked := TopK(model.Scores(u), e.Cutoff, split.Train.UserItems(u))
		relevant := make(map[int]struct{}, len(split.Test[u]))
		for _, i := range split.Test[u] {
			relevant[i] = struct{}{}
		}

		var dcg float64
		for rank, i := range ranked {
			if _, ok := relevant[i]; ok {
				dcg += 1 / math.Log2(float64(rank)+2)
			}
		}

		var ideal float64
		for rank := 0; rank < len(relevant) && rank < e.Cutoff; rank++ {
			ideal += 1 / math.Log2(float64(rank)+2)
		}
		total += dcg / ideal
	}

	return total / float64(len(users)), nil
}

// TopK returns up to k item indices by descending score, skipping the
// excluded items. Ties go to the lower index.
func TopK(scores []float64, k int, exclude map[int]float64) []int {
	ranked := make([]int, 0, len(scores))
	for i, s := range scores {
		if _, ok := exclude[i]; ok || math.IsNaN(s) {
			continue
		}
		ranked = append(ranked, i)
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return scores[ranked[a]] > scores[ranked[b]]
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}
