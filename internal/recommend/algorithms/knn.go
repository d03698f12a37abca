package algorithms

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/recotune/recotune/internal/recommend"
)

// ItemKNN is item-based collaborative filtering over cosine similarity.
// Similarities are shrunk towards zero: sim = dot / (|a|·|b| + Shrinkage).
type ItemKNN struct {
	K         int
	Shrinkage float64
}

type neighbor struct {
	item int
	sim  float64
}

type knnModel struct {
	data      *recommend.Dataset
	neighbors [][]neighbor
}

func (m *knnModel) Scores(user int) []float64 {
	scores := make([]float64, m.data.NumItems())
	row := m.data.UserItems(user)
	for _, j := range m.data.SortedUserItems(user) {
		for _, nb := range m.neighbors[j] {
			scores[nb.item] += row[j] * nb.sim
		}
	}
	return scores
}

func (k ItemKNN) Fit(ctx context.Context, d *recommend.Dataset) (recommend.Model, error) {
	if k.K < 1 {
		return nil, fmt.Errorf("itemknn: k must be at least 1, got %d", k.K)
	}
	if k.Shrinkage < 0 {
		return nil, fmt.Errorf("itemknn: shrinkage must not be negative, got %v", k.Shrinkage)
	}

	n := d.NumItems()
	dot := make([]float64, n*n)
	norms := make([]float64, n)

	for u := 0; u < d.NumUsers(); u++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := d.UserItems(u)
		items := d.SortedUserItems(u)
		for a, i := range items {
			wi := row[i]
			norms[i] += wi * wi
			for _, j := range items[a+1:] {
				v := wi * row[j]
				dot[i*n+j] += v
				dot[j*n+i] += v
			}
		}
	}
	for i := range norms {
		norms[i] = math.Sqrt(norms[i])
	}

	neighbors := make([][]neighbor, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidates := make([]neighbor, 0)
		for j := 0; j < n; j++ {
			v := dot[i*n+j]
			if j == i || v == 0 {
				continue
			}
			candidates = append(candidates, neighbor{
				item: j,
				sim:  v / (norms[i]*norms[j] + k.Shrinkage),
			})
		}
		sort.SliceStable(candidates, func(a, b int) bool {
			return candidates[a].sim > candidates[b].sim
		})
		if len(candidates) > k.K {
			candidates = candidates[:k.K]
		}
		neighbors[i] = candidates
	}

	return &knnModel{data: d, neighbors: neighbors}, nil
}
