package algorithms

import (
	"context"
	"fmt"

	"github.com/recotune/recotune/internal/recommend"
)

// Popularity ranks items by total interaction weight. Items seen by fewer
// than MinSupport users score zero.
type Popularity struct {
	MinSupport int
}

type popularityModel struct {
	scores []float64
}

func (m *popularityModel) Scores(int) []float64 {
	out := make([]float64, len(m.scores))
	copy(out, m.scores)
	return out
}

func (p Popularity) Fit(ctx context.Context, d *recommend.Dataset) (recommend.Model, error) {
	if p.MinSupport < 1 {
		return nil, fmt.Errorf("popularity: min_support must be at least 1, got %d", p.MinSupport)
	}

	weights := make([]float64, d.NumItems())
	support := make([]int, d.NumItems())
	for u := 0; u < d.NumUsers(); u++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := d.UserItems(u)
		for _, i := range d.SortedUserItems(u) {
			weights[i] += row[i]
			support[i]++
		}
	}

	for i := range weights {
		if support[i] < p.MinSupport {
			weights[i] = 0
		}
	}

	return &popularityModel{scores: weights}, nil
}
