package algorithms

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/recotune/recotune/internal/recommend"
)

// EASE is the closed-form shallow autoencoder: B = I - P·diag(1/diag(P))
// with P = (XᵀX + λI)⁻¹ and a zero diagonal.
type EASE struct {
	Lambda float64
}

type easeModel struct {
	data *recommend.Dataset
	b    [][]float64
}

func (m *easeModel) Scores(user int) []float64 {
	scores := make([]float64, m.data.NumItems())
	row := m.data.UserItems(user)
	for _, j := range m.data.SortedUserItems(user) {
		w := row[j]
		for i, v := range m.b[j] {
			scores[i] += w * v
		}
	}
	return scores
}

func (e EASE) Fit(ctx context.Context, d *recommend.Dataset) (recommend.Model, error) {
	if e.Lambda <= 0 {
		return nil, fmt.Errorf("ease: lambda must be positive, got %v", e.Lambda)
	}

	n := d.NumItems()
	gram := square(n)
	for u := 0; u < d.NumUsers(); u++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := d.UserItems(u)
		items := d.SortedUserItems(u)
		for a, i := range items {
			for _, j := range items[a:] {
				v := row[i] * row[j]
				gram[i][j] += v
				if i != j {
					gram[j][i] += v
				}
			}
		}
	}
	for i := 0; i < n; i++ {
		gram[i][i] += e.Lambda
	}

	l, err := cholesky(ctx, gram)
	if err != nil {
		return nil, fmt.Errorf("ease: %w", err)
	}
	p := choleskyInverse(l)

	// the gram matrix is no longer needed; reuse it for B
	b := gram
	for j := 0; j < n; j++ {
		djj := p[j][j]
		for i := 0; i < n; i++ {
			if i == j {
				b[i][j] = 0
				continue
			}
			b[i][j] = -p[i][j] / djj
		}
	}

	return &easeModel{data: d, b: b}, nil
}

func square(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	return m
}

// cholesky returns the lower triangular L with A = L·Lᵀ.
func cholesky(ctx context.Context, a [][]float64) ([][]float64, error) {
	n := len(a)
	l := square(n)

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := 0; j <= i; j++ {
			sum := a[i][j]
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}

			if i == j {
				if sum <= 0 {
					return nil, errors.New("matrix is not positive definite")
				}
				l[i][j] = math.Sqrt(sum)
				continue
			}
			l[i][j] = sum / l[j][j]
		}
	}

	return l, nil
}

// choleskyInverse computes A⁻¹ = L⁻ᵀ·L⁻¹ from the factor of A. L is
// overwritten with its inverse.
func choleskyInverse(l [][]float64) [][]float64 {
	n := len(l)

	for i := 0; i < n; i++ {
		l[i][i] = 1 / l[i][i]
		for j := i + 1; j < n; j++ {
			var sum float64
			for k := i; k < j; k++ {
				sum -= l[j][k] * l[k][i]
			}
			l[j][i] = sum / l[j][j]
		}
	}

	inv := square(n)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			var sum float64
			for k := i; k < n; k++ {
				sum += l[k][i] * l[k][j]
			}
			inv[i][j] = sum
			inv[j][i] = sum
		}
	}

	return inv
}
