package recommend

import (
	"fmt"
	"math"
	"math/rand"
)

// Split is a train/test partition over the same user and item indices.
type Split struct {
	Train *Dataset
	// Test maps a user index to its held-out item indices.
	Test map[int][]int
}

// HoldoutSplit moves a fraction of each user's items into the test set.
// Users with a single interaction stay entirely in train. The result only
// depends on d, fraction and seed.
func HoldoutSplit(d *Dataset, fraction float64, seed int64) (*Split, error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, fmt.Errorf("holdout fraction must be in (0, 1), got %v", fraction)
	}

	rng := rand.New(rand.NewSource(seed))
	rows := make([]map[int]float64, d.NumUsers())
	test := make(map[int][]int)

	for u := 0; u < d.NumUsers(); u++ {
		items := d.SortedUserItems(u)
		rows[u] = make(map[int]float64, len(items))

		held := 0
		if len(items) > 1 {
			held = int(math.Floor(fraction * float64(len(items))))
			if held < 1 {
				held = 1
			}
			if held > len(items)-1 {
				held = len(items) - 1
			}
			rng.Shuffle(len(items), func(a, b int) { items[a], items[b] = items[b], items[a] })
		}

		for n, i := range items {
			if n < held {
				test[u] = append(test[u], i)
				continue
			}
			rows[u][i] = d.rows[u][i]
		}
	}

	return &Split{Train: d.withRows(rows), Test: test}, nil
}
