package testutil

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/recotune/recotune/internal/recommend"
	"github.com/stretchr/testify/require"
)

// Interactions generates clustered implicit feedback. Users of cluster c
// mostly consume items whose index is congruent to c modulo 3, so the
// data has structure a collaborative model can learn.
func Interactions(users, items int, seed int64) []recommend.Interaction {
	const clusters = 3

	rng := rand.New(rand.NewSource(seed))
	perUser := items / 2
	if perUser < 2 {
		perUser = 2
	}

	out := make([]recommend.Interaction, 0, users*perUser)
	for u := 0; u < users; u++ {
		c := u % clusters
		for n := 0; n < perUser; n++ {
			i := rng.Intn(items)
			if rng.Float64() < 0.85 {
				i = (i/clusters)*clusters + c
				if i >= items {
					i = c
				}
			}
			out = append(out, recommend.Interaction{
				User:   fmt.Sprintf("user-%03d", u),
				Item:   fmt.Sprintf("item-%03d", i),
				Weight: float64(1 + rng.Intn(3)),
			})
		}
	}
	return out
}

// Dataset builds a clustered dataset.
func Dataset(tb testing.TB, users, items int) *recommend.Dataset {
	tb.Helper()

	d, err := recommend.NewDataset(Interactions(users, items, 1))
	require.NoError(tb, err)
	return d
}

// WriteCSV writes a clustered dataset to dir and returns its path.
func WriteCSV(tb testing.TB, dir string, users, items int) string {
	tb.Helper()

	var b strings.Builder
	b.WriteString("user,item,weight\n")
	for _, in := range Interactions(users, items, 1) {
		fmt.Fprintf(&b, "%s,%s,%g\n", in.User, in.Item, in.Weight)
	}

	path := filepath.Join(dir, "interactions.csv")
	require.NoError(tb, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}
