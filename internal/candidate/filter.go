package candidate

import (
	"fmt"
	"sort"

	"github.com/recotune/recotune/internal/metrics"
	"github.com/recotune/recotune/internal/recommend"
	"github.com/recotune/recotune/pkg/log"
)

// Registry resolves candidate names.
type Registry struct {
	candidates map[string]Candidate
}

// NewRegistry indexes cs by name. Later duplicates replace earlier ones.
func NewRegistry(cs ...Candidate) *Registry {
	r := &Registry{candidates: make(map[string]Candidate, len(cs))}
	for _, c := range cs {
		r.candidates[c.Name()] = c
	}
	return r
}

// DefaultRegistry holds the builtin candidates.
func DefaultRegistry() *Registry {
	return NewRegistry(Builtin()...)
}

func (r *Registry) Get(name string) (Candidate, bool) {
	c, ok := r.candidates[name]
	return c, ok
}

// Names returns the registered names in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.candidates))
	for name := range r.candidates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Filter asks every named candidate for its range under budget and keeps
// the feasible ones. Surviving names keep the order of names. An empty
// result is not an error here; callers decide whether it is fatal.
func Filter(data *recommend.Dataset, budget int64, names []string, registry *Registry) (map[string]Range, []string, error) {
	ranges := make(map[string]Range, len(names))
	surviving := make([]string, 0, len(names))

	for _, name := range names {
		c, ok := registry.Get(name)
		if !ok {
			return nil, nil, fmt.Errorf("unknown candidate %q", name)
		}
		if _, dup := ranges[name]; dup {
			continue
		}

		switch v := c.RangeForBudget(data, budget).(type) {
		case Range:
			ranges[name] = v
			surviving = append(surviving, name)
		case Infeasible:
			log.Info("dropping infeasible candidate",
				"candidate", name,
				"budget", budget,
				"required", v.Required,
				"reason", v.Reason,
			)
			metrics.CandidatesInfeasibleTotal.WithLabelValues(name).Inc()
		default:
			return nil, nil, fmt.Errorf("candidate %q returned unexpected verdict %T", name, v)
		}
	}

	return ranges, surviving, nil
}
