// Package candidate describes the algorithms a tuning job may choose from
// and decides which of them fit a memory budget.
package candidate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/recotune/recotune/internal/recommend"
)

// ErrNoAvailableCandidate is returned when every requested candidate is
// infeasible under the job's memory budget. It is not retryable.
var ErrNoAvailableCandidate = errors.New("no available algorithm under given memory budget")

// Candidate is one algorithm the tuner may pick.
type Candidate interface {
	Name() string
	// RangeForBudget returns either a Range constrained to the budget or
	// an Infeasible verdict.
	RangeForBudget(data *recommend.Dataset, budget int64) Verdict
	// Suggest draws parameters inside r. The same rng state yields the
	// same parameters.
	Suggest(rng *rand.Rand, r Range) map[string]interface{}
	// Train fits a model. Params may come back from JSON, so integers can
	// arrive as float64.
	Train(ctx context.Context, data *recommend.Dataset, params map[string]interface{}, seed int64) (recommend.Model, error)
}

// Verdict is the result of a feasibility check: Range or Infeasible.
type Verdict interface {
	verdict()
}

// Range is a feasible search space.
type Range struct {
	Params []ParamSpec `json:"params"`
}

// Infeasible reports that a candidate cannot run under the budget.
type Infeasible struct {
	Reason   string `json:"reason"`
	Required int64  `json:"required"`
}

func (Range) verdict()      {}
func (Infeasible) verdict() {}

func (i Infeasible) Error() string {
	if i.Required > 0 {
		return fmt.Sprintf("%s (needs %d bytes)", i.Reason, i.Required)
	}
	return i.Reason
}

type Kind string

const (
	KindInt         Kind = "int"
	KindFloat       Kind = "float"
	KindLogFloat    Kind = "log_float"
	KindCategorical Kind = "categorical"
)

// ParamSpec bounds one parameter. Low and High are inclusive.
type ParamSpec struct {
	Name    string   `json:"name"`
	Kind    Kind     `json:"kind"`
	Low     float64  `json:"low,omitempty"`
	High    float64  `json:"high,omitempty"`
	Choices []string `json:"choices,omitempty"`
}

// Spec looks up a parameter by name.
func (r Range) Spec(name string) (ParamSpec, bool) {
	for _, p := range r.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}
