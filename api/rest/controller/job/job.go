package job

import (
	"github.com/recotune/recotune/internal/jobstate"
)

type Controller struct {
	jobs       *jobstate.Machine
	candidates []string
}

// New returns a controller over jobs. Submitted definitions may only name
// the given candidates.
func New(jobs *jobstate.Machine, candidates []string) *Controller {
	return &Controller{jobs: jobs, candidates: candidates}
}
