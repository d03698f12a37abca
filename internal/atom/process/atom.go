package process

import (
	"time"

	"github.com/recotune/recotune/internal/atom"
)

// Atom is a point-in-time view of a trial worker process.
type Atom struct {
	id        string
	pid       int
	state     atom.State
	result    atom.Result
	createdAt time.Time
	startedAt time.Time
	stoppedAt time.Time
}

// ID returns the engine-assigned identifier. It is not the PID, which the
// kernel may reuse.
func (a *Atom) ID() string {
	return a.id
}

// PID returns the operating system process id.
func (a *Atom) PID() int {
	return a.pid
}

func (a *Atom) State() atom.State {
	return a.state
}

// Result is only meaningful once State is atom.Stopped.
func (a *Atom) Result() atom.Result {
	return a.result
}

func (a *Atom) CreatedAt() time.Time {
	return a.createdAt
}

func (a *Atom) StartedAt() time.Time {
	return a.startedAt
}

func (a *Atom) StoppedAt() time.Time {
	return a.stoppedAt
}
