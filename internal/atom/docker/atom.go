package docker

import (
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/recotune/recotune/internal/atom"
)

// Atom is a trial worker container.
type Atom struct {
	metadata container.InspectResponse
}

// ID returns the ID of the Atom. This ID is identical
// to the Docker ID assigned by the Docker daemon.
func (c *Atom) ID() string {
	return c.metadata.ID
}

// State maps Docker container states to atom states.
func (c *Atom) State() atom.State {
	if c.metadata.State == nil {
		return atom.Invalid
	}
	if state, ok := stateMap[c.metadata.State.Status]; ok {
		return state
	}
	return atom.Invalid
}

// Result maps the container's exit to an atom result. An OOM kill by the
// memory limit is a resource failure whatever the exit code.
func (c *Atom) Result() atom.Result {
	if c.metadata.State == nil {
		return atom.Unknown
	}
	if c.metadata.State.OOMKilled {
		return atom.ResourceFailure
	}
	if result, ok := resultMap[c.metadata.State.ExitCode]; ok {
		return result
	}
	return atom.Unknown
}

// CreatedAt returns the UTC time the Atom was created.
func (c *Atom) CreatedAt() time.Time {
	t, _ := time.Parse(time.RFC3339Nano, c.metadata.Created)
	return t
}

// StartedAt returns the UTC time the Atom was started.
func (c *Atom) StartedAt() time.Time {
	if c.metadata.State == nil {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, c.metadata.State.StartedAt)
	return t
}

// StoppedAt returns the UTC time the Atom was stopped.
func (c *Atom) StoppedAt() time.Time {
	if c.metadata.State == nil {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, c.metadata.State.FinishedAt)
	return t
}
