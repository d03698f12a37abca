package atom

import (
	"errors"
	"io"
	"time"

	"github.com/recotune/recotune/pkg/container"
)

// ErrNotFound is returned for an atom the engine does not know.
var ErrNotFound = errors.New("atom not found")

// Atom is one isolated trial worker: an OS process or a container.
type Atom interface {
	ID() string
	State() State
	Result() Result
	CreatedAt() time.Time
	StartedAt() time.Time
	StoppedAt() time.Time
}

// Engine runs atoms. An Engine is analogous to a process supervisor or a
// Docker daemon.
type Engine interface {
	Get(*EngineGetRequest) (Atom, error)
	List(*EngineListRequest) ([]Atom, error)
	Create(*EngineCreateRequest) (Atom, error)
	Stop(*EngineStopRequest) error
	Remove(*EngineRemoveRequest) error
	Logs(*EngineLogsRequest) (io.ReadCloser, error)
}

// EngineGetRequest defines the input parameters to
// an Engine.Get request.
type EngineGetRequest struct {
	ID string
}

// EngineListRequest defines the input parameters to
// an Engine.List request.
type EngineListRequest struct {
	Since  time.Time
	Before time.Time
}

// EngineCreateRequest defines the input parameters to
// an Engine.Create request. Command[0] is the executable for engines
// without an image.
type EngineCreateRequest struct {
	Name    string
	Image   string
	Command []string
	Spec    container.Spec
}

// EngineStopRequest defines the input parameters to
// an Engine.Stop request. Force kills immediately; otherwise the atom
// gets Timeout to exit after a termination signal.
type EngineStopRequest struct {
	ID      string
	Force   bool
	Timeout time.Duration
}

// EngineRemoveRequest releases an atom's resources after it stopped.
type EngineRemoveRequest struct {
	ID string
}

// EngineLogsRequest defines the input parameters to
// an Engine.Logs request.
type EngineLogsRequest struct {
	ID    string
	Since time.Time
}

// State defines the lifecycle states of an Atom.
type State string

const (
	// Created occurs immediately after engine.Create is
	// called successfully.
	Created State = "created"
	// Running occurs once the worker has begun executing.
	Running State = "running"
	// Stopping occurs after engine.Stop is called and before the worker
	// has exited.
	Stopping State = "stopping"
	// Stopped occurs once the worker has exited for any reason.
	Stopped State = "stopped"
	// Invalid occurs if an engine reports an unknown or unexpected state.
	Invalid State = "invalid"
)

// Result defines how a stopped Atom ended.
type Result string

const (
	// Success is an exit code of 0.
	Success Result = "success"
	// Failure is a non-zero exit of the worker itself.
	Failure Result = "failure"
	// StartupFailure means the worker never reached a running state.
	StartupFailure Result = "startup_failure"
	// ResourceFailure is an OOM kill or similar resource exhaustion.
	ResourceFailure Result = "resource_failure"
	// Killed is a SIGKILL, including a forced stop.
	Killed Result = "killed"
	// Terminated is a SIGTERM.
	Terminated Result = "terminated"
	// Unknown is any other outcome. It is treated as a Failure.
	Unknown Result = "unknown"
)

// Label marks containers managed by recotune.
const Label = "io.recotune"
