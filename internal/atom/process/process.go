// Package process runs trial workers as child OS processes. Each worker
// leads its own process group so that a stop also reaches anything the
// worker spawned.
package process

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/recotune/recotune/internal/atom"
	"github.com/recotune/recotune/pkg/log"
)

// maxOutput caps the combined stdout and stderr kept per worker.
const maxOutput = 64 << 10

// Engine defines the interface for treating child
// processes as atoms.
type Engine interface {
	atom.Engine
}

type processEngine struct {
	ctx   context.Context
	mu    sync.Mutex
	procs map[string]*proc
	now   func() time.Time
}

// NewEngine creates a process engine. Stop calls give up waiting once ctx
// is done.
func NewEngine(ctx context.Context) Engine {
	return &processEngine{
		ctx:   ctx,
		procs: make(map[string]*proc),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type proc struct {
	id     string
	name   string
	cmd    *exec.Cmd
	output *outputBuffer
	done   chan struct{}

	mu        sync.Mutex
	state     atom.State
	result    atom.Result
	createdAt time.Time
	startedAt time.Time
	stoppedAt time.Time
}

func (p *proc) snapshot() *Atom {
	p.mu.Lock()
	defer p.mu.Unlock()

	a := &Atom{
		id:        p.id,
		state:     p.state,
		result:    p.result,
		createdAt: p.createdAt,
		startedAt: p.startedAt,
		stoppedAt: p.stoppedAt,
	}
	if p.cmd.Process != nil {
		a.pid = p.cmd.Process.Pid
	}
	return a
}

func (p *proc) stopped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (e *processEngine) lookup(id string) (*proc, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.procs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", atom.ErrNotFound, id)
	}
	return p, nil
}

// Get returns the current view of a worker process.
func (e *processEngine) Get(req *atom.EngineGetRequest) (atom.Atom, error) {
	p, err := e.lookup(req.ID)
	if err != nil {
		return nil, err
	}
	return p.snapshot(), nil
}

// List returns the tracked workers created inside the request window,
// oldest first.
func (e *processEngine) List(req *atom.EngineListRequest) ([]atom.Atom, error) {
	e.mu.Lock()
	procs := make([]*proc, 0, len(e.procs))
	for _, p := range e.procs {
		procs = append(procs, p)
	}
	e.mu.Unlock()

	atoms := make([]*Atom, 0, len(procs))
	for _, p := range procs {
		a := p.snapshot()
		if !req.Since.IsZero() && a.createdAt.Before(req.Since) {
			continue
		}
		if !req.Before.IsZero() && !a.createdAt.Before(req.Before) {
			continue
		}
		atoms = append(atoms, a)
	}
	sort.Slice(atoms, func(i, j int) bool {
		return atoms[i].createdAt.Before(atoms[j].createdAt)
	})

	out := make([]atom.Atom, len(atoms))
	for i, a := range atoms {
		out[i] = a
	}
	return out, nil
}

// Create starts Command[0] with the remaining arguments. The worker
// inherits the engine's environment plus Spec.Env.
func (e *processEngine) Create(req *atom.EngineCreateRequest) (atom.Atom, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("create %s: empty command", req.Name)
	}
	if req.Spec.Memory > 0 {
		log.Debug("process engine leaves memory enforcement to the worker", "name", req.Name, "memory", req.Spec.Memory)
	}

	cmd := exec.Command(req.Command[0], req.Command[1:]...)
	cmd.Env = append(os.Environ(), formatEnv(req.Spec.Env)...)
	cmd.Dir = req.Spec.WorkDir
	output := &outputBuffer{limit: maxOutput}
	cmd.Stdout = output
	cmd.Stderr = output
	isolate(cmd)

	p := &proc{
		id:        uuid.NewString(),
		name:      req.Name,
		cmd:       cmd,
		output:    output,
		done:      make(chan struct{}),
		state:     atom.Created,
		createdAt: e.now(),
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", req.Name, err)
	}

	p.mu.Lock()
	p.state = atom.Running
	p.startedAt = e.now()
	p.mu.Unlock()

	e.mu.Lock()
	e.procs[p.id] = p
	e.mu.Unlock()

	go e.wait(p)

	log.Info(
		"started worker process",
		"id", p.id,
		"name", req.Name,
		"pid", cmd.Process.Pid,
	)

	return p.snapshot(), nil
}

func (e *processEngine) wait(p *proc) {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.state = atom.Stopped
	p.stoppedAt = e.now()
	p.result = resultOf(p.cmd.ProcessState, err)
	p.mu.Unlock()

	close(p.done)
}

func resultOf(ps *os.ProcessState, err error) atom.Result {
	if ps == nil {
		return atom.Unknown
	}
	if sig, ok := exitSignal(ps); ok {
		switch sig {
		case syscall.SIGKILL:
			return atom.Killed
		case syscall.SIGTERM:
			return atom.Terminated
		default:
			return atom.Failure
		}
	}
	if ps.ExitCode() == 0 && err == nil {
		return atom.Success
	}
	return atom.Failure
}

// Stop signals the worker's process group and waits for the worker to
// exit. A graceful stop escalates to SIGKILL after Timeout.
func (e *processEngine) Stop(req *atom.EngineStopRequest) error {
	p, err := e.lookup(req.ID)
	if err != nil {
		return err
	}
	if p.stopped() {
		return nil
	}

	p.mu.Lock()
	p.state = atom.Stopping
	p.mu.Unlock()

	log.Info("stopping worker process", "id", req.ID, "force", req.Force)

	if !req.Force {
		if err := signalGroup(p.cmd.Process, syscall.SIGTERM); err != nil {
			log.Warn("terminate worker process", "id", req.ID, "error", err)
		}

		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()

		select {
		case <-p.done:
			return nil
		case <-timer.C:
		case <-e.ctx.Done():
			return e.ctx.Err()
		}
	}

	if err := signalGroup(p.cmd.Process, syscall.SIGKILL); err != nil {
		log.Warn("kill worker process", "id", req.ID, "error", err)
	}

	select {
	case <-p.done:
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

// Remove forgets a stopped worker and kills anything left in its process
// group.
func (e *processEngine) Remove(req *atom.EngineRemoveRequest) error {
	p, err := e.lookup(req.ID)
	if err != nil {
		return err
	}
	if !p.stopped() {
		return fmt.Errorf("remove %s: worker is still running", req.ID)
	}

	// the leader is gone; this only reaches orphaned descendants
	_ = signalGroup(p.cmd.Process, syscall.SIGKILL)

	e.mu.Lock()
	delete(e.procs, req.ID)
	e.mu.Unlock()
	return nil
}

// Logs returns the captured output of a worker. Since is ignored because
// process output carries no timestamps.
func (e *processEngine) Logs(req *atom.EngineLogsRequest) (io.ReadCloser, error) {
	p, err := e.lookup(req.ID)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(p.output.Bytes())), nil
}

func formatEnv(values map[string]string) []string {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, values[k]))
	}
	return env
}

// outputBuffer keeps the first limit bytes written to it.
type outputBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *outputBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}
