package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/recotune/recotune/internal/atom"
	"github.com/recotune/recotune/pkg/container"
	"github.com/recotune/recotune/pkg/log"
)

// Engine defines the interface for treating the
// Docker API as a atom.Engine.
type Engine interface {
	atom.Engine
}

type dockerEngine struct {
	ctx     context.Context
	backend dockerBackend
	pulled  sync.Map
}

// NewEngine creates a docker engine from the environment (DOCKER_HOST and
// friends).
func NewEngine(ctx context.Context) (Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	return &dockerEngine{
		ctx:     ctx,
		backend: cli,
	}, nil
}

// Get a worker container and its corresponding metadata.
func (e *dockerEngine) Get(req *atom.EngineGetRequest) (atom.Atom, error) {
	metadata, err := e.backend.ContainerInspect(e.ctx, req.ID)
	if err != nil {
		return nil, err
	}

	return &Atom{metadata: metadata}, nil
}

// List the worker containers created inside the request window. Each
// container is inspected because the list response lacks the state
// details atoms expose.
func (e *dockerEngine) List(req *atom.EngineListRequest) ([]atom.Atom, error) {
	opts := dockercontainer.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", atom.Label)),
	}

	containers, err := e.backend.ContainerList(e.ctx, opts)
	if err != nil {
		return nil, err
	}

	atoms := make([]atom.Atom, 0, len(containers))
	for _, c := range containers {
		created := time.Unix(c.Created, 0)
		if !req.Since.IsZero() && created.Before(req.Since) {
			continue
		}
		if !req.Before.IsZero() && !created.Before(req.Before) {
			continue
		}

		a, err := e.Get(&atom.EngineGetRequest{ID: c.ID})
		if err != nil {
			return nil, err
		}
		atoms = append(atoms, a)
	}

	return atoms, nil
}

// Create pulls the image once per engine, then creates and starts the
// worker container. A worker is never created without being started.
func (e *dockerEngine) Create(req *atom.EngineCreateRequest) (atom.Atom, error) {
	if err := e.pull(req.Image); err != nil {
		return nil, err
	}

	cfg := &dockercontainer.Config{
		Image:  req.Image,
		Cmd:    req.Command,
		Env:    formatEnv(req.Spec.Env),
		Labels: map[string]string{atom.Label: req.Name},
	}
	if req.Spec.WorkDir != "" {
		cfg.WorkingDir = req.Spec.WorkDir
	}

	hostCfg := &dockercontainer.HostConfig{
		NetworkMode: "none",
		Mounts:      convertMounts(req.Spec.Mounts),
	}
	if req.Spec.Memory > 0 {
		hostCfg.Resources = dockercontainer.Resources{
			Memory:     req.Spec.Memory,
			MemorySwap: req.Spec.Memory,
		}
	}

	log.Info("creating docker container", "image", req.Image, "name", req.Name, "memory", req.Spec.Memory)

	created, err := e.backend.ContainerCreate(e.ctx, cfg, hostCfg, nil, nil, req.Name)
	if err != nil {
		return nil, err
	}

	log.Info(
		"starting docker container",
		"image", req.Image,
		"cmd", req.Command,
		"id", created.ID,
	)

	if err = e.backend.ContainerStart(e.ctx, created.ID, dockercontainer.StartOptions{}); err != nil {
		return nil, err
	}

	return e.Get(&atom.EngineGetRequest{ID: created.ID})
}

func (e *dockerEngine) pull(ref string) error {
	if _, ok := e.pulled.Load(ref); ok {
		return nil
	}

	log.Info("pulling docker image", "image", ref)

	r, err := e.backend.ImagePull(e.ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Error("close docker pull reader", "error", err)
		}
	}()

	if _, err = io.Copy(io.Discard, r); err != nil {
		return err
	}

	e.pulled.Store(ref, struct{}{})
	log.Info("docker image pulled", "image", ref)
	return nil
}

// Stop a worker container. A forced stop sends SIGKILL without a grace
// period.
func (e *dockerEngine) Stop(req *atom.EngineStopRequest) error {
	log.Info("stopping docker container", "id", req.ID, "force", req.Force)

	opts := dockercontainer.StopOptions{}
	if req.Force {
		timeout := 0
		opts.Signal = "SIGKILL"
		opts.Timeout = &timeout
	} else {
		timeout := int(req.Timeout.Seconds())
		opts.Timeout = &timeout
	}

	return e.backend.ContainerStop(e.ctx, req.ID, opts)
}

// Remove deletes a stopped worker container and its anonymous volumes.
func (e *dockerEngine) Remove(req *atom.EngineRemoveRequest) error {
	log.Debug("removing docker container", "id", req.ID)

	return e.backend.ContainerRemove(e.ctx, req.ID, dockercontainer.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
}

// Logs returns the demultiplexed stdout and stderr of a worker container.
func (e *dockerEngine) Logs(req *atom.EngineLogsRequest) (io.ReadCloser, error) {
	opts := dockercontainer.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	}

	if !req.Since.IsZero() {
		opts.Since = req.Since.Format(time.RFC3339Nano)
	}

	raw, err := e.backend.ContainerLogs(e.ctx, req.ID, opts)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		defer raw.Close()
		_, err := stdcopy.StdCopy(pw, pw, raw)
		pw.CloseWithError(err)
	}()

	return pr, nil
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

func convertMounts(specMounts []container.Mount) []mount.Mount {
	if len(specMounts) == 0 {
		return nil
	}
	result := make([]mount.Mount, 0, len(specMounts))
	for _, mnt := range specMounts {
		if mnt.Source == "" || mnt.Target == "" {
			continue
		}
		switch mnt.Type {
		case container.MountTypeBind, "":
			result = append(result, mount.Mount{
				Type:     mount.TypeBind,
				Source:   mnt.Source,
				Target:   mnt.Target,
				ReadOnly: mnt.ReadOnly,
			})
		}
	}
	return result
}
