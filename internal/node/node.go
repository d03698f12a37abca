// Package node wires the components of a recotune instance together from
// the environment.
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/recotune/recotune/internal/artifact"
	"github.com/recotune/recotune/internal/atom"
	"github.com/recotune/recotune/internal/atom/docker"
	"github.com/recotune/recotune/internal/atom/process"
	"github.com/recotune/recotune/internal/autopilot"
	"github.com/recotune/recotune/internal/candidate"
	"github.com/recotune/recotune/internal/event"
	"github.com/recotune/recotune/internal/jobstate"
	"github.com/recotune/recotune/internal/models"
	"github.com/recotune/recotune/internal/pipeline"
	"github.com/recotune/recotune/pkg/env"
	"github.com/recotune/recotune/pkg/log"
	"gorm.io/gorm"
)

// TrialCommand is the hidden subcommand trial workers run.
const TrialCommand = "trial"

// containerBinary is the recotune entry point inside the worker image.
const containerBinary = "recotune"

type Node struct {
	Jobs      *jobstate.Machine
	Bus       event.Bus
	Registry  *candidate.Registry
	Pipeline  *pipeline.Pipeline
	StudyBase string
}

// engineFactory builds an isolation engine; swapped in tests.
type engineFactory func(ctx context.Context) (atom.Engine, error)

var engines = map[models.IsolationEngine]engineFactory{
	models.IsolationEngineProcess: func(ctx context.Context) (atom.Engine, error) {
		return process.NewEngine(ctx), nil
	},
	models.IsolationEngineDocker: func(ctx context.Context) (atom.Engine, error) {
		return docker.NewEngine(ctx)
	},
}

// New assembles a node over gdb. Engines that cannot be created are
// skipped with a warning so jobs requesting them fail individually.
func New(ctx context.Context, vars env.Environment, gdb *gorm.DB) (*Node, error) {
	registry := candidate.DefaultRegistry()

	binary, err := WorkerBinary(vars)
	if err != nil {
		return nil, err
	}

	base := StudyBase(vars)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create study directory: %w", err)
	}

	workerEnv := map[string]string{
		"RECOTUNE_LOGLEVEL": vars.LogLevel,
	}

	searchers := map[models.IsolationEngine]pipeline.Searcher{}
	for _, name := range EnabledEngines(vars) {
		factory, ok := engines[name]
		if !ok {
			return nil, fmt.Errorf("unknown isolation engine %q", name)
		}

		engine, err := factory(ctx)
		if err != nil {
			log.Warn("isolation engine unavailable", "engine", name, "error", err)
			continue
		}

		cfg := autopilot.Config{
			Engine:       engine,
			Registry:     registry,
			StudyBase:    base,
			Env:          workerEnv,
			PollInterval: vars.TrialPollInterval,
			Command:      command(binary),
		}
		if name == models.IsolationEngineDocker {
			cfg.Image = vars.WorkerImage
			cfg.Command = command(containerBinary)
		}

		scheduler, err := autopilot.New(cfg)
		if err != nil {
			return nil, err
		}
		searchers[name] = scheduler
	}
	if len(searchers) == 0 {
		return nil, fmt.Errorf("no isolation engine available")
	}

	jobs := jobstate.New(gdb)
	bus := event.New()
	p, err := pipeline.New(pipeline.Config{
		Jobs:      jobs,
		Registry:  registry,
		Searchers: searchers,
		Trainer:   artifact.NewTrainer(vars.ArtifactDir, registry),
		Bus:       bus,
	})
	if err != nil {
		return nil, err
	}

	return &Node{
		Jobs:      jobs,
		Bus:       bus,
		Registry:  registry,
		Pipeline:  p,
		StudyBase: base,
	}, nil
}

func command(binary string) autopilot.CommandFunc {
	return func(requestPath string) []string {
		return []string{binary, TrialCommand, "--request", requestPath}
	}
}

// WorkerBinary is the executable launched for process isolated trials.
func WorkerBinary(vars env.Environment) (string, error) {
	if vars.WorkerBinary != "" {
		return vars.WorkerBinary, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve worker binary: %w", err)
	}
	return exe, nil
}

// StudyBase is the parent directory of throwaway study directories.
func StudyBase(vars env.Environment) string {
	if vars.StudyDir != "" {
		return vars.StudyDir
	}
	return filepath.Join(os.TempDir(), "recotune")
}

// EnabledEngines parses the comma separated isolation engine list.
func EnabledEngines(vars env.Environment) []models.IsolationEngine {
	var out []models.IsolationEngine
	for _, name := range strings.Split(vars.IsolationEngine, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		out = append(out, models.IsolationEngine(name))
	}
	if len(out) == 0 {
		out = append(out, models.IsolationEngineProcess)
	}
	return out
}

// NodeID identifies this instance in claim metrics.
func NodeID(vars env.Environment) string {
	if vars.NodeID != "" {
		return vars.NodeID
	}
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	return host
}
