package start

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/recotune/recotune/api"
	"github.com/recotune/recotune/internal/callback"
	"github.com/recotune/recotune/internal/event"
	"github.com/recotune/recotune/internal/janitor"
	"github.com/recotune/recotune/internal/metrics"
	"github.com/recotune/recotune/internal/models"
	"github.com/recotune/recotune/internal/node"
	"github.com/recotune/recotune/internal/worker"
	"github.com/recotune/recotune/pkg/db"
	"github.com/recotune/recotune/pkg/env"
	"github.com/recotune/recotune/pkg/log"
	"github.com/spf13/cobra"
)

const (
	usage   = "start"
	short   = "Start a recotune dispatcher"
	long    = "This command starts a recotune instance that claims pending tuning jobs, runs them and serves the API"
	example = "recotune start"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"launch", "boot", "up", "serve", "begin"},
		Example:    example,
		RunE:       start,
	}
)

func start(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	defer signal.Stop(signalChan)

	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 signal")
				if profile := pprof.Lookup("goroutine"); profile != nil {
					if err := profile.WriteTo(os.Stdout, 1); err != nil {
						log.Error("write goroutine profile", "error", err)
					}
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("gracefully shutting down", "signal", s.String())
				cancel()
			}
		}
	}()

	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)

	metrics.Register()

	log.Info("migrating database")
	if err := db.Migrate(); err != nil {
		log.Fatal("database migration failure", "error", err)
	}

	vars := env.Variables()
	n, err := node.New(ctx, vars, db.Connection())
	if err != nil {
		return err
	}

	if err := event.LogSink(ctx, n.Bus); err != nil {
		return err
	}

	if err := callback.NewDispatcher(n.Jobs).Listen(ctx, n.Bus); err != nil {
		return err
	}

	sweeper, err := janitor.New(n.StudyBase, vars.JanitorSchedule, vars.StudyMaxAge)
	if err != nil {
		return err
	}

	nodeID := node.NodeID(vars)
	w := worker.NewWorker(
		worker.NewClaimer(nodeID, n.Jobs),
		worker.NewPool(vars.WorkerPoolSize),
		vars.WorkerPollInterval,
		func(ctx context.Context, job *models.TuningJob) {
			// failures are recorded on the job by the pipeline
			_ = n.Pipeline.Execute(ctx, job)
		},
	)

	errs := make(chan error, 2)

	go func() {
		log.Info("spinning up api", "port", vars.Port)
		errs <- api.Start(ctx, api.New(n.Jobs, n.Bus, n.Registry.Names()), vars.Port)
	}()

	go func() {
		log.Info("launching dispatcher", "node_id", nodeID, "pool_size", vars.WorkerPoolSize)
		errs <- w.Run(ctx)
	}()

	go sweeper.Start(ctx)

	// wait for both routines so running jobs reach a terminal status
	pending := 2
	select {
	case err = <-errs:
		pending--
		cancel()
	case <-ctx.Done():
	}

	for ; pending > 0; pending-- {
		if e := <-errs; err == nil {
			err = e
		}
	}
	return err
}
