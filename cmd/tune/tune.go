package tune

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/recotune/recotune/internal/callback"
	"github.com/recotune/recotune/internal/node"
	"github.com/recotune/recotune/pkg/db"
	"github.com/recotune/recotune/pkg/env"
	"github.com/recotune/recotune/pkg/log"
	"github.com/spf13/cobra"
)

// Cmd claims one pending job and runs it in the foreground.
var Cmd = &cobra.Command{
	Use:     "tune <job-id>",
	Short:   "Run one pending tuning job in the foreground",
	Example: "recotune tune 42",
	Args:    cobra.ExactArgs(1),
	RunE:    tune,
}

func tune(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", args[0], err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(); err != nil {
		return err
	}

	n, err := node.New(ctx, env.Variables(), db.Connection())
	if err != nil {
		return err
	}

	claimed, err := n.Pipeline.Run(ctx, id)
	if !claimed && err == nil {
		return fmt.Errorf("job %d is not pending", id)
	}
	if claimed {
		if cbErr := callback.NewDispatcher(n.Jobs).Dispatch(ctx, id); cbErr != nil {
			log.Error("job callbacks failed", "job_id", id, "error", cbErr)
		}
	}

	// report the job whatever the outcome; the error is returned below
	job, getErr := n.Jobs.Get(context.WithoutCancel(ctx), id)
	if getErr != nil {
		log.Error("failed to load job", "job_id", id, "error", getErr)
	} else {
		out, merr := json.MarshalIndent(job, "", "  ")
		if merr == nil {
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
		}
	}

	return err
}
