package cmd

import (
	"github.com/recotune/recotune/cmd/job"
	"github.com/recotune/recotune/cmd/start"
	"github.com/recotune/recotune/cmd/trial"
	"github.com/recotune/recotune/cmd/tune"
	"github.com/spf13/cobra"
)

var cmds = []*cobra.Command{
	start.Cmd,
	tune.Cmd,
	trial.Cmd,
	job.Cmd,
}

// Execute builds the command tree and executes commands.
func Execute() error {
	command := &cobra.Command{
		Use:           "recotune",
		Short:         "Hyperparameter search for recommender models",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}

	for _, c := range cmds {
		command.AddCommand(c)
	}

	return command.Execute()
}
