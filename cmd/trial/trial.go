package trial

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/recotune/recotune/internal/candidate"
	"github.com/recotune/recotune/internal/trial"
	"github.com/spf13/cobra"
)

var requestPath string

// Cmd is the trial worker entry point launched by the scheduler. It is not
// meant to be run by hand.
var Cmd = &cobra.Command{
	Use:    "trial",
	Short:  "Run a single trial (internal)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Run(context.Background(), cmd, requestPath)
	},
}

func init() {
	Cmd.Flags().StringVar(&requestPath, "request", "", "Path to the trial request file")
	_ = Cmd.MarkFlagRequired("request")
}

// Run executes the trial described by the request file and prints the
// result as JSON.
func Run(ctx context.Context, cmd *cobra.Command, path string) error {
	req, err := trial.Read(path)
	if err != nil {
		return err
	}

	result, err := trial.Run(ctx, req, candidate.DefaultRegistry())
	if err != nil {
		return err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
