package job

import (
	"fmt"

	"github.com/recotune/recotune/pkg/client"
	"github.com/recotune/recotune/pkg/env"
	"github.com/spf13/cobra"
)

var server string

// Cmd is the parent command for job operations.
var Cmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and inspect tuning jobs",
}

func init() {
	Cmd.PersistentFlags().StringVar(&server, "server", "", "recotune server base URL (default: http://localhost:$RECOTUNE_PORT)")
	Cmd.AddCommand(submitCmd, getCmd, listCmd)
}

func apiClient() client.Recotune {
	if server == "" {
		return client.Client(fmt.Sprintf("http://localhost:%v", env.Variables().Port))
	}
	return client.Client(server)
}
