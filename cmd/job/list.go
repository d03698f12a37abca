package job

import (
	"strings"

	"github.com/recotune/recotune/internal/models"
	"github.com/spf13/cobra"
)

var (
	listStatus string
	listLimit  int
	listJSON   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tuning jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status := models.JobStatus(strings.ToUpper(listStatus))
		jobs, err := apiClient().ListJobs(cmd.Context(), status, listLimit)
		if err != nil {
			return err
		}
		if listJSON {
			return writeJSON(cmd, jobs)
		}
		return writeTable(cmd, jobs)
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Only show jobs in this status (pending, running, completed, failed)")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of jobs to show")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print JSON instead of a table")
}
