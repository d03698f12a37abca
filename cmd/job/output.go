package job

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/recotune/recotune/internal/models"
	"github.com/spf13/cobra"
)

func writeCmdOut(cmd *cobra.Command, format string, args ...any) error {
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), format, args...); err != nil {
		cmd.PrintErrf("write output: %v\n", err)
		return err
	}
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeCmdOut(cmd, "%s\n", out)
}

func writeTable(cmd *cobra.Command, jobs []*models.TuningJob) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tALIAS\tSTATUS\tTRIALS\tBEST\tSCORE")
	for _, j := range jobs {
		score := "-"
		if j.BestScore != nil {
			score = strconv.FormatFloat(*j.BestScore, 'f', 4, 64)
		}
		best := j.BestCandidate
		if best == "" {
			best = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n", j.ID, j.Alias, j.Status, j.NTrials, best, score)
	}
	return w.Flush()
}
