package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/crewgate/internal/config"
	"github.com/mattjoyce/crewgate/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		q          history.Query
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished jobs from the history journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.History.Path == "" {
				return errors.New("history is disabled: set history.path in the config")
			}
			journal, err := history.Open(cmd.Context(), cfg.History.Path)
			if err != nil {
				return err
			}
			defer journal.Close()

			entries, err := journal.Recent(cmd.Context(), q)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			printHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.Flags().StringVar(&q.Agent, "agent", "", "Only this agent")
	cmd.Flags().StringVar(&q.Status, "status", "", "Only this status (completed, failed, killed)")
	cmd.Flags().IntVar(&q.Limit, "limit", 20, "Max rows")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output")
	return cmd
}

func printHistory(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No history.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tID\tAGENT\tSTATUS\tEXIT\tDURATION\tPROMPT")
	for _, e := range entries {
		exit := "-"
		if e.ExitCode != nil {
			exit = fmt.Sprint(*e.ExitCode)
		}
		finished, took := "-", "-"
		if e.CompletedAt != nil {
			finished = e.CompletedAt.Local().Format(time.DateTime)
			took = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", finished, e.JobID, e.Agent, e.Status, exit, took, oneLine(e.Prompt, 50))
	}
	_ = tw.Flush()
}
