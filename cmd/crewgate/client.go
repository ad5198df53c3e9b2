package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/crewgate/internal/config"
	"github.com/mattjoyce/crewgate/internal/jobs"
	"github.com/mattjoyce/crewgate/internal/tui/watch"
)

// EnvAPIKey supplies the bearer token for client commands.
const EnvAPIKey = "CREWGATE_API_KEY"

type clientFlags struct {
	configPath string
	apiURL     string
	apiKey     string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.configPath, "config", "", "Path to configuration file (for api.listen and api_key)")
	cmd.PersistentFlags().StringVar(&f.apiURL, "api-url", "", "crewgate API URL (default from api.listen)")
	cmd.PersistentFlags().StringVar(&f.apiKey, "api-key", "", "API bearer token (default $"+EnvAPIKey+" or api.auth.api_key)")
}

// client resolves the API address and token. Explicit flags win, then the
// environment, then the config file.
func (f *clientFlags) client() (*watch.Client, error) {
	url, key := f.apiURL, f.apiKey
	if key == "" {
		key = os.Getenv(EnvAPIKey)
	}
	if url == "" || key == "" {
		cfg, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		if url == "" {
			url = "http://" + cfg.API.Listen
		}
		if key == "" {
			key = cfg.API.Auth.APIKey
		}
	}
	if key == "" {
		return nil, fmt.Errorf("API key required: use --api-key or %s", EnvAPIKey)
	}
	return watch.NewClient(url, key), nil
}

func newJobsCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and control background jobs through the API",
	}
	flags.register(cmd)

	var (
		status  string
		limit   int
		jsonOut bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := jobs.ParseFilter(status)
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			infos, err := c.Jobs(cmd.Context(), filter, limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), infos)
			}
			printJobs(cmd.OutOrStdout(), infos, time.Now())
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "all", "Filter: all, active, completed, failed")
	list.Flags().IntVar(&limit, "limit", 20, "Max rows")
	list.Flags().BoolVar(&jsonOut, "json", false, "JSON output")

	get := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job with its stdout preview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			info, err := c.Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), info)
		},
	}

	var timeout time.Duration
	wait := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Block until a job finishes and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			res, err := c.Wait(cmd.Context(), args[0], timeout)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.TimedOut {
				return fmt.Errorf("job %s still running after wait", args[0])
			}
			return nil
		},
	}
	wait.Flags().DurationVar(&timeout, "timeout", 0, "Wait limit (default: server's jobs.wait_timeout)")

	kill := &cobra.Command{
		Use:   "kill <job-id>",
		Short: "Terminate a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			info, err := c.Kill(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", info.ID, info.Status)
			return nil
		},
	}

	cmd.AddCommand(list, get, wait, kill)
	return cmd
}

func newWatchCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live job dashboard (requires the API)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			p := tea.NewProgram(watch.New(cmd.Context(), c))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("TUI error: %w", err)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func printJobs(w io.Writer, list []jobs.Info, now time.Time) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No jobs found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAGENT\tSTATUS\tELAPSED\tPROMPT")
	for _, j := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.Agent, j.Status, j.Elapsed(now).Round(time.Second), oneLine(j.Prompt, 60))
	}
	_ = tw.Flush()
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
