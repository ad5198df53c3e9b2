package main

import (
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/crewgate/internal/config"
	"github.com/mattjoyce/crewgate/internal/doctor"
	"github.com/mattjoyce/crewgate/internal/lock"
)

const redacted = "<redacted>"

func newConfigCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")

	var jsonOut bool
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and the installed agent CLIs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			res := doctor.New(cfg, exec.LookPath).Validate()
			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := doctor.FormatJSON(res)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, data)
			} else {
				if cfg.SourcePath == "" {
					fmt.Fprintln(out, "config: none (using defaults)")
				} else {
					fmt.Fprintf(out, "config: %s\nblake3: %s\n", cfg.SourcePath, cfg.SourceHash)
				}
				fmt.Fprint(out, doctor.FormatHuman(res))
			}
			if !res.Valid {
				return errors.New("configuration check failed")
			}
			return nil
		},
	}
	check.Flags().BoolVar(&jsonOut, "json", false, "JSON output")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML, secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			redact(cfg)
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return enc.Close()
		},
	}

	cmd.AddCommand(check, show)
	return cmd
}

func redact(cfg *config.Config) {
	if cfg.API.Auth.APIKey != "" {
		cfg.API.Auth.APIKey = redacted
	}
	for i := range cfg.API.Auth.Tokens {
		cfg.API.Auth.Tokens[i].Token = redacted
	}
}

func newStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether a server holds the lock and answers on the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if cfg.Lock.Path == "" {
				fmt.Fprintln(out, "lock: disabled")
			} else if pid, ok := lock.ReadPID(cfg.Lock.Path); ok {
				fmt.Fprintf(out, "lock: %s (pid %d)\n", cfg.Lock.Path, pid)
			} else {
				fmt.Fprintf(out, "lock: %s (not held)\n", cfg.Lock.Path)
			}

			if !cfg.API.Enabled {
				fmt.Fprintln(out, "api: disabled")
				return nil
			}
			hc := &http.Client{Timeout: 2 * time.Second}
			resp, err := hc.Get("http://" + cfg.API.Listen + "/healthz")
			if err != nil {
				fmt.Fprintf(out, "api: %s unreachable: %v\n", cfg.API.Listen, err)
				return nil
			}
			resp.Body.Close()
			fmt.Fprintf(out, "api: %s %s\n", cfg.API.Listen, resp.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	return cmd
}
