package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/crewgate/internal/agent"
	"github.com/mattjoyce/crewgate/internal/api"
	"github.com/mattjoyce/crewgate/internal/config"
	"github.com/mattjoyce/crewgate/internal/dispatch"
	"github.com/mattjoyce/crewgate/internal/events"
	"github.com/mattjoyce/crewgate/internal/exchange"
	"github.com/mattjoyce/crewgate/internal/history"
	"github.com/mattjoyce/crewgate/internal/jobs"
	"github.com/mattjoyce/crewgate/internal/lock"
	"github.com/mattjoyce/crewgate/internal/log"
	"github.com/mattjoyce/crewgate/internal/spawner"
	"github.com/mattjoyce/crewgate/internal/tools"
)

type serveOptions struct {
	configPath string
	stdio      bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent tools over stdio and, when enabled, HTTP",
		Long: `serve runs the tool server. With --stdio (the default) it speaks
line-delimited JSON-RPC on stdin/stdout and exits when stdin closes. With
--stdio=false it runs only the HTTP API until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to configuration file")
	cmd.Flags().BoolVar(&opts.stdio, "stdio", true, "Serve tools on stdin/stdout")
	return cmd
}

// runServe wires the spawner, registry, dispatcher and front ends, and
// blocks until stdin ends (stdio mode), ctx is cancelled, or the API fails.
func runServe(ctx context.Context, cfg *config.Config, opts serveOptions, stdin io.Reader, stdout io.Writer) error {
	if !opts.stdio && !cfg.API.Enabled {
		return errors.New("nothing to serve: enable the API or use --stdio")
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("crewgate starting",
		"version", version,
		"config", cfg.SourcePath,
		"config_hash", cfg.SourceHash,
		"provider", cfg.Service.Provider,
	)

	if cfg.Lock.Path != "" {
		pidLock, err := lock.AcquirePIDLock(cfg.Lock.Path)
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Lock.Path, "error", err)
			return err
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", pidLock.Path())
	}

	var regOpts []jobs.Option
	if cfg.History.Path != "" {
		journal, err := history.Open(ctx, cfg.History.Path)
		if err != nil {
			logger.Error("failed to open history", "path", cfg.History.Path, "error", err)
			return err
		}
		defer journal.Close()
		regOpts = append(regOpts, jobs.WithRecorder(journal))
		logger.Info("history journal opened", "path", cfg.History.Path)
	}

	hub := events.NewHub(cfg.Jobs.EventBuffer)
	defer hub.Close()
	regOpts = append(regOpts, jobs.WithPublisher(hub))

	sp := spawner.New(spawner.Config{
		DefaultTimeout: cfg.Spawner.DefaultTimeout,
		GracePeriod:    cfg.Spawner.GracePeriod,
		MaxStdout:      cfg.Spawner.MaxStdout,
	}, spawner.WithLogger(log.WithComponent("spawner")))
	defer sp.TerminateAll()

	registry := jobs.NewRegistry(jobs.Config{
		MaxStdout:     cfg.Spawner.MaxStdout,
		Retention:     cfg.Jobs.Retention,
		SweepInterval: cfg.Jobs.SweepInterval,
		WaitTimeout:   cfg.Jobs.WaitTimeout,
		MaxWait:       cfg.Jobs.MaxWait,
	}, sp, regOpts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	registry.Start(ctx)

	ex := exchange.New(exchange.Config{
		DirName:         cfg.Exchange.DirName,
		InlineThreshold: cfg.Exchange.InlineThreshold,
		PreviewChars:    cfg.Exchange.PreviewChars,
	})
	disp := dispatch.New(sp, registry, ex)

	provider, err := agent.Parse(cfg.Service.Provider)
	if err != nil {
		return err
	}
	svc := tools.NewService(disp, registry, provider)

	errCh := make(chan error, 2)

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: cfg.TokenConfigs(),
		}, registry, svc, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	stdioDone := make(chan struct{})
	if opts.stdio {
		server := tools.NewServer(svc, tools.ServerInfo{Name: cfg.Service.Name, Version: version})
		go func() {
			defer close(stdioDone)
			if err := server.Serve(ctx, stdin, stdout); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("stdio: %w", err)
			}
		}()
		logger.Info("stdio tool server running", "tools", len(svc.List()))
	}

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case <-stdioDone:
		logger.Info("stdin closed")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		return err
	}

	cancel()
	logger.Info("crewgate stopped", "jobs_tracked", registry.Len())
	return nil
}
