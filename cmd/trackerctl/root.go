package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/config"
	infraconfig "github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/config"
	infralogger "github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/remote"
)

// options holds the global flags.
type options struct {
	configPath string
	backendURL string
	debug      bool
}

// deps are the dependencies shared by subcommands.
type deps struct {
	cfg *config.Config
	log infralogger.Logger
	out io.Writer
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "trackerctl",
		Short:         "Operate the serp-tracker service",
		Long:          `Inspect backend task records and local analytics for the serp-tracker service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", infraconfig.GetConfigPath("config.yml"),
		"path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.backendURL, "backend", "", "task-records API base URL (overrides config)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newPingCommand(opts),
		newRecordsCommand(opts),
		newRecordCommand(opts),
		newPurgeCommand(opts),
		newSummaryCommand(opts),
		newExportCommand(opts),
	)
	return cmd
}

func loadDeps(cmd *cobra.Command, opts *options) (*deps, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.backendURL != "" {
		cfg.Backend.BaseURL = opts.backendURL
	}

	level := "warn"
	if opts.debug {
		level = "debug"
	}
	log, err := infralogger.New(infralogger.Config{Level: level, Format: "json", Development: opts.debug})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	return &deps{cfg: cfg, log: log, out: cmd.OutOrStdout()}, nil
}

func (d *deps) client() *remote.Client {
	b := d.cfg.Backend
	return remote.NewClient(remote.Config{
		BaseURL:         b.BaseURL,
		Timeout:         b.Timeout,
		InitialBackoff:  b.InitialBackoff,
		MaxBackoff:      b.MaxBackoff,
		BreakerFailures: b.BreakerFailures,
		BreakerTimeout:  b.BreakerTimeout,
	}, d.log)
}
