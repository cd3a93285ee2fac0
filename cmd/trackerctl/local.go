package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/analytics"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/config"
	"github.com/jonesrussell/north-cloud/serp-tracker/internal/storage"
)

// withAnalytics opens the configured local storage and runs fn over it.
func withAnalytics(d *deps, fn func(*analytics.Service) error) error {
	if d.cfg.Storage.Driver == config.DriverMemory {
		return fmt.Errorf("storage driver %q holds no state outside the service process", config.DriverMemory)
	}

	adapter, err := storage.Open(d.cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = adapter.Close() }()

	repo := storage.NewRepository(adapter, d.cfg.Storage.CompletedMax)
	return fn(analytics.NewService(repo))
}

func newSummaryCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <clientId>",
		Short: "Summarize the local sessions of a browser context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDeps(cmd, opts)
			if err != nil {
				return err
			}

			return withAnalytics(d, func(svc *analytics.Service) error {
				sum, sumErr := svc.Summary(cmd.Context(), args[0])
				if sumErr != nil {
					return sumErr
				}

				t := table.NewWriter()
				t.SetOutputMirror(d.out)
				t.SetStyle(table.StyleLight)
				t.SetTitle("Client " + args[0])
				t.AppendRows([]table.Row{
					{"Participant", sum.ParticipantID},
					{"Sessions", sum.TotalSessions},
					{"Clicks", sum.TotalClicks},
					{"Avg clicks/session", sum.AvgClicksPerSession},
					{"Organic clicks", sum.ClicksBySource.Organic},
					{"Overview clicks", sum.ClicksBySource.Overview},
					{"AI mode clicks", sum.ClicksBySource.AIMode},
					{"Show more", sum.TotalShowMore},
					{"Show all", sum.TotalShowAll},
					{"Clicks with dwell", sum.ClicksWithDwell},
					{"Avg dwell (s)", sum.AvgDwellTimeSec},
				})
				t.Render()
				return nil
			})
		},
	}
}

func newExportCommand(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <clientId>",
		Short: "Write the analytics export of a browser context",
		Long:  `Write the analytics export document. "-" writes to stdout; the default is analytics-data-<date>.json.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDeps(cmd, opts)
			if err != nil {
				return err
			}

			return withAnalytics(d, func(svc *analytics.Service) error {
				data, exportErr := svc.Export(cmd.Context(), args[0])
				if exportErr != nil {
					return exportErr
				}

				if output == "-" {
					_, writeErr := d.out.Write(append(data, '\n'))
					return writeErr
				}
				path := output
				if path == "" {
					path = analytics.ExportFilename(time.Now())
				}
				if writeErr := os.WriteFile(path, data, 0o600); writeErr != nil {
					return fmt.Errorf("write export: %w", writeErr)
				}
				fmt.Fprintf(d.out, "Export written to %s\n", path)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	return cmd
}
