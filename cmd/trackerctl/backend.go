package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/remote"
)

func newPingCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the task-records API answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := loadDeps(cmd, opts)
			if err != nil {
				return err
			}

			start := time.Now()
			if pingErr := d.client().Ping(cmd.Context()); pingErr != nil {
				return pingErr
			}
			fmt.Fprintf(d.out, "Backend %s reachable (%s)\n", d.cfg.Backend.BaseURL,
				time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func newRecordsCommand(opts *options) *cobra.Command {
	var participant string

	cmd := &cobra.Command{
		Use:   "records",
		Short: "List the backend records of a participant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := loadDeps(cmd, opts)
			if err != nil {
				return err
			}

			recs, err := d.client().ListByParticipant(cmd.Context(), participant)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintf(d.out, "No records for participant %s\n", participant)
				return nil
			}
			renderRecords(d.out, recs)
			return nil
		},
	}

	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}

func newRecordCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "record <taskId>",
		Short: "Show one backend record and its click sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDeps(cmd, opts)
			if err != nil {
				return err
			}

			rec, err := d.client().GetByTaskID(cmd.Context(), args[0])
			if errors.Is(err, remote.ErrRecordNotFound) {
				return fmt.Errorf("no record for task %s", args[0])
			}
			if err != nil {
				return err
			}
			renderRecords(d.out, []remote.TaskRecord{*rec})
			renderClicks(d.out, rec)
			return nil
		},
	}
}

func newPurgeCommand(opts *options) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every record on the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to purge without --yes")
			}
			d, err := loadDeps(cmd, opts)
			if err != nil {
				return err
			}

			if delErr := d.client().DeleteAll(cmd.Context()); delErr != nil {
				return delErr
			}
			fmt.Fprintln(d.out, "All task records deleted")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the purge")
	return cmd
}

func renderRecords(w io.Writer, recs []remote.TaskRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Task ID", "Type", "Started", "Ended", "Clicks", "Show More", "Show All"})

	for i := range recs {
		rec := &recs[i]
		id := "-"
		if rec.ID != nil {
			id = strconv.FormatInt(*rec.ID, 10)
		}
		ended := "open"
		if rec.TaskEndTime != nil {
			ended = rec.TaskEndTime.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{
			id,
			rec.TaskID,
			rec.TaskType,
			rec.TaskStartTime.Format(time.RFC3339),
			ended,
			len(rec.ClickSequence),
			len(rec.ShowMoreInteractions),
			len(rec.ShowAllInteractions),
		})
	}
	t.Render()
}

func renderClicks(w io.Writer, rec *remote.TaskRecord) {
	if len(rec.ClickSequence) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Order", "Page", "Position", "Source", "Dwell (s)", "Title"})

	for _, c := range rec.ClickSequence {
		source := "organic"
		switch {
		case c.FromOverview:
			source = "overview"
		case c.FromAIMode:
			source = "ai_mode"
		}
		dwell := "-"
		if c.DwellTimeSec != nil {
			dwell = strconv.FormatFloat(*c.DwellTimeSec, 'f', 1, 64)
		}
		t.AppendRow(table.Row{c.ClickOrder, c.PageID, c.PositionInSERP, source, dwell, c.PageTitle})
	}
	t.Render()
}
