package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"vidscribe/internal/runlog"
	"vidscribe/internal/source"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the history of pipeline runs",
	}

	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))

	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRunLog(func(store *runlog.Store) error {
				entries, err := store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOut {
					if entries == nil {
						entries = []runlog.Entry{}
					}
					return writeJSON(cmd, entries)
				}
				printRunEntries(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print runs as JSON")
	return cmd
}

func printRunEntries(out io.Writer, entries []runlog.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{
			shortID(entry.RunID),
			entry.SourceID,
			string(entry.Status),
			entry.Model,
			entry.StartedAt.Local().Format(stampLayout),
			entry.Duration().Round(time.Millisecond).String(),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Run", "Source", "Status", "Model", "Started", "Took"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var sourceRef string

	cmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show one run by id, unique id prefix, or source",
		Long: `Show one recorded run.

Pass a run id (or a unique prefix of one), or use --source with a URL or
local media path to show the most recent run for that source.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if sourceRef != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRunLog(func(store *runlog.Store) error {
				entry, err := lookupRun(cmd, store, sourceRef, args)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, entry)
				}
				printRunEntry(cmd.OutOrStdout(), entry)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the run as JSON")
	cmd.Flags().StringVar(&sourceRef, "source", "", "Show the latest run for this URL or media path")
	return cmd
}

func lookupRun(cmd *cobra.Command, store *runlog.Store, sourceRef string, args []string) (runlog.Entry, error) {
	if sourceRef == "" {
		return store.Get(cmd.Context(), args[0])
	}
	ref, err := source.Parse(sourceRef)
	if err != nil {
		return runlog.Entry{}, err
	}
	return store.LatestForSource(cmd.Context(), ref.ID)
}

func printRunEntry(out io.Writer, entry runlog.Entry) {
	fmt.Fprintf(out, "Run:      %s\n", entry.RunID)
	fmt.Fprintf(out, "Source:   %s (%s)\n", entry.SourceID, entry.SourceRef)
	fmt.Fprintf(out, "Status:   %s\n", entry.Status)
	fmt.Fprintf(out, "Model:    %s\n", entry.Model)
	fmt.Fprintf(out, "Cache:    %s\n", entry.CachePolicy)
	fmt.Fprintf(out, "Started:  %s\n", entry.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "Took:     %s\n", entry.Duration().Round(time.Millisecond))
	if entry.HandoffPath != "" {
		fmt.Fprintf(out, "Handoff:  %s\n", entry.HandoffPath)
	}
	if entry.SummaryPath != "" {
		fmt.Fprintf(out, "Summary:  %s\n", entry.SummaryPath)
	}
	if entry.FailedStage != "" {
		fmt.Fprintf(out, "Failed:   %s (%s): %s\n", entry.FailedStage, entry.ErrorKind, entry.Error)
	}
	if len(entry.Stages) == 0 {
		return
	}
	rows := make([][]string, 0, len(entry.Stages))
	for _, res := range entry.Stages {
		rows = append(rows, []string{res.Stage, string(res.Status), res.Duration.Round(time.Millisecond).String(), res.ErrorKind})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Stage", "Status", "Took", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	))
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
