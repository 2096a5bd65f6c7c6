package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"vidscribe/internal/cachestore"
	"vidscribe/internal/services"
	"vidscribe/internal/source"
)

const stampLayout = "2006-01-02 15:04"

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the stage cache",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheInvalidateCommand(ctx))

	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache usage per namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.cacheStore()
			if err != nil {
				return err
			}
			stats, err := store.Stats()
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, stats)
			}
			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(stats.Namespaces))
			for _, ns := range stats.Namespaces {
				rows = append(rows, []string{string(ns.Namespace), fmt.Sprintf("%d", ns.Entries), humanBytes(ns.Bytes)})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Namespace", "Entries", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))
			fmt.Fprintf(out, "Root:  %s\n", stats.Root)
			fmt.Fprintf(out, "Total: %s\n", humanBytes(stats.TotalBytes))
			fmt.Fprintf(out, "Disk:  %s free (%.1f%%)\n", humanBytes(int64(stats.FreeBytes)), stats.FreeRatio*100)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print stats as JSON")
	return cmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list [namespace]",
		Short: "List cached records, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			namespaces := cachestore.Namespaces
			if len(args) == 1 {
				ns, err := cachestore.ParseNamespace(args[0])
				if err != nil {
					return err
				}
				namespaces = []cachestore.Namespace{ns}
			}
			store, err := ctx.cacheStore()
			if err != nil {
				return err
			}
			var entries []cachestore.Entry
			for _, ns := range namespaces {
				nsEntries, err := store.Entries(ns)
				if err != nil {
					return err
				}
				entries = append(entries, nsEntries...)
			}
			if jsonOut {
				if entries == nil {
					entries = []cachestore.Entry{}
				}
				return writeJSON(cmd, entries)
			}
			printCacheEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print entries as JSON")
	return cmd
}

func printCacheEntries(out io.Writer, entries []cachestore.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No cached records")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		param := entry.Param
		if param == "" {
			param = "-"
		}
		rows = append(rows, []string{
			string(entry.Namespace),
			entry.ID,
			param,
			humanBytes(entry.SizeBytes + entry.BlobBytes),
			entry.ModifiedAt.Local().Format(stampLayout),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Namespace", "Source", "Model", "Size", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
}

func newCacheInvalidateCommand(ctx *commandContext) *cobra.Command {
	var namespace string
	var model string

	cmd := &cobra.Command{
		Use:   "invalidate <source>",
		Short: "Drop cached records for a source so the next run recomputes them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := source.Parse(args[0])
			if err != nil {
				return err
			}
			var nsFilter cachestore.Namespace
			if strings.TrimSpace(namespace) != "" {
				if nsFilter, err = cachestore.ParseNamespace(namespace); err != nil {
					return err
				}
			}
			store, err := ctx.cacheStore()
			if err != nil {
				return err
			}
			entries, err := store.EntriesForSource(ref.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			removed := 0
			for _, entry := range entries {
				if !matchesInvalidateFilter(entry, nsFilter, model) {
					continue
				}
				if err := store.Invalidate(entry.Key); err != nil {
					if errors.Is(err, services.ErrNotFound) {
						continue
					}
					return err
				}
				fmt.Fprintf(out, "Removed %s\n", entry.Key)
				removed++
			}
			if removed == 0 {
				fmt.Fprintf(out, "No cached records for %s\n", ref.ID)
				return nil
			}
			fmt.Fprintf(out, "Removed %d record(s) for %s\n", removed, ref.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&namespace, "namespace", "", "Only drop records in this namespace (media or transcript)")
	cmd.Flags().StringVar(&model, "model", "", "Only drop transcripts made with this model")
	return cmd
}

// matchesInvalidateFilter applies the namespace and model filters. A model
// filter matches the bare model and any language-forced variant of it.
func matchesInvalidateFilter(entry cachestore.Entry, ns cachestore.Namespace, model string) bool {
	if ns != "" && entry.Namespace != ns {
		return false
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return true
	}
	if entry.Namespace != cachestore.NamespaceTranscript {
		return false
	}
	return entry.Param == model || strings.HasPrefix(entry.Param, model+"@")
}

func humanBytes(v int64) string {
	const unit = 1024
	if v < unit {
		return fmt.Sprintf("%d B", v)
	}
	div := int64(unit)
	exp := 0
	for n := v / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	value := float64(v) / float64(div)
	return fmt.Sprintf("%.1f %ciB", value, "KMGTPEZY"[exp])
}
