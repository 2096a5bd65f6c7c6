package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"vidscribe/internal/config"
	"vidscribe/internal/handoff"
	"vidscribe/internal/logging"
	"vidscribe/internal/pipeline"
	"vidscribe/internal/preflight"
	"vidscribe/internal/services"
	"vidscribe/internal/stage"
)

// errRunIncomplete marks a run that finished without reaching complete.
var errRunIncomplete = errors.New("run did not complete")

func newRunCommand(ctx *commandContext) *cobra.Command {
	var skipCache bool
	var skipPreflight bool
	var outputJSON string
	var model string
	var language string
	var variant string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "run <source>",
		Short: "Fetch, transcribe, and write the handoff document for a video",
		Long: "Run the full pipeline for a video URL or local media file.\n" +
			"Cached stage outputs are reused unless --skip-cache is given. --variant docs\n" +
			"asks the agent for multi-page documentation instead of a single article.\n" +
			"The command exits non-zero unless every stage completes.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !skipPreflight {
				if err := requirePreflight(cmd.OutOrStdout(), cfg); err != nil {
					return err
				}
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			orch, closeFn, err := ctx.newPipeline(cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeFn(); err != nil {
					logger.Warn("run history close failed",
						logging.String(logging.FieldEventType, "runlog_close_failed"),
						logging.Error(err),
					)
				}
			}()

			run, runErr := orch.Run(cmd.Context(), args[0], pipeline.Options{
				Policy:     stage.PolicyFor(skipCache),
				Model:      model,
				Language:   language,
				Variant:    variant,
				OutputJSON: outputJSON,
			})
			if run == nil {
				return runErr
			}
			if jsonOut {
				if err := writeJSON(cmd, run); err != nil {
					return err
				}
			} else {
				printRun(cmd.OutOrStdout(), run)
			}
			if run.Status == stage.RunComplete {
				return nil
			}
			if runErr != nil {
				return fmt.Errorf("%w: %w", errRunIncomplete, runErr)
			}
			return fmt.Errorf("%w: status %s", errRunIncomplete, run.Status)
		},
	}

	cmd.Flags().BoolVar(&skipCache, "skip-cache", false, "Recompute every stage and overwrite cached outputs")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Do not check directories and external tools first")
	cmd.Flags().StringVar(&outputJSON, "output-json", "", "Also write the run summary to this path")
	cmd.Flags().StringVar(&model, "model", "", "Transcription model (defaults to transcription.model)")
	cmd.Flags().StringVar(&language, "language", "", "Force the spoken language instead of auto-detecting it")
	cmd.Flags().StringVar(&variant, "variant", "", "Handoff to write: article or docs (defaults to handoff.variant)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the run summary as JSON")
	return cmd
}

func requirePreflight(out io.Writer, cfg *config.Config) error {
	failed := preflight.Failed(preflight.RunAll(cfg))
	if len(failed) == 0 {
		return nil
	}
	for _, result := range failed {
		fmt.Fprintf(out, "preflight: %s: %s\n", result.Name, result.Detail)
	}
	return services.Wrap(services.ErrConfiguration, "", "preflight", "",
		fmt.Errorf("%d preflight check(s) failed; run `vidscribe check` for details", len(failed)))
}

func printRun(out io.Writer, run *pipeline.Run) {
	fmt.Fprintf(out, "Run:      %s\n", run.RunID)
	fmt.Fprintf(out, "Source:   %s (%s)\n", run.SourceID, run.SourceRef)
	fmt.Fprintf(out, "Model:    %s via %s\n", run.Model, run.Engine)
	fmt.Fprintf(out, "Status:   %s in %s\n", run.Status, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))

	rows := make([][]string, 0, len(run.Stages))
	for _, res := range run.Stages {
		detail := res.OutputRef
		if res.Failed() {
			detail = res.ErrorKind
			if res.Error != "" {
				detail += ": " + res.Error
			}
		}
		rows = append(rows, []string{res.Stage, string(res.Status), res.Duration.Round(time.Millisecond).String(), detail})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Stage", "Status", "Took", "Output"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	))

	if run.Transcript != nil {
		fmt.Fprintf(out, "Transcript: %d segments, %d words\n", run.Transcript.Segments, run.Transcript.Words)
	}
	if run.Handoff != nil {
		fmt.Fprintf(out, "Handoff:    %s\n", run.Handoff.Path)
		label := "Article:"
		if run.Handoff.Variant == handoff.VariantDocs {
			label = "Docs:"
		}
		fmt.Fprintf(out, "%-11s write JSON to %s\n", label, run.Handoff.ResponsePath)
	}
	if run.SummaryPath != "" {
		fmt.Fprintf(out, "Summary:    %s\n", run.SummaryPath)
	}
}
