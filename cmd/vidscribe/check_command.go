package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vidscribe/internal/preflight"
	"vidscribe/internal/stage"
)

type checkReport struct {
	Checks        []preflight.Result `json:"checks"`
	Collaborators []stage.Health     `json:"collaborators"`
}

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify directories and external tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report := checkReport{Checks: preflight.RunAll(cfg)}
			for _, collaborator := range []healthChecker{newFetcher(cfg), newTranscriber(cfg)} {
				report.Collaborators = append(report.Collaborators, collaborator.HealthCheck(cmd.Context()))
			}

			failures := len(preflight.Failed(report.Checks))
			for _, health := range report.Collaborators {
				if !health.Ready {
					failures++
				}
			}

			if jsonOut {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(report.Checks)+len(report.Collaborators))
				for _, result := range report.Checks {
					rows = append(rows, []string{result.Name, passLabel(result.Passed), result.Detail})
				}
				for _, health := range report.Collaborators {
					rows = append(rows, []string{"Stage " + health.Name, passLabel(health.Ready), health.Detail})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Status", "Detail"}, rows, nil))
			}
			if failures > 0 {
				return fmt.Errorf("%d check(s) failed", failures)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print results as JSON")
	return cmd
}

func passLabel(passed bool) string {
	if passed {
		return "ok"
	}
	return "FAIL"
}
