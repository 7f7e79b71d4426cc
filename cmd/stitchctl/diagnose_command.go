package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"image-stitcher/internal/diagnostics"
	"image-stitcher/internal/domain"
	"image-stitcher/internal/failure"
	"image-stitcher/internal/stitch"
)

func newDiagnoseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Check the stitching engine and configured folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}

			report := diagnostics.NewChecker().Run(settings, os.TempDir())
			out := cmd.OutOrStdout()
			for _, item := range report.Items {
				fmt.Fprintf(out, "%-5s %-14s %s\n", item.Status, item.Name, item.Message)
				if item.Hint != "" && item.Status != domain.DiagnosticStatusPass {
					fmt.Fprintf(out, "      %s\n", item.Hint)
				}
			}
			if report.HasFailures {
				return errors.New("diagnostics reported failures")
			}
			return nil
		},
	}
}

func newCompensatorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compensators",
		Short: "List exposure compensators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, opt := range stitch.Compensators() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-15s %s\n", opt.ID, opt.Description)
			}
			return nil
		},
	}
}

// describe prefixes the failure category for terminal output.
func describe(err error) error {
	f := failure.Classify(err)
	return fmt.Errorf("%s: %s", f.Category, f.Message)
}
