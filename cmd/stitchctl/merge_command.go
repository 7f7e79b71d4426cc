package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"image-stitcher/internal/artifact"
	"image-stitcher/internal/domain"
	"image-stitcher/internal/imaging"
	"image-stitcher/internal/ingest"
	"image-stitcher/internal/merge"
	"image-stitcher/internal/stitch"
	"image-stitcher/internal/workflow"
)

func newMergeCommand(ctx *commandContext) *cobra.Command {
	var output string
	var noCrop bool
	var compensator string
	var engine string

	cmd := &cobra.Command{
		Use:   "merge <image|dir>...",
		Short: "Stitch images in the given order and export the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}

			opts := settings.StitchOptions()
			if noCrop {
				opts.Crop = false
			}
			if compensator != "" {
				opts.Compensator = domain.Compensator(strings.TrimSpace(compensator))
				if !stitch.ValidCompensator(opts.Compensator) {
					return fmt.Errorf("unknown compensator %q", compensator)
				}
			}
			command := settings.StitchCommand
			if strings.TrimSpace(engine) != "" {
				command = strings.TrimSpace(engine)
			}

			if !imaging.Accepts(output) {
				return fmt.Errorf("unsupported output extension %q", filepath.Ext(output))
			}

			paths, err := expandInputs(args)
			if err != nil {
				return err
			}

			artifacts, err := artifact.NewStore("")
			if err != nil {
				return err
			}
			logger := ctx.logger(cmd.ErrOrStderr())
			source := imaging.NewFileSource()
			orch := merge.New(merge.Config{
				Pipeline: ingest.NewPipeline(source, artifacts, ingest.Options{
					PreviewMaxEdge: settings.PreviewMaxEdge,
					Logger:         logger,
				}),
				Source:    source,
				Stitcher:  newStitcher(command),
				Artifacts: artifacts,
				Logger:    logger,
			})
			defer orch.Close()

			batch := orch.AddBatch(cmd.Context(), paths)
			for _, f := range batch.Failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %s\n", f.Path, f.Message)
			}

			machine := workflow.NewMachine()
			if err := machine.OnWorkingSetChanged(orch.Size()); err != nil {
				return err
			}
			if err := machine.OnMergeRequested(); err != nil {
				return fmt.Errorf("need at least two readable images, have %d", orch.Size())
			}

			result, mergeErr := orch.Merge(cmd.Context(), orch.NewRequest(opts))
			if err := finishMerge(machine, mergeErr == nil); err != nil {
				return errors.Join(err, mergeErr)
			}
			if mergeErr != nil {
				return describe(mergeErr)
			}
			if err := orch.Commit(result); err != nil {
				return err
			}
			if err := orch.Export(result, output); err != nil {
				return describe(err)
			}

			bounds := result.Image.Bounds()
			fmt.Fprintf(cmd.OutOrStdout(), "Stitched %d images into %s (%dx%d)\n", len(result.SourceIDs), output, bounds.Dx(), bounds.Dy())
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (.png, .jpg, .jpeg, .tif, .tiff)")
	cmd.Flags().BoolVar(&noCrop, "no-crop", false, "Keep the irregular border of the stitched image")
	cmd.Flags().StringVar(&compensator, "compensator", "", "Exposure compensator (no, gain, gain_blocks, channel, channel_blocks)")
	cmd.Flags().StringVar(&engine, "engine", "", "Stitching engine command")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

// finishMerge reports the merge outcome to m. A rejected transition means the
// command drove the machine out of order.
func finishMerge(m *workflow.Machine, succeeded bool) error {
	if err := m.OnMergeCompleted(succeeded); err != nil {
		return fmt.Errorf("complete merge: %w", err)
	}
	return nil
}

// expandInputs keeps file arguments in order and expands directories to
// their accepted images sorted by name.
func expandInputs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("path does not exist: %s", arg)
			}
			return nil, fmt.Errorf("inspect path: %w", err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("read directory: %w", err)
		}
		var found []string
		for _, entry := range entries {
			if entry.IsDir() || !imaging.Accepts(entry.Name()) {
				continue
			}
			found = append(found, filepath.Join(arg, entry.Name()))
		}
		sort.Strings(found)
		paths = append(paths, found...)
	}
	return paths, nil
}
