// Package stitch is the boundary to the external image-stitching engine.
package stitch

import (
	"context"
	"errors"
	"fmt"
	"image"

	"image-stitcher/internal/domain"
)

var (
	// ErrNoOverlap means the engine found no sufficient match between inputs.
	ErrNoOverlap = errors.New("images do not overlap enough to be stitched")
	// ErrTooFewImages is returned when fewer than two inputs are supplied.
	ErrTooFewImages = errors.New("at least two images are required")
)

// Stitcher merges an ordered list of images into one composite.
type Stitcher interface {
	Stitch(ctx context.Context, images []image.Image, opts domain.StitchOptions) (image.Image, error)
}

// Func adapts an in-process function to Stitcher.
type Func func(ctx context.Context, images []image.Image, opts domain.StitchOptions) (image.Image, error)

// Stitch calls f.
func (f Func) Stitch(ctx context.Context, images []image.Image, opts domain.StitchOptions) (image.Image, error) {
	return f(ctx, images, opts)
}

// CommandLog captures one engine invocation.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// EngineError reports a failure the engine itself signalled.
type EngineError struct {
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats engine failures for logs.
func (e *EngineError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return "stitch: " + e.Message
	}
	return fmt.Sprintf("stitch: %s (cmd=%s exit=%d)", e.Message, e.CommandLog.Command, e.CommandLog.ExitCode)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *EngineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

var compensatorCatalog = []domain.CompensatorOption{
	{ID: domain.CompensatorNone, Name: "None", Description: "Keep source exposure. Best for flatbed scans."},
	{ID: domain.CompensatorGain, Name: "Gain", Description: "One gain per image."},
	{ID: domain.CompensatorGainBlocks, Name: "Gain (blocks)", Description: "Per-block gain, smooths uneven lighting."},
	{ID: domain.CompensatorChannel, Name: "Channel", Description: "Per-channel gain per image."},
	{ID: domain.CompensatorChannelBlocks, Name: "Channel (blocks)", Description: "Per-channel, per-block gain."},
}

// Compensators returns the selectable exposure compensators.
func Compensators() []domain.CompensatorOption {
	out := make([]domain.CompensatorOption, len(compensatorCatalog))
	copy(out, compensatorCatalog)
	return out
}

// ValidCompensator reports whether c is a known compensator.
func ValidCompensator(c domain.Compensator) bool {
	for _, option := range compensatorCatalog {
		if option.ID == c {
			return true
		}
	}
	return false
}

// DefaultOptions matches the affine scan stitcher's defaults.
func DefaultOptions() domain.StitchOptions {
	return domain.StitchOptions{Crop: true, Compensator: domain.CompensatorNone}
}
