package stitch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"image-stitcher/internal/domain"
	"image-stitcher/internal/imaging"
)

// DefaultCommand is the engine executable looked up on PATH.
const DefaultCommand = "stitch"

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Started  bool
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Started: true,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.Started = false
		}
		return result, err
	}

	return result, nil
}

// CommandStitcher hands images to an external stitching executable through a
// temporary workspace of PNG files.
type CommandStitcher struct {
	command   string
	runner    commandRunner
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	writeFile func(name string, data []byte, perm os.FileMode) error
	readFile  func(name string) ([]byte, error)
}

// NewCommandStitcher constructs the production engine adapter.
func NewCommandStitcher(command string) *CommandStitcher {
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	return &CommandStitcher{
		command:   command,
		runner:    &execRunner{},
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		writeFile: os.WriteFile,
		readFile:  os.ReadFile,
	}
}

// Command returns the configured executable name.
func (s *CommandStitcher) Command() string {
	return s.command
}

// Stitch writes the inputs, runs the engine once and decodes its output.
func (s *CommandStitcher) Stitch(ctx context.Context, images []image.Image, opts domain.StitchOptions) (image.Image, error) {
	if len(images) < 2 {
		return nil, ErrTooFewImages
	}

	workDir, err := s.mkdirTemp("", "image-stitcher-engine-*")
	if err != nil {
		return nil, fmt.Errorf("create engine workspace: %w", err)
	}
	defer func() { _ = s.removeAll(workDir) }()

	inputs := make([]string, 0, len(images))
	for i, img := range images {
		data, err := imaging.Encode(img, "png")
		if err != nil {
			return nil, fmt.Errorf("prepare input %d: %w", i+1, err)
		}
		path := filepath.Join(workDir, fmt.Sprintf("input-%03d.png", i+1))
		if err := s.writeFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("write input %d: %w", i+1, err)
		}
		inputs = append(inputs, path)
	}

	outPath := filepath.Join(workDir, "result.png")
	args := buildStitchArgs(inputs, outPath, opts)

	cmdResult, runErr := s.runner.Run(ctx, s.command, args...)
	log := CommandLog{
		Command:  s.command,
		Args:     args,
		ExitCode: cmdResult.ExitCode,
		Stdout:   cmdResult.Stdout,
		Stderr:   cmdResult.Stderr,
	}
	if runErr != nil {
		if !cmdResult.Started {
			return nil, fmt.Errorf("start %s: %w", s.command, runErr)
		}
		if reportsNoOverlap(cmdResult.Stderr) || reportsNoOverlap(cmdResult.Stdout) {
			return nil, &EngineError{Message: "no sufficient overlap between images", CommandLog: log, Err: ErrNoOverlap}
		}
		return nil, &EngineError{Message: "stitching engine failed", CommandLog: log, Err: runErr}
	}

	data, err := s.readFile(outPath)
	if err != nil {
		return nil, &EngineError{Message: "engine completed but output file is missing", CommandLog: log, Err: err}
	}
	result, _, err := imaging.DecodeBytes(data)
	if err != nil {
		return nil, &EngineError{Message: "engine output is not a readable image", CommandLog: log, Err: err}
	}

	return result, nil
}

// buildStitchArgs builds the affine scan-stitching CLI invocation.
func buildStitchArgs(inputs []string, outPath string, opts domain.StitchOptions) []string {
	compensator := opts.Compensator
	if !ValidCompensator(compensator) {
		compensator = domain.CompensatorNone
	}

	args := []string{
		"--affine",
		"--compensator", string(compensator),
		"--output", outPath,
	}
	if !opts.Crop {
		args = append(args, "--no-crop")
	}
	return append(args, inputs...)
}

// reportsNoOverlap recognizes the engine's "not enough matches" diagnostics.
func reportsNoOverlap(output string) bool {
	text := strings.ToLower(output)
	for _, marker := range []string{"confidence threshold", "no match", "not enough", "need more images"} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// NewCommandStitcherForTests constructs an adapter with injectable dependencies.
func NewCommandStitcherForTests(
	command string,
	runner commandRunner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
) *CommandStitcher {
	return &CommandStitcher{
		command:   command,
		runner:    runner,
		mkdirTemp: mkdirTemp,
		removeAll: removeAll,
		writeFile: os.WriteFile,
		readFile:  os.ReadFile,
	}
}
