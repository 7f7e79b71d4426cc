// Package diagnostics runs startup checks for the stitching engine and the
// directories the application writes to.
package diagnostics

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"image-stitcher/internal/domain"
	"image-stitcher/internal/stitch"
)

// Checker validates the external engine and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks. artifactDir is where previews and result
// copies are written.
func (c *Checker) Run(settings domain.Settings, artifactDir string) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkEngine(settings.StitchCommand),
		c.checkArtifactDir(artifactDir),
		c.checkFolder("last_used_folder", "Image folder", settings.LastUsedFolder),
		c.checkFolder("last_export_folder", "Export folder", settings.LastExportFolder),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkEngine verifies the stitching executable is resolvable.
func (c *Checker) checkEngine(command string) domain.DiagnosticItem {
	name := strings.TrimSpace(command)
	if name == "" {
		name = stitch.DefaultCommand
	}

	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      "engine",
			Name:    "Stitching engine",
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Stitching engine not found: %s", name),
			Hint:    "Install the stitching package (pip install stitching) or set the engine command in settings.",
		}
	}

	return domain.DiagnosticItem{
		ID:      "engine",
		Name:    "Stitching engine",
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkArtifactDir validates that temporary previews can be written.
func (c *Checker) checkArtifactDir(dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "artifact_dir",
		Name: "Temporary files",
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Temporary directory is not configured."
		item.Hint = "Restart the application."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create temporary directory: %s", dir)
		item.Hint = "Free disk space or adjust permissions of the system temporary directory."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Temporary directory is not writable: %s", dir)
		item.Hint = "Free disk space or adjust permissions of the system temporary directory."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// checkFolder warns when a remembered folder has disappeared. Dialogs then
// open in their platform default location.
func (c *Checker) checkFolder(id, name, dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: id, Name: name}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusPass
		item.Message = "No folder remembered yet."
		return item
	}

	info, err := c.stat(dir)
	switch {
	case err == nil && info.IsDir():
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Folder found: %s", dir)
	case err == nil:
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Remembered path is not a folder: %s", dir)
		item.Hint = "Pick a folder in the next file dialog."
	case errors.Is(err, os.ErrNotExist):
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Remembered folder no longer exists: %s", dir)
		item.Hint = "Pick a folder in the next file dialog."
	default:
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Cannot access remembered folder: %s", dir)
		item.Hint = "Check permissions for the folder."
	}
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
