package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"image-stitcher/internal/config"
	"image-stitcher/internal/domain"
)

var (
	errManualFix         = errors.New("diagnostic cannot be fixed automatically")
	errUnknownDiagnostic = errors.New("unsupported diagnostic item id")
)

// FixDiagnostic applies a remediation for one failed or warning diagnostic item.
func (a *App) FixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	var settings domain.Settings
	var fixErr error
	err := a.Store.Update(func(stored *domain.Settings) error {
		*stored = config.Normalize(*stored)
		defaults := config.DefaultSettings()

		switch id {
		case "last_used_folder":
			stored.LastUsedFolder, fixErr = fixFolder(stored.LastUsedFolder, defaults.LastUsedFolder)
		case "last_export_folder":
			stored.LastExportFolder, fixErr = fixFolder(stored.LastExportFolder, defaults.LastExportFolder)
		case "engine":
			fixErr = fmt.Errorf("%w: install %q or point stitchCommand at the engine", errManualFix, stored.StitchCommand)
		case "artifact_dir":
			fixErr = fmt.Errorf("%w: free space or permissions under %s", errManualFix, a.artifactDir)
		default:
			return fmt.Errorf("%w: %s", errUnknownDiagnostic, id)
		}
		settings = *stored
		return nil
	})
	if errors.Is(err, errUnknownDiagnostic) {
		return domain.DiagnosticReport{}, err
	}
	if err != nil {
		return a.GetDiagnostics(), fmt.Errorf("save settings after fix: %w", err)
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	if fixErr != nil {
		return report, fixErr
	}
	return report, nil
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings, a.artifactDir)
	}
	return a.Diagnostics
}

// fixFolder creates dir, falling back to fallback when dir is unset or is a file.
func fixFolder(dir, fallback string) (string, error) {
	target := strings.TrimSpace(dir)
	if target == "" {
		target = fallback
	} else if info, err := os.Stat(target); err == nil && !info.IsDir() {
		target = fallback
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return target, fmt.Errorf("create folder %s: %w", target, err)
	}
	return target, nil
}
