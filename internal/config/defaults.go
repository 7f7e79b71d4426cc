package config

import (
	"os"
	"path/filepath"

	"image-stitcher/internal/domain"
	"image-stitcher/internal/imaging"
	"image-stitcher/internal/stitch"
)

// DefaultSettingsPath returns the settings file location under the user's home.
func DefaultSettingsPath() string {
	return filepath.Join(homeDir(), ".image-stitcher", "settings.toml")
}

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	opts := stitch.DefaultOptions()
	return domain.Settings{
		LastUsedFolder:   filepath.Join(homeDir(), "Pictures"),
		LastExportFolder: filepath.Join(homeDir(), "Pictures"),
		Crop:             opts.Crop,
		Compensator:      opts.Compensator,
		PreviewMaxEdge:   imaging.DefaultPreviewEdge,
		StitchCommand:    stitch.DefaultCommand,
		LogLevel:         "info",
		LogFormat:        "auto",
	}
}

// Normalize trims user input and restores defaults for empty or invalid values.
func Normalize(settings domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	settings.LastUsedFolder = trim(settings.LastUsedFolder)
	settings.LastExportFolder = trim(settings.LastExportFolder)
	settings.StitchCommand = trim(settings.StitchCommand)
	settings.LogLevel = trim(settings.LogLevel)
	settings.LogFormat = trim(settings.LogFormat)

	if !stitch.ValidCompensator(settings.Compensator) {
		settings.Compensator = defaults.Compensator
	}
	if settings.PreviewMaxEdge <= 0 {
		settings.PreviewMaxEdge = defaults.PreviewMaxEdge
	}
	if settings.StitchCommand == "" {
		settings.StitchCommand = defaults.StitchCommand
	}
	if settings.LogLevel == "" {
		settings.LogLevel = defaults.LogLevel
	}
	if settings.LogFormat == "" {
		settings.LogFormat = defaults.LogFormat
	}
	return settings
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
