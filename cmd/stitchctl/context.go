package main

import (
	"io"
	"log/slog"
	"strings"
	"sync"

	"image-stitcher/internal/config"
	"image-stitcher/internal/domain"
	"image-stitcher/internal/logging"
	"image-stitcher/internal/stitch"
)

// newStitcher builds the engine for a merge. Tests replace it.
var newStitcher = func(command string) stitch.Stitcher {
	return stitch.NewCommandStitcher(command)
}

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	settingsOnce sync.Once
	settings     domain.Settings
	settingsErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) settingsPath() string {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path
		}
	}
	return config.DefaultSettingsPath()
}

func (c *commandContext) ensureSettings() (domain.Settings, error) {
	c.settingsOnce.Do(func() {
		c.settings, c.settingsErr = config.NewTOMLStore(c.settingsPath()).Load()
		if c.settingsErr == nil && c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			c.settings.LogLevel = strings.TrimSpace(*c.logLevelFlag)
		}
	})
	return c.settings, c.settingsErr
}

// logger writes to w so command output and logs stay separable.
func (c *commandContext) logger(w io.Writer) *slog.Logger {
	settings, _ := c.ensureSettings()
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logging.ParseLevel(settings.LogLevel)}))
}
