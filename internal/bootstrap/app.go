package bootstrap

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"image-stitcher/internal/artifact"
	"image-stitcher/internal/config"
	"image-stitcher/internal/diagnostics"
	"image-stitcher/internal/domain"
	"image-stitcher/internal/failure"
	"image-stitcher/internal/imaging"
	"image-stitcher/internal/ingest"
	"image-stitcher/internal/logging"
	"image-stitcher/internal/merge"
	"image-stitcher/internal/stitch"
	"image-stitcher/internal/workflow"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

const eventName = "workflow:event"

var imageDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Images",
		Pattern:     extensionPattern(imaging.AcceptedExtensions),
	},
}

var exportDialogFilter = []wailsruntime.FileFilter{
	{DisplayName: "PNG image", Pattern: "*.png"},
	{DisplayName: "JPEG image", Pattern: "*.jpg;*.jpeg"},
	{DisplayName: "TIFF image", Pattern: "*.tif;*.tiff"},
}

// preferences persists the dialog folders between sessions.
type preferences interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// App wires configuration, the merge workflow and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	logger      *slog.Logger
	logCloser   io.Closer
	prefs       preferences
	artifactDir string

	loop   *workflow.Loop
	events *workflow.EventBus

	// Only touched from the control loop.
	machine     *workflow.Machine
	merger      *merge.Orchestrator
	lastFailure *domain.CategorizedFailure
	closing     bool

	lifetime  context.Context
	stop      context.CancelFunc
	merges    sync.WaitGroup
	closeOnce sync.Once

	mu         sync.Mutex
	runtimeCtx context.Context
}

type appConfig struct {
	settings    domain.Settings
	store       config.Store
	merger      *merge.Orchestrator
	checker     *diagnostics.Checker
	logger      *slog.Logger
	artifactDir string
}

func newApp(cfg appConfig) *App {
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	lifetime, stop := context.WithCancel(context.Background())

	a := &App{
		Settings:    cfg.settings,
		Store:       cfg.store,
		checker:     cfg.checker,
		logger:      logger,
		prefs:       config.NewPreferences(cfg.store),
		artifactDir: cfg.artifactDir,
		loop:        workflow.NewLoop(),
		events:      workflow.NewEventBus(1000),
		machine:     workflow.NewMachine(),
		merger:      cfg.merger,
		lifetime:    lifetime,
		stop:        stop,
	}
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(cfg.settings, cfg.artifactDir)
	}
	return a
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	store := config.NewTOMLStore(config.DefaultSettingsPath())
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:  settings.LogLevel,
		Format: settings.LogFormat,
		Path:   filepath.Join(filepath.Dir(store.Path()), "stitcher.log"),
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	artifacts, err := artifact.NewStore("")
	if err != nil {
		_ = logCloser.Close()
		return nil, err
	}

	source := imaging.NewFileSource()
	pipeline := ingest.NewPipeline(source, artifacts, ingest.Options{
		PreviewMaxEdge: settings.PreviewMaxEdge,
		Logger:         logger,
	})

	// The engine command is read per merge so saved settings apply immediately.
	var app *App
	engine := stitch.Func(func(ctx context.Context, images []image.Image, opts domain.StitchOptions) (image.Image, error) {
		return stitch.NewCommandStitcher(app.currentSettings().StitchCommand).Stitch(ctx, images, opts)
	})

	app = newApp(appConfig{
		settings: settings,
		store:    store,
		merger: merge.New(merge.Config{
			Pipeline:  pipeline,
			Source:    source,
			Stitcher:  engine,
			Artifacts: artifacts,
			Logger:    logger,
		}),
		checker:     diagnostics.NewChecker(),
		logger:      logger,
		artifactDir: artifacts.Dir(),
	})
	app.assets = assets
	app.logCloser = logCloser

	logger.Info("application initialized",
		"settings", store.Path(),
		"artifacts", artifacts.Dir(),
		"engine", settings.StitchCommand,
	)
	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Image Stitcher",
		Width:       1180,
		Height:      780,
		MinWidth:    900,
		MinHeight:   600,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown detaches the runtime and releases session resources.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()

	if err := a.Close(); err != nil {
		a.logger.Warn("close application", "error", err)
	}
}

// Close refuses new merges, waits for an in-flight merge to settle and
// removes every transient artifact. It is safe to call more than once.
func (a *App) Close() error {
	var closeErr error
	a.closeOnce.Do(func() {
		_ = a.loop.Do(func() { a.closing = true })
		a.stop()
		a.merges.Wait()

		if err := a.loop.Do(func() { closeErr = a.merger.Close() }); err != nil {
			closeErr = err
		}
		a.loop.Close()

		if a.logCloser != nil {
			if err := a.logCloser.Close(); err != nil && closeErr == nil {
				closeErr = err
			}
		}
	})
	return closeErr
}

// GetState returns the current workflow snapshot.
func (a *App) GetState() (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := a.loop.Do(func() { snap = a.snapshot() })
	return snap, err
}

// Events returns all events with sequence greater than sinceSeq.
func (a *App) Events(sinceSeq int64) []workflow.Event {
	return a.events.Since(sinceSeq)
}

// PickImages opens a multi-select dialog and adds the chosen files.
func (a *App) PickImages() (ingest.Batch, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return ingest.Batch{}, err
	}

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:            "Select images to stitch",
		DefaultDirectory: a.existingFolder(config.KeyLastUsedFolder),
		Filters:          imageDialogFilter,
	})
	if err != nil {
		return ingest.Batch{}, err
	}
	if len(paths) == 0 {
		return ingest.Batch{}, nil
	}

	a.rememberFolder(config.KeyLastUsedFolder, filepath.Dir(paths[0]))
	return a.AddImages(paths)
}

// AddImages validates paths off the control loop, then appends the accepted
// images in selection order.
func (a *App) AddImages(paths []string) (ingest.Batch, error) {
	if len(paths) == 0 {
		return ingest.Batch{}, nil
	}

	batch := a.merger.Prepare(a.lifetime, paths)
	err := a.loop.Do(func() {
		batch = a.merger.Register(batch)
		if len(batch.Images) > 0 {
			a.workingSetChanged()
		}
		for _, f := range batch.Failures {
			a.fail(f)
		}
	})
	if err != nil {
		return ingest.Batch{}, err
	}
	return batch, nil
}

// RemoveImage drops one image from the working set.
func (a *App) RemoveImage(id string) error {
	var removeErr error
	if err := a.loop.Do(func() {
		if removeErr = a.merger.Remove(id); removeErr != nil {
			return
		}
		a.workingSetChanged()
	}); err != nil {
		return err
	}
	return removeErr
}

// RequestMerge starts a merge of the current working set in the background.
// The returned error is a contract violation: the UI only offers merging
// when the snapshot says CanMerge.
func (a *App) RequestMerge() error {
	var reqErr error
	if err := a.loop.Do(func() {
		if a.closing {
			reqErr = workflow.ErrLoopClosed
			return
		}
		if reqErr = a.machine.OnMergeRequested(); reqErr != nil {
			return
		}

		req := a.merger.NewRequest(a.currentSettings().StitchOptions())
		a.lastFailure = nil
		a.publishState()
		a.logger.Info("merge requested", "inputs", len(req.Images), "generation", req.Generation)

		a.merges.Add(1)
		go a.runMerge(req)
	}); err != nil {
		return err
	}
	return reqErr
}

// PickExportPath opens a save dialog in the last export folder.
func (a *App) PickExportPath() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.SaveFileDialog(ctx, wailsruntime.SaveDialogOptions{
		Title:            "Save stitched image",
		DefaultDirectory: a.existingFolder(config.KeyLastExportFolder),
		DefaultFilename:  "stitched.png",
		Filters:          exportDialogFilter,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// ExportResult writes the live result to path. A categorized failure is
// returned when the export did not happen; the live result is kept either way.
func (a *App) ExportResult(path string) (*domain.CategorizedFailure, error) {
	var result *merge.Result
	if err := a.loop.Do(func() { result, _ = a.merger.Result() }); err != nil {
		return nil, err
	}

	if err := a.merger.Export(result, path); err != nil {
		categorized := failure.Classify(err)
		if loopErr := a.loop.Do(func() { a.fail(categorized) }); loopErr != nil {
			return nil, loopErr
		}
		return &categorized, nil
	}

	a.rememberFolder(config.KeyLastExportFolder, filepath.Dir(path))
	return nil, nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.refreshDiagnosticsFromSettings(normalized)
	return normalized, nil
}

// SaveStitchOptions persists only the engine options, leaving the remembered
// folders as they are on disk.
func (a *App) SaveStitchOptions(opts domain.StitchOptions) (domain.Settings, error) {
	if !stitch.ValidCompensator(opts.Compensator) {
		return domain.Settings{}, fmt.Errorf("unknown compensator %q", opts.Compensator)
	}

	var saved domain.Settings
	if err := a.Store.Update(func(settings *domain.Settings) error {
		settings.Crop = opts.Crop
		settings.Compensator = opts.Compensator
		saved = *settings
		return nil
	}); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = saved
	a.mu.Unlock()
	return saved, nil
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns the startup checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	return a.refreshDiagnosticsFromSettings(settings), nil
}

// GetCompensatorOptions lists the exposure compensators the engine accepts.
func (a *App) GetCompensatorOptions() []domain.CompensatorOption {
	return stitch.Compensators()
}

// PreviewDataURL returns a displayable data URL for a preview path. Only
// session artifacts and working-set sources are served.
func (a *App) PreviewDataURL(path string) (string, error) {
	allowed := false
	if err := a.loop.Do(func() { allowed = a.merger.Serves(path) }); err != nil {
		return "", err
	}
	if !allowed {
		return "", fmt.Errorf("preview %s is not part of this session", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read preview: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("preview %s is not an image", path)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// OpenFolder opens the given path (or the last export folder) in the file manager.
func (a *App) OpenFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		target, _ = a.prefs.Get(config.KeyLastExportFolder)
	}
	if target == "" {
		return fmt.Errorf("folder path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve folder path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// runMerge stitches off the loop and hands the outcome back to it.
func (a *App) runMerge(req merge.Request) {
	defer a.merges.Done()

	result, err := a.merger.Merge(a.lifetime, req)
	if postErr := a.loop.Post(func() { a.completeMerge(result, err) }); postErr != nil {
		a.merger.Discard(result)
	}
}

// completeMerge runs on the loop.
func (a *App) completeMerge(result *merge.Result, err error) {
	if err != nil {
		a.merger.Discard(result)
		a.transition(a.machine.OnMergeCompleted(false))
		a.fail(failure.Classify(err))
		a.publishState()
		return
	}

	if commitErr := a.merger.Commit(result); commitErr != nil {
		a.transition(a.machine.OnMergeCompleted(false))
		a.fail(failure.Classify(commitErr))
		a.publishState()
		return
	}

	a.transition(a.machine.OnMergeCompleted(true))
	a.publishResult()
	a.publishState()
}

// workingSetChanged runs on the loop after every add or remove.
func (a *App) workingSetChanged() {
	a.transition(a.machine.OnWorkingSetChanged(a.merger.Size()))
	a.publish(workflow.Event{
		Type:   workflow.EventTypeImages,
		Images: a.merger.Images(),
	})
	a.publishResult()
	a.publishState()
}

// transition logs machine rejections that indicate a wiring bug.
func (a *App) transition(err error) {
	if err != nil {
		a.logger.Error("workflow transition rejected", "state", a.machine.State(), "error", err)
	}
}

// fail records a failure as the latest one and pushes it to the UI.
func (a *App) fail(f domain.CategorizedFailure) {
	a.lastFailure = &f
	a.logger.Warn("operation failed", "category", f.Category, "path", f.Path, "message", f.Message)
	a.publish(workflow.Event{
		Type:    workflow.EventTypeFailure,
		Failure: &f,
		Message: f.Message,
	})
}

func (a *App) publishState() {
	a.publish(workflow.Event{
		Type:  workflow.EventTypeState,
		State: a.machine.State(),
	})
}

func (a *App) publishResult() {
	result, ok := a.merger.Result()
	if !ok {
		return
	}
	summary := result.Summary(a.merger.Dirty())
	a.publish(workflow.Event{
		Type:   workflow.EventTypeResult,
		Result: &summary,
	})
}

// snapshot runs on the loop.
func (a *App) snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		State:       a.machine.State(),
		Size:        a.merger.Size(),
		CanMerge:    a.machine.CanMerge(),
		Images:      a.merger.Images(),
		LastFailure: a.lastFailure,
	}
	if result, ok := a.merger.Result(); ok {
		summary := result.Summary(a.merger.Dirty())
		snap.Result = &summary
	}
	return snap
}

// publish stores event history and emits runtime push notifications.
func (a *App) publish(event workflow.Event) {
	if event.Size == 0 {
		event.Size = a.merger.Size()
	}
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, eventName, published)
	}
}

func (a *App) currentSettings() domain.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Settings
}

// existingFolder returns the remembered folder for key if it still exists.
func (a *App) existingFolder(key string) string {
	dir, ok := a.prefs.Get(key)
	if !ok {
		return ""
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return ""
	}
	return dir
}

func (a *App) rememberFolder(key, dir string) {
	if err := a.prefs.Set(key, dir); err != nil {
		a.logger.Warn("remember folder", "key", key, "error", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	switch key {
	case config.KeyLastUsedFolder:
		a.Settings.LastUsedFolder = dir
	case config.KeyLastExportFolder:
		a.Settings.LastExportFolder = dir
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, errors.New("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// extensionPattern builds a dialog pattern accepting both letter cases.
func extensionPattern(exts []string) string {
	patterns := make([]string, 0, len(exts)*2)
	for _, ext := range exts {
		lower := strings.ToLower(strings.TrimPrefix(ext, "."))
		patterns = append(patterns, "*."+lower, "*."+strings.ToUpper(lower))
	}
	return strings.Join(patterns, ";")
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
