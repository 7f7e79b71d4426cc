package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"image-stitcher/internal/artifact"
	"image-stitcher/internal/domain"
	"image-stitcher/internal/imaging"
	"image-stitcher/internal/ingest"
	"image-stitcher/internal/merge"
	"image-stitcher/internal/stitch"
	"image-stitcher/internal/workflow"
)

// fakeStore keeps settings in memory for App tests.
type fakeStore struct {
	mu       sync.Mutex
	settings domain.Settings
}

// Load returns the stored settings.
func (s *fakeStore) Load() (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

// Save replaces the stored settings.
func (s *fakeStore) Save(settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}

// Update applies fn under the store lock.
func (s *fakeStore) Update(fn func(*domain.Settings) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.settings
	if err := fn(&next); err != nil {
		return err
	}
	s.settings = next
	return nil
}

// sideBySide is a deterministic engine that places inputs left to right.
func sideBySide(ctx context.Context, images []image.Image, opts domain.StitchOptions) (image.Image, error) {
	width, height := 0, 0
	for _, img := range images {
		width += img.Bounds().Dx()
		height = max(height, img.Bounds().Dy())
	}
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	x := 0
	for _, img := range images {
		b := img.Bounds()
		draw.Draw(out, image.Rect(x, 0, x+b.Dx(), b.Dy()), img, b.Min, draw.Src)
		x += b.Dx()
	}
	return out, nil
}

// newTestApp wires an App around engine with real ingestion and artifacts.
func newTestApp(t *testing.T, engine stitch.Stitcher) (*App, *fakeStore) {
	t.Helper()
	artifacts, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source := imaging.NewFileSource()
	store := &fakeStore{settings: domain.Settings{Crop: true, Compensator: domain.CompensatorNone}}
	app := newApp(appConfig{
		settings: store.settings,
		store:    store,
		merger: merge.New(merge.Config{
			Pipeline:  ingest.NewPipeline(source, artifacts, ingest.Options{PreviewMaxEdge: 32, Logger: logger}),
			Source:    source,
			Stitcher:  engine,
			Artifacts: artifacts,
			Logger:    logger,
		}),
		logger:      logger,
		artifactDir: artifacts.Dir(),
	})
	t.Cleanup(func() { _ = app.Close() })
	return app, store
}

// writeImage stores a solid 40x20 image under dir.
func writeImage(t *testing.T, dir, name string, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	data, err := imaging.EncodeForPath(img, name)
	if err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// TestAddImagesDrivesReadiness checks the state follows the working-set size.
func TestAddImagesDrivesReadiness(t *testing.T) {
	app, _ := newTestApp(t, stitch.Func(sideBySide))
	dir := t.TempDir()

	if _, err := app.AddImages([]string{writeImage(t, dir, "a.png", color.White)}); err != nil {
		t.Fatalf("add first: %v", err)
	}
	snap := mustState(t, app)
	if snap.State != domain.StateInsufficientImages || snap.CanMerge {
		t.Fatalf("state = %s canMerge=%v, want %s and false", snap.State, snap.CanMerge, domain.StateInsufficientImages)
	}

	if _, err := app.AddImages([]string{writeImage(t, dir, "b.jpg", color.Black)}); err != nil {
		t.Fatalf("add second: %v", err)
	}
	snap = mustState(t, app)
	if snap.State != domain.StateReadyToMerge || !snap.CanMerge {
		t.Fatalf("state = %s canMerge=%v, want %s and true", snap.State, snap.CanMerge, domain.StateReadyToMerge)
	}
	if snap.Size != 2 || len(snap.Images) != 2 {
		t.Fatalf("size = %d images = %d, want 2", snap.Size, len(snap.Images))
	}

	if err := app.RemoveImage(snap.Images[0].ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := mustState(t, app).State; got != domain.StateInsufficientImages {
		t.Fatalf("state after remove = %s, want %s", got, domain.StateInsufficientImages)
	}

	assertEventTypeExists(t, app.Events(0), workflow.EventTypeImages)
	assertEventTypeExists(t, app.Events(0), workflow.EventTypeState)
}

// TestAddImagesReportsBadImage checks corrupt files are reported and skipped.
func TestAddImagesReportsBadImage(t *testing.T) {
	app, _ := newTestApp(t, stitch.Func(sideBySide))
	dir := t.TempDir()
	bad := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(bad, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write broken file: %v", err)
	}

	batch, err := app.AddImages([]string{bad, writeImage(t, dir, "ok.png", color.White)})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(batch.Images) != 1 || len(batch.Failures) != 1 {
		t.Fatalf("batch = %d images %d failures, want 1 and 1", len(batch.Images), len(batch.Failures))
	}

	snap := mustState(t, app)
	if snap.LastFailure == nil || snap.LastFailure.Category != domain.CategoryBadImage {
		t.Fatalf("last failure = %+v, want %s", snap.LastFailure, domain.CategoryBadImage)
	}
	if snap.State != domain.StateInsufficientImages {
		t.Fatalf("state = %s, want %s", snap.State, domain.StateInsufficientImages)
	}
	assertEventTypeExists(t, app.Events(0), workflow.EventTypeFailure)
}

// TestAddImagesPublishesEveryFailure checks each rejected file gets its own event.
func TestAddImagesPublishesEveryFailure(t *testing.T) {
	app, _ := newTestApp(t, stitch.Func(sideBySide))
	dir := t.TempDir()
	var bad []string
	for _, name := range []string{"one.png", "two.jpg", "three.tif"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		bad = append(bad, path)
	}

	batch, err := app.AddImages(bad)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(batch.Failures) != len(bad) {
		t.Fatalf("failures = %d, want %d", len(batch.Failures), len(bad))
	}

	seen := map[string]bool{}
	for _, event := range app.Events(0) {
		if event.Type == workflow.EventTypeFailure && event.Failure != nil {
			seen[event.Failure.Path] = true
		}
	}
	for _, f := range batch.Failures {
		if !seen[f.Path] {
			t.Fatalf("no failure event for %s", f.Path)
		}
	}
	if len(seen) != len(bad) {
		t.Fatalf("failure events = %d, want %d", len(seen), len(bad))
	}
}

// TestSaveStitchOptionsKeepsRememberedFolders checks option saves never clobber folders.
func TestSaveStitchOptionsKeepsRememberedFolders(t *testing.T) {
	app, store := newTestApp(t, stitch.Func(sideBySide))
	if err := app.prefs.Set("lastUsedFolder", "/scans"); err != nil {
		t.Fatalf("set folder: %v", err)
	}

	saved, err := app.SaveStitchOptions(domain.StitchOptions{Crop: false, Compensator: domain.CompensatorGain})
	if err != nil {
		t.Fatalf("save options: %v", err)
	}
	if saved.Crop || saved.Compensator != domain.CompensatorGain {
		t.Fatalf("saved = %+v, want crop off and gain", saved)
	}
	stored, _ := store.Load()
	if stored.LastUsedFolder != "/scans" {
		t.Fatalf("LastUsedFolder = %q, want /scans", stored.LastUsedFolder)
	}

	if _, err := app.SaveStitchOptions(domain.StitchOptions{Compensator: "bogus"}); err == nil {
		t.Fatal("expected error for unknown compensator")
	}
}

// TestRequestMergeRejectedBelowTwoImages checks the merge gate.
func TestRequestMergeRejectedBelowTwoImages(t *testing.T) {
	app, _ := newTestApp(t, stitch.Func(sideBySide))
	if err := app.RequestMerge(); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("empty merge error = %v, want %v", err, workflow.ErrInvalidTransition)
	}

	if _, err := app.AddImages([]string{writeImage(t, t.TempDir(), "a.png", color.White)}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := app.RequestMerge(); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("single merge error = %v, want %v", err, workflow.ErrInvalidTransition)
	}
}

// TestRequestMergePublishesResult checks the happy path end to end.
func TestRequestMergePublishesResult(t *testing.T) {
	app, _ := newTestApp(t, stitch.Func(sideBySide))
	dir := t.TempDir()
	paths := []string{writeImage(t, dir, "a.png", color.White), writeImage(t, dir, "b.tif", color.Black)}
	if _, err := app.AddImages(paths); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := app.RequestMerge(); err != nil {
		t.Fatalf("request merge: %v", err)
	}
	snap := waitForState(t, app, domain.StateMergeSucceeded)
	if snap.Result == nil {
		t.Fatal("expected result")
	}
	if snap.Result.Width != 80 || snap.Result.Height != 20 {
		t.Fatalf("result = %dx%d, want 80x20", snap.Result.Width, snap.Result.Height)
	}
	if snap.Result.Dirty {
		t.Fatal("fresh result must not be dirty")
	}
	if _, err := os.Stat(snap.Result.PreviewPath); err != nil {
		t.Fatalf("stat preview: %v", err)
	}
	if !snap.CanMerge {
		t.Fatal("expected retry to be allowed after success")
	}
	assertEventTypeExists(t, app.Events(0), workflow.EventTypeResult)

	url, err := app.PreviewDataURL(snap.Result.PreviewPath)
	if err != nil {
		t.Fatalf("preview url: %v", err)
	}
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Fatalf("preview url prefix = %.30q", url)
	}
	if _, err := app.PreviewDataURL(filepath.Join(dir, "elsewhere.png")); err == nil {
		t.Fatal("expected error for path outside the session")
	}
}

// TestRequestMergeSingleInFlight checks a second request is refused while merging.
func TestRequestMergeSingleInFlight(t *testing.T) {
	gate := make(chan struct{})
	app, _ := newTestApp(t, stitch.Func(func(ctx context.Context, images []image.Image, opts domain.StitchOptions) (image.Image, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return sideBySide(ctx, images, opts)
	}))
	dir := t.TempDir()
	paths := []string{
		writeImage(t, dir, "a.png", color.White),
		writeImage(t, dir, "b.png", color.Black),
		writeImage(t, dir, "c.png", color.White),
	}
	if _, err := app.AddImages(paths); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := app.RequestMerge(); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := app.RequestMerge(); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("second request error = %v, want %v", err, workflow.ErrInvalidTransition)
	}

	snap := mustState(t, app)
	if snap.State != domain.StateMerging || snap.CanMerge {
		t.Fatalf("state = %s canMerge=%v, want merging and false", snap.State, snap.CanMerge)
	}
	if err := app.RemoveImage(snap.Images[2].ID); err != nil {
		t.Fatalf("remove during merge: %v", err)
	}
	if got := mustState(t, app).State; got != domain.StateMerging {
		t.Fatalf("state after remove = %s, want %s", got, domain.StateMerging)
	}

	close(gate)
	snap = waitForState(t, app, domain.StateMergeSucceeded)
	if snap.Result == nil || snap.Result.Width != 120 {
		t.Fatalf("result = %+v, want the three-image snapshot", snap.Result)
	}
	if !snap.Result.Dirty {
		t.Fatal("result must be dirty after the working set changed")
	}
	if snap.Size != 2 {
		t.Fatalf("size = %d, want 2", snap.Size)
	}
}

// TestEngineFailureAllowsRetry checks failure categorization and retry.
func TestEngineFailureAllowsRetry(t *testing.T) {
	var calls atomic.Int32
	app, _ := newTestApp(t, stitch.Func(func(ctx context.Context, images []image.Image, opts domain.StitchOptions) (image.Image, error) {
		if calls.Add(1) == 1 {
			return nil, fmt.Errorf("estimate transforms: %w", stitch.ErrNoOverlap)
		}
		return sideBySide(ctx, images, opts)
	}))
	dir := t.TempDir()
	if _, err := app.AddImages([]string{writeImage(t, dir, "a.png", color.White), writeImage(t, dir, "b.png", color.Black)}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := app.RequestMerge(); err != nil {
		t.Fatalf("request merge: %v", err)
	}
	snap := waitForState(t, app, domain.StateMergeFailed)
	if snap.LastFailure == nil || snap.LastFailure.Category != domain.CategoryStitchingFailed {
		t.Fatalf("last failure = %+v, want %s", snap.LastFailure, domain.CategoryStitchingFailed)
	}
	if snap.Size != 2 || snap.Result != nil {
		t.Fatalf("size = %d result = %+v, want working set kept and no result", snap.Size, snap.Result)
	}

	if err := app.RequestMerge(); err != nil {
		t.Fatalf("retry: %v", err)
	}
	snap = waitForState(t, app, domain.StateMergeSucceeded)
	if snap.LastFailure != nil {
		t.Fatalf("last failure = %+v, want cleared by retry", snap.LastFailure)
	}
}

// TestExportResult checks export failures keep the result and success is remembered.
func TestExportResult(t *testing.T) {
	app, store := newTestApp(t, stitch.Func(sideBySide))
	dir := t.TempDir()
	if _, err := app.AddImages([]string{writeImage(t, dir, "a.png", color.White), writeImage(t, dir, "b.png", color.Black)}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := app.RequestMerge(); err != nil {
		t.Fatalf("request merge: %v", err)
	}
	waitForState(t, app, domain.StateMergeSucceeded)

	outDir := t.TempDir()
	failed, err := app.ExportResult(filepath.Join(outDir, "result.bmp"))
	if err != nil {
		t.Fatalf("export bmp: %v", err)
	}
	if failed == nil || failed.Category != domain.CategoryUnwritableDestination {
		t.Fatalf("bmp failure = %+v, want %s", failed, domain.CategoryUnwritableDestination)
	}
	if mustState(t, app).Result == nil {
		t.Fatal("result must survive a failed export")
	}

	target := filepath.Join(outDir, "résultat.png")
	failed, err = app.ExportResult(target)
	if err != nil || failed != nil {
		t.Fatalf("export png = %+v, %v", failed, err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("stat export: %v", err)
	}
	saved, _ := store.Load()
	if got := saved.LastExportFolder; got != outDir {
		t.Fatalf("LastExportFolder = %s, want %s", got, outDir)
	}
}

// TestCloseRemovesArtifacts checks session files are gone after shutdown.
func TestCloseRemovesArtifacts(t *testing.T) {
	app, _ := newTestApp(t, stitch.Func(sideBySide))
	dir := t.TempDir()
	if _, err := app.AddImages([]string{writeImage(t, dir, "a.tif", color.White), writeImage(t, dir, "b.png", color.Black)}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := app.RequestMerge(); err != nil {
		t.Fatalf("request merge: %v", err)
	}
	waitForState(t, app, domain.StateMergeSucceeded)

	if err := app.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(app.artifactDir); !os.IsNotExist(err) {
		t.Fatalf("artifact dir stat error = %v, want not exist", err)
	}
	if err := app.RequestMerge(); !errors.Is(err, workflow.ErrLoopClosed) {
		t.Fatalf("merge after close error = %v, want %v", err, workflow.ErrLoopClosed)
	}
}

// TestExtensionPatternCoversBothCases checks the dialog filter pattern.
func TestExtensionPatternCoversBothCases(t *testing.T) {
	got := extensionPattern([]string{"jpg", ".tif"})
	if want := "*.jpg;*.JPG;*.tif;*.TIF"; got != want {
		t.Fatalf("pattern = %q, want %q", got, want)
	}
}

func mustState(t *testing.T, app *App) domain.Snapshot {
	t.Helper()
	snap, err := app.GetState()
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	return snap
}

// waitForState polls until the workflow reaches want or times out.
func waitForState(t *testing.T, app *App, want domain.WorkflowState) domain.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap := mustState(t, app)
		if snap.State == want {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", mustState(t, app).State, want)
	return domain.Snapshot{}
}

// assertEventTypeExists verifies at least one event of given type exists.
func assertEventTypeExists(t *testing.T, events []workflow.Event, want workflow.EventType) {
	t.Helper()
	for _, event := range events {
		if event.Type == want {
			return
		}
	}
	t.Fatalf("event type %s not found", want)
}
