package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"image-stitcher/internal/domain"
)

// TestDefaultSettings verifies baseline defaults are present.
func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()
	if cfg.Compensator != domain.CompensatorNone {
		t.Fatalf("compensator = %q, want no", cfg.Compensator)
	}
	if !cfg.Crop {
		t.Fatal("expected crop enabled by default")
	}
	if cfg.PreviewMaxEdge != 512 {
		t.Fatalf("preview edge = %d, want 512", cfg.PreviewMaxEdge)
	}
	if cfg.StitchCommand == "" {
		t.Fatal("expected non-empty stitch command")
	}
}

// TestTOMLStoreLoadMissingReturnsDefaults checks first-run behavior.
func TestTOMLStoreLoadMissingReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "settings.toml")
	store := NewTOMLStore(path)

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != DefaultSettings() {
		t.Fatalf("settings = %+v, want defaults", got)
	}
}

// TestTOMLStoreSaveAndLoadRoundTrip checks persisted settings fidelity.
func TestTOMLStoreSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.toml")
	store := NewTOMLStore(path)
	want := domain.Settings{
		LastUsedFolder:   "/scans/Сканы",
		LastExportFolder: "/out",
		Crop:             false,
		Compensator:      domain.CompensatorGainBlocks,
		PreviewMaxEdge:   256,
		StitchCommand:    "/opt/stitching/bin/stitch",
		LogLevel:         "debug",
		LogFormat:        "json",
	}

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != want {
		t.Fatalf("settings = %+v, want %+v", got, want)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temporary file left behind: %v", err)
	}
}

// TestTOMLStorePartialFileKeepsDefaults checks missing keys fall back.
func TestTOMLStorePartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	if err := os.WriteFile(path, []byte("compensator = \"bogus\"\nlast_used_folder = \"  /scans  \"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := NewTOMLStore(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.LastUsedFolder != "/scans" {
		t.Fatalf("last used folder = %q, want /scans", got.LastUsedFolder)
	}
	if got.Compensator != domain.CompensatorNone {
		t.Fatalf("compensator = %q, want fallback", got.Compensator)
	}
	if got.PreviewMaxEdge != 512 || !got.Crop {
		t.Fatalf("defaults lost: %+v", got)
	}
}

// TestTOMLStoreLoadInvalidTOML checks parse error handling.
func TestTOMLStoreLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("crop = [not toml"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewTOMLStore(path)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected toml parse error")
	}
}

// TestPreferencesGetSet checks the key-value view over settings.
func TestPreferencesGetSet(t *testing.T) {
	store := NewTOMLStore(filepath.Join(t.TempDir(), "settings.toml"))
	prefs := NewPreferences(store)

	if err := prefs.Set(KeyLastUsedFolder, "/scans/2024"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok := prefs.Get(KeyLastUsedFolder)
	if !ok || got != "/scans/2024" {
		t.Fatalf("Get() = %q, %v", got, ok)
	}

	if err := prefs.Set(KeyLastExportFolder, ""); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, ok := prefs.Get(KeyLastExportFolder); ok {
		t.Fatal("expected empty value to read as absent")
	}

	if err := prefs.Set("theme", "dark"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("Set() unknown key error = %v, want %v", err, ErrUnknownKey)
	}
	if _, ok := prefs.Get("theme"); ok {
		t.Fatal("unknown key should be absent")
	}

	settings, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if settings.LastUsedFolder != "/scans/2024" {
		t.Fatalf("persisted folder = %q", settings.LastUsedFolder)
	}
}

// TestPreferencesConcurrentSetKeepsBothKeys checks that writers on separate
// keys never drop each other's update, within one store and across stores.
func TestPreferencesConcurrentSetKeepsBothKeys(t *testing.T) {
	for _, shared := range []bool{true, false} {
		path := filepath.Join(t.TempDir(), "settings.toml")
		first := NewTOMLStore(path)
		second := first
		if !shared {
			second = NewTOMLStore(path)
		}
		used, exported := NewPreferences(first), NewPreferences(second)

		for round := 0; round < 50; round++ {
			usedDir := fmt.Sprintf("/scans/%d", round)
			exportDir := fmt.Sprintf("/exports/%d", round)

			var wg sync.WaitGroup
			errs := make(chan error, 2)
			wg.Add(2)
			go func() {
				defer wg.Done()
				errs <- used.Set(KeyLastUsedFolder, usedDir)
			}()
			go func() {
				defer wg.Done()
				errs <- exported.Set(KeyLastExportFolder, exportDir)
			}()
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatalf("Set() error = %v", err)
				}
			}

			got, err := first.Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got.LastUsedFolder != usedDir || got.LastExportFolder != exportDir {
				t.Fatalf("shared=%v round %d: folders = %q, %q, want %q, %q",
					shared, round, got.LastUsedFolder, got.LastExportFolder, usedDir, exportDir)
			}
		}
	}
}

// TestTOMLStoreUpdateAbortsOnError checks a failing mutation leaves the file unchanged.
func TestTOMLStoreUpdateAbortsOnError(t *testing.T) {
	store := NewTOMLStore(filepath.Join(t.TempDir(), "settings.toml"))
	want := DefaultSettings()
	want.LastUsedFolder = "/scans"
	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	boom := errors.New("boom")
	err := store.Update(func(s *domain.Settings) error {
		s.LastUsedFolder = "/elsewhere"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want %v", err, boom)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.LastUsedFolder != "/scans" {
		t.Fatalf("LastUsedFolder = %q, want /scans", got.LastUsedFolder)
	}
}
