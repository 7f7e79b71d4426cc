package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestStorePutAndRelease verifies artifact lifecycle inside the store directory.
func TestStorePutAndRelease(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Close()

	path, err := store.Put("preview-*.png", []byte("pixels"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if filepath.Dir(path) != store.Dir() {
		t.Fatalf("artifact dir = %s, want %s", filepath.Dir(path), store.Dir())
	}
	if !store.Owns(path) {
		t.Fatal("expected store to own new artifact")
	}

	if err := store.Release(path); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stat after release err = %v, want not exist", err)
	}
	if len(store.Paths()) != 0 {
		t.Fatalf("paths = %v, want none", store.Paths())
	}
}

// TestStoreReleaseRejectsForeignPaths protects files the store did not create.
func TestStoreReleaseRejectsForeignPaths(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Close()

	foreign := filepath.Join(t.TempDir(), "source.jpg")
	if err := os.WriteFile(foreign, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := store.Release(foreign); !errors.Is(err, ErrUnknownArtifact) {
		t.Fatalf("Release() error = %v, want %v", err, ErrUnknownArtifact)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Fatalf("foreign file removed: %v", err)
	}
}

// TestStoreCloseRemovesDirectory checks session teardown.
func TestStoreCloseRemovesDirectory(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, err := store.Put("a-*.png", []byte("a")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(store.Dir()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stat dir err = %v, want not exist", err)
	}
	if _, err := store.Put("b-*.png", []byte("b")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Put() after close error = %v, want %v", err, ErrClosed)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
