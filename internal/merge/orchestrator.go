// Package merge owns the working set and the single live merge result. It
// drives the stitching engine and exports results.
package merge

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"image-stitcher/internal/domain"
	"image-stitcher/internal/failure"
	"image-stitcher/internal/imaging"
	"image-stitcher/internal/ingest"
	"image-stitcher/internal/stitch"
	"image-stitcher/internal/workset"
)

var (
	// ErrPrecondition is a caller contract violation: merging needs two images.
	ErrPrecondition = errors.New("merge requires at least two images")
	// ErrUnknownImage is returned when removing an id not in the working set.
	ErrUnknownImage = errors.New("image not in working set")
	// ErrNoResult is returned when exporting before any merge succeeded.
	ErrNoResult = errors.New("no merge result to export")
)

// artifactStore creates and releases transient files.
type artifactStore interface {
	Put(pattern string, data []byte) (string, error)
	Release(path string) error
	Owns(path string) bool
	Close() error
}

// preparer validates a batch of selected files.
type preparer interface {
	PrepareBatch(ctx context.Context, paths []string) ingest.Batch
}

// Result is one produced composite. It is immutable once created.
type Result struct {
	ID          string
	Image       image.Image
	PreviewPath string
	SourceIDs   []string
	Generation  uint64
	ProducedAt  time.Time
}

// Summary describes the result for the presentation layer.
func (r *Result) Summary(dirty bool) domain.ResultSummary {
	bounds := r.Image.Bounds()
	ids := make([]string, len(r.SourceIDs))
	copy(ids, r.SourceIDs)
	return domain.ResultSummary{
		ID:          r.ID,
		PreviewPath: r.PreviewPath,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		SourceIDs:   ids,
		ProducedAt:  r.ProducedAt,
		Dirty:       dirty,
	}
}

// Request is a snapshot of the working set taken when a merge is accepted.
type Request struct {
	Images     []domain.WorkingImage
	Generation uint64
	Options    domain.StitchOptions
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Pipeline  preparer
	Source    imaging.Source
	Stitcher  stitch.Stitcher
	Artifacts artifactStore
	Logger    *slog.Logger
}

// Orchestrator is not safe for concurrent use except for Merge and Export,
// which only read their arguments and immutable collaborators.
type Orchestrator struct {
	set       *workset.Set
	pipeline  preparer
	source    imaging.Source
	stitcher  stitch.Stitcher
	artifacts artifactStore
	logger    *slog.Logger
	result    *Result
	now       func() time.Time
	newID     func() string
	writeFile func(path string, data []byte) error
}

// New creates an orchestrator with an empty working set.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		set:       workset.New(),
		pipeline:  cfg.Pipeline,
		source:    cfg.Source,
		stitcher:  cfg.Stitcher,
		artifacts: cfg.Artifacts,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		writeFile: imaging.WriteFile,
	}
}

// Prepare validates paths without touching the working set. It may run off
// the control loop.
func (o *Orchestrator) Prepare(ctx context.Context, paths []string) ingest.Batch {
	return o.pipeline.PrepareBatch(ctx, paths)
}

// Register appends prepared images in selection order. Images that cannot be
// registered are reported as failures and their previews released.
func (o *Orchestrator) Register(batch ingest.Batch) ingest.Batch {
	added := make([]domain.WorkingImage, 0, len(batch.Images))
	for _, img := range batch.Images {
		if err := o.set.Add(img); err != nil {
			o.releasePreview(img)
			batch.Failures = append(batch.Failures, failure.Classify(failure.IOFailure("register", img.SourcePath, err)))
			continue
		}
		added = append(added, img)
	}
	batch.Images = added

	o.logger.Info("images added",
		"added", len(batch.Images),
		"rejected", len(batch.Failures),
		"size", o.set.Len(),
	)
	return batch
}

// AddBatch prepares and registers paths in one step.
func (o *Orchestrator) AddBatch(ctx context.Context, paths []string) ingest.Batch {
	return o.Register(o.Prepare(ctx, paths))
}

// Remove drops one image and releases its generated preview.
func (o *Orchestrator) Remove(id string) error {
	removed, ok := o.set.Remove(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownImage, id)
	}
	o.releasePreview(removed)
	o.logger.Info("image removed", "image_id", id, "size", o.set.Len())
	return nil
}

// Images returns the working set in order.
func (o *Orchestrator) Images() []domain.WorkingImage {
	return o.set.Snapshot()
}

// Size returns the working-set size.
func (o *Orchestrator) Size() int {
	return o.set.Len()
}

// NewRequest snapshots the working set for a merge.
func (o *Orchestrator) NewRequest(opts domain.StitchOptions) Request {
	return Request{
		Images:     o.set.Snapshot(),
		Generation: o.set.Generation(),
		Options:    opts,
	}
}

// Merge loads every source image, then stitches them once in order. The
// working set is never modified here.
func (o *Orchestrator) Merge(ctx context.Context, req Request) (*Result, error) {
	if len(req.Images) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrPrecondition, len(req.Images))
	}

	images := make([]image.Image, 0, len(req.Images))
	ids := make([]string, 0, len(req.Images))
	for _, wi := range req.Images {
		img, format, err := o.source.Decode(wi.SourcePath)
		if err != nil {
			return nil, failure.BadImage("load", wi.SourcePath, err)
		}
		if !imaging.Supported(format) {
			return nil, failure.BadImage("load", wi.SourcePath, fmt.Errorf("%w: %s", imaging.ErrUnsupportedFormat, format))
		}
		images = append(images, img)
		ids = append(ids, wi.ID)
	}

	started := o.now()
	out, err := o.stitcher.Stitch(ctx, images, req.Options)
	if err != nil {
		var engineErr *stitch.EngineError
		if errors.Is(err, stitch.ErrNoOverlap) || errors.As(err, &engineErr) {
			return nil, failure.StitchingFailed("merge", err)
		}
		return nil, failure.IOFailure("merge", "", err)
	}
	if out == nil || out.Bounds().Empty() {
		return nil, failure.StitchingFailed("merge", errors.New("engine returned an empty image"))
	}

	data, err := imaging.Encode(out, "png")
	if err != nil {
		return nil, failure.IOFailure("merge", "", err)
	}
	previewPath, err := o.artifacts.Put("result-*.png", data)
	if err != nil {
		return nil, failure.IOFailure("merge", "", err)
	}

	result := &Result{
		ID:          o.newID(),
		Image:       out,
		PreviewPath: previewPath,
		SourceIDs:   ids,
		Generation:  req.Generation,
		ProducedAt:  o.now(),
	}
	o.logger.Info("merge completed",
		"result_id", result.ID,
		"inputs", len(ids),
		"width", out.Bounds().Dx(),
		"height", out.Bounds().Dy(),
		"elapsed", result.ProducedAt.Sub(started),
	)
	return result, nil
}

// Commit installs result as the live result. The previous result's artifact
// is released only after the new one is in place.
func (o *Orchestrator) Commit(result *Result) error {
	if result == nil {
		return errors.New("commit nil merge result")
	}

	previous := o.result
	o.result = result
	if previous != nil && previous.PreviewPath != "" && previous.PreviewPath != result.PreviewPath {
		if err := o.artifacts.Release(previous.PreviewPath); err != nil {
			o.logger.Warn("release previous result artifact", "result_id", previous.ID, "error", err)
		}
	}
	return nil
}

// Discard releases the artifact of a result that will never be committed.
func (o *Orchestrator) Discard(result *Result) {
	if result == nil || result.PreviewPath == "" {
		return
	}
	if err := o.artifacts.Release(result.PreviewPath); err != nil {
		o.logger.Warn("discard result artifact", "result_id", result.ID, "error", err)
	}
}

// Result returns the live result, if any.
func (o *Orchestrator) Result() (*Result, bool) {
	return o.result, o.result != nil
}

// Dirty reports whether the working set changed since the live result was produced.
func (o *Orchestrator) Dirty() bool {
	return o.result != nil && o.result.Generation != o.set.Generation()
}

// Serves reports whether path may be shown to the user: a live artifact of
// this session or the source file of a working image.
func (o *Orchestrator) Serves(path string) bool {
	if path == "" {
		return false
	}
	if o.artifacts.Owns(path) {
		return true
	}
	for _, img := range o.set.Snapshot() {
		if img.SourcePath == path {
			return true
		}
	}
	return false
}

// Export encodes result for the extension of destination and writes it
// atomically. Failures never affect the live result.
func (o *Orchestrator) Export(result *Result, destination string) error {
	if result == nil {
		return ErrNoResult
	}

	dest := strings.TrimSpace(destination)
	if dest == "" {
		return failure.UnwritableDestination("export", destination, fmt.Errorf("%w: empty path", imaging.ErrUnsupportedExtension))
	}

	data, err := imaging.EncodeForPath(result.Image, dest)
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupportedExtension) {
			return failure.UnwritableDestination("export", dest, err)
		}
		return failure.IOFailure("export", dest, err)
	}
	if err := o.writeFile(dest, data); err != nil {
		return failure.IOFailure("export", dest, err)
	}

	o.logger.Info("result exported", "result_id", result.ID, "path", dest, "bytes", len(data))
	return nil
}

// Close releases every transient artifact of the session.
func (o *Orchestrator) Close() error {
	o.result = nil
	return o.artifacts.Close()
}

func (o *Orchestrator) releasePreview(img domain.WorkingImage) {
	if !img.HasGeneratedPreview() {
		return
	}
	if err := o.artifacts.Release(img.PreviewPath); err != nil {
		o.logger.Warn("release preview artifact", "image_id", img.ID, "error", err)
	}
}
