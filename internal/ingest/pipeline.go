// Package ingest validates selected files and turns them into working images.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"image-stitcher/internal/domain"
	"image-stitcher/internal/failure"
	"image-stitcher/internal/imaging"
)

var errEmptyPath = errors.New("file path is empty")

// artifactWriter persists generated previews.
type artifactWriter interface {
	Put(pattern string, data []byte) (string, error)
}

// Options tune preview generation and batch parallelism.
type Options struct {
	PreviewMaxEdge int
	Workers        int
	Logger         *slog.Logger
}

// Pipeline prepares one candidate file at a time.
type Pipeline struct {
	source    imaging.Source
	artifacts artifactWriter
	maxEdge   int
	workers   int
	logger    *slog.Logger
	newID     func() string
	absPath   func(string) (string, error)
}

// Batch is the outcome of one user selection, in selection order.
type Batch struct {
	Images   []domain.WorkingImage      `json:"images"`
	Failures []domain.CategorizedFailure `json:"failures"`
}

// NewPipeline builds a pipeline that decodes through source and writes
// previews into artifacts.
func NewPipeline(source imaging.Source, artifacts artifactWriter, opts Options) *Pipeline {
	maxEdge := opts.PreviewMaxEdge
	if maxEdge <= 0 {
		maxEdge = imaging.DefaultPreviewEdge
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = min(runtime.NumCPU(), 4)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		source:    source,
		artifacts: artifacts,
		maxEdge:   maxEdge,
		workers:   workers,
		logger:    logger,
		newID:     uuid.NewString,
		absPath:   filepath.Abs,
	}
}

// Prepare validates path and returns a working image. Every failure is a
// BadImage failure for this file only.
func (p *Pipeline) Prepare(path string) (domain.WorkingImage, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return domain.WorkingImage{}, failure.BadImage("prepare", path, errEmptyPath)
	}

	sourcePath, err := p.absPath(trimmed)
	if err != nil {
		return domain.WorkingImage{}, failure.BadImage("resolve", trimmed, err)
	}

	img, format, err := p.source.Decode(sourcePath)
	if err != nil {
		return domain.WorkingImage{}, failure.BadImage("decode", sourcePath, err)
	}
	if !imaging.Supported(format) {
		return domain.WorkingImage{}, failure.BadImage("validate", sourcePath, fmt.Errorf("%w: %s", imaging.ErrUnsupportedFormat, format))
	}

	previewPath := sourcePath
	if !imaging.NativelyDisplayable(format) {
		previewPath, err = p.writePreview(img)
		if err != nil {
			return domain.WorkingImage{}, failure.BadImage("preview", sourcePath, err)
		}
	}

	bounds := img.Bounds()
	return domain.WorkingImage{
		ID:          p.newID(),
		SourcePath:  sourcePath,
		PreviewPath: previewPath,
		Format:      format,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, nil
}

// PrepareBatch prepares every path independently. A failing file never stops
// the others; images and failures keep selection order.
func (p *Pipeline) PrepareBatch(ctx context.Context, paths []string) Batch {
	type outcome struct {
		image domain.WorkingImage
		err   error
	}
	outcomes := make([]outcome, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = outcome{err: failure.IOFailure("prepare", path, err)}
				return nil
			}
			img, err := p.Prepare(path)
			outcomes[i] = outcome{image: img, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var batch Batch
	for i, out := range outcomes {
		if out.err != nil {
			categorized := failure.Classify(out.err)
			if categorized.Path == "" {
				categorized.Path = paths[i]
			}
			p.logger.Warn("image rejected",
				"source_path", paths[i],
				"category", categorized.Category,
				"error", out.err,
			)
			batch.Failures = append(batch.Failures, categorized)
			continue
		}
		p.logger.Debug("image prepared",
			"image_id", out.image.ID,
			"source_path", out.image.SourcePath,
			"format", out.image.Format,
		)
		batch.Images = append(batch.Images, out.image)
	}
	return batch
}

// writePreview stores a bounded PNG thumbnail as a transient artifact.
func (p *Pipeline) writePreview(img image.Image) (string, error) {
	thumb, err := imaging.Thumbnail(img, p.maxEdge)
	if err != nil {
		return "", fmt.Errorf("scale preview: %w", err)
	}
	data, err := imaging.Encode(thumb, "png")
	if err != nil {
		return "", fmt.Errorf("encode preview: %w", err)
	}
	path, err := p.artifacts.Put("preview-*.png", data)
	if err != nil {
		return "", fmt.Errorf("store preview: %w", err)
	}
	return path, nil
}
