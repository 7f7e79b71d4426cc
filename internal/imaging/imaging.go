// Package imaging is the image source boundary: it decodes files from raw
// bytes, derives display-safe thumbnails and encodes results by extension.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"image-stitcher/internal/domain"
)

// DefaultPreviewEdge caps the longest edge of generated previews.
const DefaultPreviewEdge = 512

const jpegQuality = 95

var (
	// ErrUndecodable is returned when file content is not a recognizable image.
	ErrUndecodable = errors.New("image content could not be decoded")
	// ErrUnsupportedFormat is returned when a decoded format is outside the supported set.
	ErrUnsupportedFormat = errors.New("image format is not supported")
	// ErrUnsupportedExtension is returned when an export path has no encodable extension.
	ErrUnsupportedExtension = errors.New("unsupported image extension")
	// ErrEmptyImage is returned for images without pixels.
	ErrEmptyImage = errors.New("image has no pixels")
)

// AcceptedExtensions lists the file extensions offered in selection dialogs.
var AcceptedExtensions = []string{"jpg", "jpeg", "png", "tif", "tiff"}

// Source decodes one file into pixels plus a format tag.
type Source interface {
	Decode(path string) (image.Image, domain.ImageFormat, error)
}

// FileSource decodes images from the local filesystem.
type FileSource struct {
	readFile func(name string) ([]byte, error)
}

// NewFileSource builds a source backed by os.ReadFile.
func NewFileSource() *FileSource {
	return &FileSource{readFile: os.ReadFile}
}

// Decode reads the whole file and decodes the in-memory buffer, so the result
// does not depend on how the platform encodes path names for codec libraries.
func (s *FileSource) Decode(path string) (image.Image, domain.ImageFormat, error) {
	data, err := s.readFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	return DecodeBytes(data)
}

// DecodeBytes decodes an encoded image buffer.
func DecodeBytes(data []byte) (image.Image, domain.ImageFormat, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty file", ErrUndecodable)
	}

	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, "", ErrEmptyImage
	}

	return img, formatFromName(name), nil
}

// Supported reports whether a format may enter the working set.
func Supported(format domain.ImageFormat) bool {
	switch format {
	case domain.FormatJPEG, domain.FormatPNG, domain.FormatTIFF:
		return true
	default:
		return false
	}
}

// NativelyDisplayable reports whether the frontend can show the source file directly.
func NativelyDisplayable(format domain.ImageFormat) bool {
	return format == domain.FormatJPEG || format == domain.FormatPNG
}

// Thumbnail scales img so its longest edge is at most maxEdge. Images that
// already fit are returned unchanged.
func Thumbnail(img image.Image, maxEdge int) (image.Image, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	if maxEdge <= 0 {
		maxEdge = DefaultPreviewEdge
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, ErrEmptyImage
	}
	if width <= maxEdge && height <= maxEdge {
		return img, nil
	}

	newWidth, newHeight := maxEdge, maxEdge
	if width >= height {
		newHeight = max(1, height*maxEdge/width)
	} else {
		newWidth = max(1, width*maxEdge/height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst, nil
}

// Encode encodes img for the given extension (with or without leading dot).
func Encode(img image.Image, ext string) ([]byte, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}

	var buf bytes.Buffer
	var err error
	switch normalizeExt(ext) {
	case "jpg", "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	case "png":
		err = png.Encode(&buf, img)
	case "tif", "tiff":
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	case "":
		return nil, fmt.Errorf("%w: missing extension", ErrUnsupportedExtension)
	default:
		return nil, fmt.Errorf("%w: .%s", ErrUnsupportedExtension, normalizeExt(ext))
	}
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	return buf.Bytes(), nil
}

// EncodeForPath encodes img using the extension of path.
func EncodeForPath(img image.Image, path string) ([]byte, error) {
	return Encode(img, filepath.Ext(path))
}

// Accepts reports whether path has one of AcceptedExtensions, ignoring case.
func Accepts(path string) bool {
	ext := normalizeExt(filepath.Ext(path))
	for _, accepted := range AcceptedExtensions {
		if ext == accepted {
			return true
		}
	}
	return false
}

// WriteFile writes data next to path and renames it into place, so readers
// never observe a partially written image. Errors are *os.PathError values
// naming path, never the temporary file.
func WriteFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".stitcher-write-*")
	if err != nil {
		return pathError("create", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return pathError("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return pathError("close", path, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return pathError("chmod", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return pathError("rename", path, err)
	}
	return nil
}

// pathError rebinds err to path, dropping any inner path so the message only
// mentions the destination.
func pathError(op, path string, err error) error {
	var pathErr *os.PathError
	var linkErr *os.LinkError
	switch {
	case errors.As(err, &pathErr):
		err = pathErr.Err
	case errors.As(err, &linkErr):
		err = linkErr.Err
	}
	return &os.PathError{Op: op, Path: path, Err: err}
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func formatFromName(name string) domain.ImageFormat {
	switch name {
	case "jpeg":
		return domain.FormatJPEG
	case "png":
		return domain.FormatPNG
	case "tiff":
		return domain.FormatTIFF
	default:
		return domain.FormatOther
	}
}
