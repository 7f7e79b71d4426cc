// Package failure turns arbitrary ingestion, merge and export errors into the
// closed set of categories the user can act on.
package failure

import (
	"errors"
	"fmt"
	"image"

	"image-stitcher/internal/domain"
	"image-stitcher/internal/imaging"
	"image-stitcher/internal/stitch"
)

const (
	badImageMessage              = "This file could not be used as an image."
	stitchingFailedMessage       = "The images could not be merged. They may be too different or may not overlap."
	unwritableDestinationMessage = "Specify a file name with a valid image extension (jpg, jpeg, png, tif, tiff)."
)

// Error is a failure whose category was decided where it happened.
type Error struct {
	Category domain.FailureCategory
	Op       string
	Path     string
	Err      error
}

// Error formats the failure for logs.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Category)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Category)
	}
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// BadImage marks path as unusable as an image.
func BadImage(op, path string, err error) *Error {
	return &Error{Category: domain.CategoryBadImage, Op: op, Path: path, Err: err}
}

// StitchingFailed marks an engine-reported merge failure.
func StitchingFailed(op string, err error) *Error {
	return &Error{Category: domain.CategoryStitchingFailed, Op: op, Err: err}
}

// UnwritableDestination marks an export path without a usable extension.
func UnwritableDestination(op, path string, err error) *Error {
	return &Error{Category: domain.CategoryUnwritableDestination, Op: op, Path: path, Err: err}
}

// IOFailure marks a generic read or write error.
func IOFailure(op, path string, err error) *Error {
	return &Error{Category: domain.CategoryIOFailure, Op: op, Path: path, Err: err}
}

// Classify maps err to its category and user-facing message. The mapping is
// deterministic; unrecognized errors are I/O failures carrying the raw text.
func Classify(err error) domain.CategorizedFailure {
	if err == nil {
		return domain.CategorizedFailure{}
	}

	category := CategoryOf(err)
	out := domain.CategorizedFailure{
		Category: category,
		Message:  Message(category, err),
	}

	var typed *Error
	if errors.As(err, &typed) {
		out.Path = typed.Path
	}
	return out
}

// CategoryOf returns the category err belongs to.
func CategoryOf(err error) domain.FailureCategory {
	var typed *Error
	if errors.As(err, &typed) && typed.Category != "" {
		return typed.Category
	}

	var engineErr *stitch.EngineError
	switch {
	case errors.Is(err, imaging.ErrUndecodable),
		errors.Is(err, imaging.ErrUnsupportedFormat),
		errors.Is(err, imaging.ErrEmptyImage),
		errors.Is(err, image.ErrFormat):
		return domain.CategoryBadImage
	case errors.Is(err, stitch.ErrNoOverlap), errors.As(err, &engineErr):
		return domain.CategoryStitchingFailed
	case errors.Is(err, imaging.ErrUnsupportedExtension):
		return domain.CategoryUnwritableDestination
	default:
		return domain.CategoryIOFailure
	}
}

// Message returns the fixed remediation text for category, or the raw
// error text for I/O failures.
func Message(category domain.FailureCategory, err error) string {
	switch category {
	case domain.CategoryBadImage:
		return badImageMessage
	case domain.CategoryStitchingFailed:
		return stitchingFailedMessage
	case domain.CategoryUnwritableDestination:
		return unwritableDestinationMessage
	default:
		if err == nil {
			return ""
		}
		return rawMessage(err)
	}
}

// rawMessage strips the categorization wrapper so I/O failures read as the
// underlying system error.
func rawMessage(err error) string {
	var typed *Error
	if errors.As(err, &typed) && typed.Err != nil {
		return typed.Err.Error()
	}
	return err.Error()
}
