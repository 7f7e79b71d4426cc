// Package workset holds the ordered collection of images selected for merging.
package workset

import (
	"errors"
	"fmt"

	"image-stitcher/internal/domain"
)

var (
	// ErrDuplicateID is returned when an image id is already present.
	ErrDuplicateID = errors.New("image id already in working set")
	// ErrEmptyID is returned for images without an id.
	ErrEmptyID = errors.New("image id is required")
)

// Set is the ordered working set. It is not safe for concurrent use; it is
// only mutated from the control loop.
type Set struct {
	images     []domain.WorkingImage
	index      map[string]int
	generation uint64
}

// New creates an empty working set.
func New() *Set {
	return &Set{index: make(map[string]int)}
}

// Add appends img, preserving insertion order.
func (s *Set) Add(img domain.WorkingImage) error {
	if img.ID == "" {
		return ErrEmptyID
	}
	if _, exists := s.index[img.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, img.ID)
	}

	s.index[img.ID] = len(s.images)
	s.images = append(s.images, img)
	s.generation++
	return nil
}

// Remove deletes the image with id and returns it.
func (s *Set) Remove(id string) (domain.WorkingImage, bool) {
	pos, ok := s.index[id]
	if !ok {
		return domain.WorkingImage{}, false
	}

	removed := s.images[pos]
	s.images = append(s.images[:pos], s.images[pos+1:]...)
	delete(s.index, id)
	for i := pos; i < len(s.images); i++ {
		s.index[s.images[i].ID] = i
	}
	s.generation++
	return removed, true
}

// Get returns the image with id.
func (s *Set) Get(id string) (domain.WorkingImage, bool) {
	pos, ok := s.index[id]
	if !ok {
		return domain.WorkingImage{}, false
	}
	return s.images[pos], true
}

// Snapshot returns a copy of the images in insertion order.
func (s *Set) Snapshot() []domain.WorkingImage {
	out := make([]domain.WorkingImage, len(s.images))
	copy(out, s.images)
	return out
}

// Len returns the number of images.
func (s *Set) Len() int {
	return len(s.images)
}

// Generation changes on every mutation.
func (s *Set) Generation() uint64 {
	return s.generation
}
