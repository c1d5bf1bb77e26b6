// Package reference builds and holds the per-region descriptors of an
// assembled puzzle image.
package reference

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/menta2k/piece-locator/pkg/grid"
	"github.com/menta2k/piece-locator/pkg/types"
)

// ErrCorruptSet is returned when a deserialised set breaks region invariants
var ErrCorruptSet = errors.New("corrupt reference descriptor set")

// namespace for reference IDs derived from image fingerprints
var namespace = uuid.MustParse("6f1c9a52-3d7e-4b8a-9c21-5e0f7a4d2b13")

// Entry pairs a region with its descriptor
type Entry struct {
	Region     types.Region
	Descriptor types.Descriptor
}

// Set is the read-only descriptor set of one reference image. A Set is never
// modified after it is returned by Build or NewSet, so any number of
// goroutines may read it concurrently.
type Set struct {
	id          uuid.UUID
	fingerprint string
	width       int
	height      int
	grid        grid.Config
	backend     string
	shape       types.DescriptorShape
	regions     []types.Region
	entries     []Entry
	index       []int // region ID -> position in entries, -1 when skipped
}

// Meta describes a Set independently of its descriptors
type Meta struct {
	ID          uuid.UUID             `json:"reference_id"`
	Fingerprint string                `json:"fingerprint"`
	Width       int                   `json:"width"`
	Height      int                   `json:"height"`
	Grid        grid.Config           `json:"grid"`
	Backend     string                `json:"backend"`
	Shape       types.DescriptorShape `json:"shape"`
}

// NewSet assembles a Set from its parts and validates it. regions is the full
// grid; entries holds the usable regions, in the same row-major order.
func NewSet(meta Meta, regions []types.Region, entries []Entry) (*Set, error) {
	s := &Set{
		id:          meta.ID,
		fingerprint: meta.Fingerprint,
		width:       meta.Width,
		height:      meta.Height,
		grid:        meta.Grid,
		backend:     meta.Backend,
		shape:       meta.Shape,
		regions:     regions,
		entries:     entries,
	}
	if s.id == uuid.Nil && s.fingerprint != "" {
		s.id = IDFromFingerprint(s.fingerprint)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.index = make([]int, len(regions))
	for i := range s.index {
		s.index[i] = -1
	}
	for i, e := range entries {
		s.index[e.Region.ID] = i
	}
	return s, nil
}

// IDFromFingerprint derives the stable reference ID of an image fingerprint
func IDFromFingerprint(fingerprint string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(fingerprint))
}

// Meta returns the set's metadata
func (s *Set) Meta() Meta {
	return Meta{
		ID:          s.id,
		Fingerprint: s.fingerprint,
		Width:       s.width,
		Height:      s.height,
		Grid:        s.grid,
		Backend:     s.backend,
		Shape:       s.shape,
	}
}

// ID returns the reference ID
func (s *Set) ID() uuid.UUID { return s.id }

// Fingerprint returns the content fingerprint of the reference image
func (s *Set) Fingerprint() string { return s.fingerprint }

// Size returns the reference image dimensions
func (s *Set) Size() (int, int) { return s.width, s.height }

// Shape returns the descriptor vector lengths shared by every entry
func (s *Set) Shape() types.DescriptorShape { return s.shape }

// Backend returns the name of the embedding backend used to build the set
func (s *Set) Backend() string { return s.backend }

// Regions returns the full region grid. The slice must not be modified.
func (s *Set) Regions() []types.Region { return s.regions }

// Entries returns the usable regions with their descriptors in row-major
// order. The slice must not be modified.
func (s *Set) Entries() []Entry { return s.entries }

// Len returns the number of usable regions
func (s *Set) Len() int { return len(s.entries) }

// Lookup returns the descriptor of a region. ok is false for unknown IDs and
// for regions that were skipped as unextractable.
func (s *Set) Lookup(regionID int) (types.Descriptor, bool) {
	if regionID < 0 || regionID >= len(s.index) {
		return types.Descriptor{}, false
	}
	i := s.index[regionID]
	if i < 0 {
		return types.Descriptor{}, false
	}
	return s.entries[i].Descriptor, true
}

// Validate checks the invariants every Set must satisfy: regions in
// row-major order with sequential IDs and inside the image, entries in the
// same order referencing grid regions, and identical descriptor lengths.
func (s *Set) Validate() error {
	if s.width <= 0 || s.height <= 0 {
		return fmt.Errorf("%w: image size %dx%d", ErrCorruptSet, s.width, s.height)
	}
	if len(s.entries) == 0 {
		return fmt.Errorf("%w: no usable regions", ErrCorruptSet)
	}

	for i, r := range s.regions {
		if r.ID != i {
			return fmt.Errorf("%w: region %d has id %d", ErrCorruptSet, i, r.ID)
		}
		if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 || r.X+r.Width > s.width || r.Y+r.Height > s.height {
			return fmt.Errorf("%w: region %d out of bounds", ErrCorruptSet, i)
		}
		if i > 0 {
			p := s.regions[i-1]
			if r.Y < p.Y || (r.Y == p.Y && r.X <= p.X) {
				return fmt.Errorf("%w: region %d breaks row-major order", ErrCorruptSet, i)
			}
		}
	}

	prev := -1
	for _, e := range s.entries {
		id := e.Region.ID
		if id <= prev || id >= len(s.regions) || s.regions[id] != e.Region {
			return fmt.Errorf("%w: entry for region %d does not match the grid", ErrCorruptSet, id)
		}
		prev = id
		if e.Descriptor.Dims() != s.shape {
			return fmt.Errorf("%w: region %d has %+v, set declares %+v",
				types.ErrDescriptorShapeMismatch, id, e.Descriptor.Dims(), s.shape)
		}
	}
	return nil
}
