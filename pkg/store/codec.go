// Package store persists reference descriptor sets so they survive restarts.
package store

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"github.com/menta2k/piece-locator/pkg/reference"
	"github.com/menta2k/piece-locator/pkg/types"
)

// codecVersion is written first in every encoded set
const codecVersion = 1

// ErrUnsupportedVersion is returned for data written by a newer codec
var ErrUnsupportedVersion = errors.New("unsupported descriptor set version")

// Encode writes set to w as a gzip-compressed gob stream
func Encode(w io.Writer, set *reference.Set) error {
	compressor := gzip.NewWriter(w)
	encoder := gob.NewEncoder(compressor)

	if err := encoder.Encode(codecVersion); err != nil {
		return fmt.Errorf("unable to encode version: %w", err)
	}
	if err := encoder.Encode(set.Meta()); err != nil {
		return fmt.Errorf("unable to encode metadata: %w", err)
	}
	if err := encoder.Encode(set.Regions()); err != nil {
		return fmt.Errorf("unable to encode regions: %w", err)
	}
	if err := encoder.Encode(set.Entries()); err != nil {
		return fmt.Errorf("unable to encode entries: %w", err)
	}
	return compressor.Close()
}

// Decode reads a set written by Encode. The decoded set is validated, so a
// stream whose regions or descriptor lengths are inconsistent fails with
// reference.ErrCorruptSet or types.ErrDescriptorShapeMismatch.
func Decode(r io.Reader) (*reference.Set, error) {
	decompressor, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to open decompressor: %v", reference.ErrCorruptSet, err)
	}
	defer decompressor.Close()
	decoder := gob.NewDecoder(decompressor)

	var version int
	if err := decoder.Decode(&version); err != nil {
		return nil, fmt.Errorf("%w: unable to decode version: %v", reference.ErrCorruptSet, err)
	}
	if version < 1 || version > codecVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	var meta reference.Meta
	if err := decoder.Decode(&meta); err != nil {
		return nil, fmt.Errorf("%w: unable to decode metadata: %v", reference.ErrCorruptSet, err)
	}
	var regions []types.Region
	if err := decoder.Decode(&regions); err != nil {
		return nil, fmt.Errorf("%w: unable to decode regions: %v", reference.ErrCorruptSet, err)
	}
	var entries []reference.Entry
	if err := decoder.Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: unable to decode entries: %v", reference.ErrCorruptSet, err)
	}

	return reference.NewSet(meta, regions, entries)
}

// Marshal is Encode into a byte slice
func Marshal(set *reference.Set) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, set); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal is Decode from a byte slice
func Unmarshal(data []byte) (*reference.Set, error) {
	return Decode(bytes.NewReader(data))
}
