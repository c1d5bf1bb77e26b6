package types

import "errors"

// Error kinds surfaced by the matching engine. Callers test for them with
// errors.Is; the engine wraps them with call-specific detail.
var (
	// ErrInvalidGeometry is returned when the grid window does not fit the
	// reference image or the stride is out of range.
	ErrInvalidGeometry = errors.New("invalid grid geometry")

	// ErrUnextractableImage is returned for degenerate samples (uniform
	// colour or no detectable edges). Callers should skip, not crash.
	ErrUnextractableImage = errors.New("unextractable image")

	// ErrDescriptorShapeMismatch means a cached descriptor disagrees in
	// length with a freshly extracted one. The reference should be rebuilt.
	ErrDescriptorShapeMismatch = errors.New("descriptor shape mismatch")
)
