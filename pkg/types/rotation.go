package types

import (
	"encoding/json"
	"fmt"
)

// Rotation is one of the four clockwise quarter turns applied to a piece.
type Rotation int

const (
	Rotate0 Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

// NumRotations is the number of orientations searched per piece
const NumRotations = 4

// AllRotations returns the rotations in search order
func AllRotations() [NumRotations]Rotation {
	return [NumRotations]Rotation{Rotate0, Rotate90, Rotate180, Rotate270}
}

// RotationFromDegrees converts a multiple of 90 into a Rotation
func RotationFromDegrees(deg int) (Rotation, error) {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	if deg%90 != 0 {
		return Rotate0, fmt.Errorf("rotation must be a multiple of 90 degrees, got %d", deg)
	}
	return Rotation(deg / 90), nil
}

// Degrees returns the clockwise rotation in degrees
func (r Rotation) Degrees() int {
	return int(r) * 90
}

// Add composes two rotations
func (r Rotation) Add(o Rotation) Rotation {
	return Rotation((int(r) + int(o)) % NumRotations)
}

// Valid reports whether r is one of the four defined rotations
func (r Rotation) Valid() bool {
	return r >= Rotate0 && r <= Rotate270
}

func (r Rotation) String() string {
	return fmt.Sprintf("%d°", r.Degrees())
}

// MarshalJSON encodes the rotation as degrees
func (r Rotation) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Degrees())
}

// UnmarshalJSON decodes a rotation given in degrees
func (r *Rotation) UnmarshalJSON(data []byte) error {
	var deg int
	if err := json.Unmarshal(data, &deg); err != nil {
		return err
	}
	rot, err := RotationFromDegrees(deg)
	if err != nil {
		return err
	}
	*r = rot
	return nil
}
