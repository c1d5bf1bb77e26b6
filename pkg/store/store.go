package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/menta2k/piece-locator/pkg/reference"
)

// ErrNotFound is returned when no set is stored for a fingerprint
var ErrNotFound = errors.New("descriptor set not found")

// Store persists descriptor sets keyed by reference image fingerprint
type Store interface {
	Save(ctx context.Context, set *reference.Set) error
	Load(ctx context.Context, fingerprint string) (*reference.Set, error)
	Delete(ctx context.Context, fingerprint string) error
}

// checkFingerprint rejects anything that is not a hex SHA-256 digest
func checkFingerprint(fp string) error {
	if len(fp) != 64 {
		return fmt.Errorf("invalid fingerprint %q", fp)
	}
	if _, err := hex.DecodeString(fp); err != nil {
		return fmt.Errorf("invalid fingerprint %q", fp)
	}
	return nil
}
