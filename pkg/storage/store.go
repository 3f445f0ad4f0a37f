// Package storage persists serialized model artifacts.
//
// An artifact is an opaque byte blob addressed by name. The trainer writes it
// once; the detector reads it once at startup. Implementations:
//   - FileStore   - files under a local directory (default)
//   - RedisStore  - Redis string keys, optionally expiring
//   - S3Store     - objects in an S3-compatible bucket (MinIO, AWS S3)
//   - MemoryStore - in-process map, mainly for tests
package storage

import (
	"context"
	"fmt"
	"regexp"
)

// Store reads and writes named artifacts.
type Store interface {
	// Put stores data under name, replacing any existing artifact.
	Put(ctx context.Context, name string, data []byte) error

	// Get returns the artifact stored under name. found is false when no
	// artifact exists; err is reserved for backend failures.
	Get(ctx context.Context, name string) (data []byte, found bool, err error)
}

var artifactNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,254}$`)

// ValidateName checks that name is a safe artifact name: alphanumeric with
// dot, dash and underscore, no path separators, at most 255 characters.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("artifact name cannot be empty")
	}
	if !artifactNameRegex.MatchString(name) {
		return fmt.Errorf("invalid artifact name %q: only alphanumeric, '.', '-' and '_' allowed", name)
	}
	return nil
}
