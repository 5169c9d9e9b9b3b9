// Package idgen provides ID generation implementations.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/artfold/designbridge/ports"
)

// UUID generates UUIDv4 identifiers.
type UUID struct{}

// New returns a fresh UUID string.
func (UUID) New() string {
	return uuid.New().String()
}

// Ensure interface compliance.
var _ ports.IDGenerator = UUID{}

// Sequential generates prefixed sequential ids, for tests that assert
// on specific identifiers.
type Sequential struct {
	prefix  string
	counter uint64
}

// NewSequential creates a sequential generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New returns the next id.
func (s *Sequential) New() string {
	return fmt.Sprintf("%s%d", s.prefix, atomic.AddUint64(&s.counter, 1))
}

// Ensure interface compliance.
var _ ports.IDGenerator = (*Sequential)(nil)
