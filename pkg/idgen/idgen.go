// Package idgen mints short public identifiers for objects users see in URLs.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes identify the object kind at a glance.
const (
	PrefixGate       = "gt-"
	PrefixCoCreation = "cc-"
)

const (
	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	size     = 12
)

// New returns prefix followed by a random URL-safe suffix.
func New(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, size)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// Gate returns a new gate id.
func Gate() (string, error) { return New(PrefixGate) }

// CoCreation returns a new co-creation id.
func CoCreation() (string, error) { return New(PrefixCoCreation) }

// Func is the generator signature accepted by services, so tests can inject
// deterministic ids.
type Func func() (string, error)
