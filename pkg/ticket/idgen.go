// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// DefaultIDEntropyBytes is the random suffix size for generated ticket ids.
// 32 bytes is double the 128-bit floor required for collision resistance.
const DefaultIDEntropyBytes = 32

// IDGenerator produces collision-resistant, unguessable ticket identifiers.
type IDGenerator interface {
	// NewTicketID returns "<prefix>-<random suffix>". The suffix is drawn
	// from a cryptographically secure source and uses a URL- and
	// cookie-safe alphabet.
	NewTicketID(prefix string) (string, error)
}

// RandomIDGenerator generates ids with a base64url-encoded crypto/rand
// suffix.
type RandomIDGenerator struct {
	entropyBytes int
}

// NewRandomIDGenerator returns a generator with the given suffix entropy.
// Sizes below 16 bytes (128 bits) are rejected.
func NewRandomIDGenerator(entropyBytes int) (*RandomIDGenerator, error) {
	if entropyBytes < 16 {
		return nil, fmt.Errorf("ticket id entropy must be at least 16 bytes, got %d", entropyBytes)
	}
	return &RandomIDGenerator{entropyBytes: entropyBytes}, nil
}

// DefaultIDGenerator returns a generator with DefaultIDEntropyBytes of
// suffix entropy.
func DefaultIDGenerator() *RandomIDGenerator {
	return &RandomIDGenerator{entropyBytes: DefaultIDEntropyBytes}
}

// NewTicketID implements IDGenerator.
func (g *RandomIDGenerator) NewTicketID(prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("ticket id prefix cannot be empty")
	}
	buf := make([]byte, g.entropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return prefix + "-" + base64.RawURLEncoding.EncodeToString(buf), nil
}

var _ IDGenerator = (*RandomIDGenerator)(nil)
