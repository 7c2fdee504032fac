package keys

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// SeedSize is the byte length of every derived sub-seed.
const SeedSize = 32

const (
	seedLabel = "xdao-streams-seed-v1"
	roleLabel = "xdao-streams-kms-lite-v1"
)

// RootSeed expands a seed string into fixed-size root key material.
func RootSeed(seed string) ([]byte, error) {
	if seed == "" {
		return nil, errors.New("seed cannot be empty")
	}
	h := sha3.New256()
	_, _ = h.Write([]byte(seedLabel))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(seed))
	return h.Sum(nil), nil
}

// DeriveRoleSeed deterministically derives a role-specific seed from a root seed.
//
// Roles are used both internally (signing and exchange subkeys) and by the key
// store, where a named role yields a separate participant identity.
func DeriveRoleSeed(rootSeed []byte, role string) ([]byte, error) {
	if len(rootSeed) != SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", SeedSize)
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}

	h := sha256.New()
	_, _ = h.Write(rootSeed)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(roleLabel))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("role:"))
	_, _ = h.Write([]byte(role))
	sum := h.Sum(nil)
	if len(sum) < SeedSize {
		return nil, errors.New("kdf output too short")
	}
	out := make([]byte, SeedSize)
	copy(out, sum[:SeedSize])
	return out, nil
}
