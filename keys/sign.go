package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case "sha256":
		s := sha256.Sum256(message)
		return s[:], nil
	case "sha512":
		s := sha512.Sum512(message)
		return s[:], nil
	case "sha3-256":
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %q", hashAlg)
	}
}

// Verify checks a signature produced by Identity.Sign.
func (p PublicIdentity) Verify(message, sig []byte) error {
	digest, err := digestFor("sha3-256", message)
	if err != nil {
		return err
	}
	switch p.Scheme {
	case Ed25519:
		if len(p.SigningKey) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
			return ErrBadSignature
		}
		if !ed25519.Verify(ed25519.PublicKey(p.SigningKey), digest, sig) {
			return ErrBadSignature
		}
		return nil
	case Dilithium3:
		if len(sig) != mode3.SignatureSize {
			return ErrBadSignature
		}
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(p.SigningKey); err != nil {
			return ErrBadSignature
		}
		if !mode3.Verify(&pk, digest, sig) {
			return ErrBadSignature
		}
		return nil
	default:
		return fmt.Errorf("unsupported signature scheme: %q", p.Scheme)
	}
}
