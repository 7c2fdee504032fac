// Package seal provides the symmetric and asymmetric sealing used by channels.
//
// Symmetric sealing is XChaCha20-Poly1305 with random 24-byte nonces. Keys are
// derived with HKDF over SHA3-256. Asymmetric sealing (SealTo/OpenFrom) uses an
// ephemeral X25519 key agreed against the recipient's exchange key.
package seal

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSizeX
)

// ErrOpen is returned for any failure to authenticate or decrypt.
var ErrOpen = errors.New("seal: open failed")

// Key is a symmetric key.
type Key [KeySize]byte

// NewKey returns a fresh random key.
func NewKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return Key{}, fmt.Errorf("seal: random key: %w", err)
	}
	return k, nil
}

// DeriveKey expands secret into a key bound to salt and info.
func DeriveKey(secret, salt []byte, info string) (Key, error) {
	var k Key
	r := hkdf.New(sha3.New256, secret, salt, []byte(info))
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return Key{}, fmt.Errorf("seal: derive key: %w", err)
	}
	return k, nil
}

// Seal encrypts plaintext under key, authenticating aad.
func Seal(key Key, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, nil, fmt.Errorf("seal: %w", err)
	}
	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("seal: random nonce: %w", err)
	}
	return nonce, aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open reverses Seal. Every failure is ErrOpen.
func Open(key Key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrOpen
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, ErrOpen
	}
	out, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrOpen
	}
	return out, nil
}

// X25519 returns the shared secret between a private scalar and a peer public key.
func X25519(priv, peer [32]byte) ([]byte, error) {
	out, err := curve25519.X25519(priv[:], peer[:])
	if err != nil {
		return nil, fmt.Errorf("seal: x25519: %w", err)
	}
	return out, nil
}

// Box is a payload sealed to a recipient's exchange key.
type Box struct {
	Ephemeral  [32]byte
	Nonce      []byte
	Ciphertext []byte
}

const boxInfo = "xdao-streams-box-v1"

// SealTo seals plaintext so that only the holder of recipient's private
// exchange key can open it.
func SealTo(recipient [32]byte, plaintext, aad []byte) (Box, error) {
	var eph [32]byte
	if _, err := io.ReadFull(rand.Reader, eph[:]); err != nil {
		return Box{}, fmt.Errorf("seal: random ephemeral: %w", err)
	}
	ephPub, err := curve25519.X25519(eph[:], curve25519.Basepoint)
	if err != nil {
		return Box{}, fmt.Errorf("seal: x25519: %w", err)
	}
	var box Box
	copy(box.Ephemeral[:], ephPub)

	secret, err := X25519(eph, recipient)
	if err != nil {
		return Box{}, err
	}
	key, err := DeriveKey(secret, boxSalt(box.Ephemeral, recipient), boxInfo)
	if err != nil {
		return Box{}, err
	}
	box.Nonce, box.Ciphertext, err = Seal(key, plaintext, aad)
	if err != nil {
		return Box{}, err
	}
	return box, nil
}

// OpenFrom opens a Box with the recipient's private exchange key.
func OpenFrom(priv [32]byte, box Box, aad []byte) ([]byte, error) {
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, ErrOpen
	}
	var recipient [32]byte
	copy(recipient[:], pub)
	secret, err := X25519(priv, box.Ephemeral)
	if err != nil {
		return nil, ErrOpen
	}
	key, err := DeriveKey(secret, boxSalt(box.Ephemeral, recipient), boxInfo)
	if err != nil {
		return nil, ErrOpen
	}
	return Open(key, box.Nonce, box.Ciphertext, aad)
}

func boxSalt(eph, recipient [32]byte) []byte {
	salt := make([]byte, 0, 64)
	salt = append(salt, eph[:]...)
	return append(salt, recipient[:]...)
}
