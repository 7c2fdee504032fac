package keys

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/sha3"

	"xdao.co/streams/seal"
	"xdao.co/streams/tlv"
)

// Scheme names a signature scheme.
type Scheme string

const (
	Ed25519    Scheme = "ed25519"
	Dilithium3 Scheme = "dilithium3"
)

// ParseScheme accepts "" as the default scheme (ed25519).
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(s) {
	case "", Ed25519:
		return Ed25519, nil
	case Dilithium3:
		return Dilithium3, nil
	default:
		return "", fmt.Errorf("unsupported signature scheme: %q", s)
	}
}

var (
	ErrInvalidIdentity = errors.New("keys: invalid public identity")
	ErrBadSignature    = errors.New("keys: signature invalid")
)

const fingerprintLabel = "xdao-streams-identity-v1"

// ID is the fingerprint of a PublicIdentity.
type ID [32]byte

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Short returns the first 8 hex characters of the fingerprint.
func (id ID) Short() string { return hex.EncodeToString(id[:4]) }

func (id ID) IsZero() bool { return id == ID{} }

// PublicIdentity is the public half of an Identity.
type PublicIdentity struct {
	Scheme      Scheme
	SigningKey  []byte
	ExchangeKey [32]byte
}

// ID returns SHA3-256 over the scheme and both public keys.
func (p PublicIdentity) ID() ID {
	h := sha3.New256()
	_, _ = h.Write([]byte(fingerprintLabel))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(p.Scheme))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(p.SigningKey)
	_, _ = h.Write(p.ExchangeKey[:])
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

func (p PublicIdentity) Equal(o PublicIdentity) bool {
	return p.Scheme == o.Scheme && p.ExchangeKey == o.ExchangeKey && bytes.Equal(p.SigningKey, o.SigningKey)
}

const (
	fieldScheme   uint16 = 1
	fieldSignKey  uint16 = 2
	fieldExchange uint16 = 3
)

func (p PublicIdentity) MarshalBinary() ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return tlv.EncodeFields([]tlv.Field{
		tlv.String(fieldScheme, string(p.Scheme)),
		tlv.Bytes(fieldSignKey, p.SigningKey),
		tlv.Bytes(fieldExchange, p.ExchangeKey[:]),
	}), nil
}

func (p *PublicIdentity) UnmarshalBinary(b []byte) error {
	fields, err := tlv.DecodeFields(b)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	scheme, err := tlv.Require(fields, fieldScheme, tlv.TypeString)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	signKey, err := tlv.Require(fields, fieldSignKey, tlv.TypeBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	exch, err := tlv.Require(fields, fieldExchange, tlv.TypeBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	exchKey, err := exch.AsFixed(32)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	out := PublicIdentity{Scheme: Scheme(scheme.Value), SigningKey: signKey.Value}
	copy(out.ExchangeKey[:], exchKey)
	if err := out.validate(); err != nil {
		return err
	}
	*p = out
	return nil
}

func (p PublicIdentity) validate() error {
	switch p.Scheme {
	case Ed25519:
		if len(p.SigningKey) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: ed25519 public key must be %d bytes", ErrInvalidIdentity, ed25519.PublicKeySize)
		}
	case Dilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(p.SigningKey); err != nil {
			return fmt.Errorf("%w: dilithium3: %v", ErrInvalidIdentity, err)
		}
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidIdentity, p.Scheme)
	}
	if p.ExchangeKey == ([32]byte{}) {
		return fmt.Errorf("%w: missing exchange key", ErrInvalidIdentity)
	}
	return nil
}

// Identity is a participant's key material.
type Identity struct {
	ed       ed25519.PrivateKey
	dil      *mode3.PrivateKey
	exchange [32]byte
	public   PublicIdentity
}

// FromSeed derives an identity from a seed string. The same seed and scheme
// always yield the same identity.
func FromSeed(seed string, scheme Scheme) (*Identity, error) {
	scheme, err := ParseScheme(string(scheme))
	if err != nil {
		return nil, err
	}
	root, err := RootSeed(seed)
	if err != nil {
		return nil, err
	}
	signSeed, err := DeriveRoleSeed(root, "sign-"+string(scheme))
	if err != nil {
		return nil, err
	}
	exchSeed, err := DeriveRoleSeed(root, "exchange")
	if err != nil {
		return nil, err
	}

	id := &Identity{}
	copy(id.exchange[:], exchSeed)
	exchPub, err := curve25519.X25519(id.exchange[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive exchange key: %w", err)
	}
	copy(id.public.ExchangeKey[:], exchPub)
	id.public.Scheme = scheme

	switch scheme {
	case Ed25519:
		id.ed = ed25519.NewKeyFromSeed(signSeed)
		id.public.SigningKey = append([]byte(nil), id.ed.Public().(ed25519.PublicKey)...)
	case Dilithium3:
		var s [mode3.SeedSize]byte
		copy(s[:], signSeed)
		pk, sk := mode3.NewKeyFromSeed(&s)
		pub, err := pk.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encode dilithium3 public key: %w", err)
		}
		id.dil = sk
		id.public.SigningKey = pub
	}
	return id, nil
}

func (id *Identity) Public() PublicIdentity {
	p := id.public
	p.SigningKey = append([]byte(nil), id.public.SigningKey...)
	return p
}

func (id *Identity) ID() ID { return id.public.ID() }

func (id *Identity) Scheme() Scheme { return id.public.Scheme }

// Sign signs sha3-256(message) with the identity's signing key.
func (id *Identity) Sign(message []byte) ([]byte, error) {
	digest, err := digestFor("sha3-256", message)
	if err != nil {
		return nil, err
	}
	switch id.public.Scheme {
	case Ed25519:
		return ed25519.Sign(id.ed, digest), nil
	case Dilithium3:
		sig := make([]byte, mode3.SignatureSize)
		mode3.SignTo(id.dil, digest, sig)
		return sig, nil
	default:
		return nil, fmt.Errorf("unsupported signature scheme: %q", id.public.Scheme)
	}
}

// SharedSecret returns the X25519 secret shared with peer's exchange key.
func (id *Identity) SharedSecret(peer [32]byte) ([]byte, error) {
	return seal.X25519(id.exchange, peer)
}

// Open opens a box sealed to this identity's exchange key.
func (id *Identity) Open(box seal.Box, aad []byte) ([]byte, error) {
	return seal.OpenFrom(id.exchange, box, aad)
}
