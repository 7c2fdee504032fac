package keys

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// FormatPublic encodes a public identity as "<scheme>:<base64 signing key>:<base64 exchange key>".
func FormatPublic(p PublicIdentity) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	return string(p.Scheme) + ":" +
		base64.StdEncoding.EncodeToString(p.SigningKey) + ":" +
		base64.StdEncoding.EncodeToString(p.ExchangeKey[:]), nil
}

// ParsePublic parses the output of FormatPublic.
func ParsePublic(s string) (PublicIdentity, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return PublicIdentity{}, fmt.Errorf("%w: expected scheme:signkey:exchangekey", ErrInvalidIdentity)
	}
	signKey, err := decodeBase64(parts[1])
	if err != nil {
		return PublicIdentity{}, fmt.Errorf("%w: signing key: %v", ErrInvalidIdentity, err)
	}
	exch, err := decodeBase64(parts[2])
	if err != nil {
		return PublicIdentity{}, fmt.Errorf("%w: exchange key: %v", ErrInvalidIdentity, err)
	}
	if len(exch) != 32 {
		return PublicIdentity{}, fmt.Errorf("%w: exchange key must be 32 bytes", ErrInvalidIdentity)
	}
	p := PublicIdentity{Scheme: Scheme(parts[0]), SigningKey: signKey}
	copy(p.ExchangeKey[:], exch)
	if err := p.validate(); err != nil {
		return PublicIdentity{}, err
	}
	return p, nil
}

func decodeBase64(s string) ([]byte, error) {
	// Prefer standard padded encoding, but accept raw encoding too.
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
