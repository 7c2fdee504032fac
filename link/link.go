// Package link implements channel addresses and message links.
//
// A Link names a message as (channel Address, MsgID). Message ids are derived,
// never random: any participant holding the same sequencing state recomputes the
// same link without fetching it.
//
// The text form of a Link is a CIDv1 with the raw codec and an identity
// multihash over address||msgid, so links can be used directly as ledger keys and
// parsed back without a lookup table.
package link

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"golang.org/x/crypto/sha3"
)

// Size is the byte length of an Address and of a MsgID.
const Size = 32

const (
	labelAddress  = "xdao-streams-address-v1"
	labelMessage  = "xdao-streams-msgid-v1"
	labelSequence = "xdao-streams-seqid-v1"
)

var (
	ErrInvalidLink = errors.New("link: invalid link")
)

// Address is the channel address (application instance). It is derived once,
// from the Author's identity fingerprint, at announcement time.
type Address [Size]byte

// MsgID identifies a message within a channel.
type MsgID [Size]byte

// Link is the full address of a message.
type Link struct {
	Addr Address
	ID   MsgID
}

// NewAddress derives the channel address for an Author identity fingerprint.
func NewAddress(author [Size]byte) Address {
	h := sha3.New256()
	_, _ = h.Write([]byte(labelAddress))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(author[:])
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// Derive computes the link of a message published by owner at seqNo with the
// given parent. The announcement is Derive(addr, author, 0, Link{}).
func Derive(addr Address, owner [Size]byte, seqNo uint64, parent Link) Link {
	h := sha3.New256()
	_, _ = h.Write([]byte(labelMessage))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(addr[:])
	_, _ = h.Write(owner[:])
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], seqNo)
	_, _ = h.Write(seq[:])
	_, _ = h.Write(parent.Addr[:])
	_, _ = h.Write(parent.ID[:])
	l := Link{Addr: addr}
	copy(l.ID[:], h.Sum(nil))
	return l
}

// Sequence computes the link of the sequence message for publisher at seqNo.
// It does not depend on any parent so followers can compute it ahead of time.
func Sequence(addr Address, publisher [Size]byte, seqNo uint64) Link {
	h := sha3.New256()
	_, _ = h.Write([]byte(labelSequence))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(addr[:])
	_, _ = h.Write(publisher[:])
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], seqNo)
	_, _ = h.Write(seq[:])
	l := Link{Addr: addr}
	copy(l.ID[:], h.Sum(nil))
	return l
}

func (a Address) IsZero() bool { return a == Address{} }

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// Short returns the first 8 hex characters, for logs and dumps.
func (a Address) Short() string { return hex.EncodeToString(a[:4]) }

func (id MsgID) String() string { return hex.EncodeToString(id[:]) }

func (id MsgID) Short() string { return hex.EncodeToString(id[:4]) }

func (l Link) IsZero() bool { return l == Link{} }

// Base returns the channel address of the link.
func (l Link) Base() Address { return l.Addr }

// Bytes returns address||msgid.
func (l Link) Bytes() []byte {
	out := make([]byte, 0, 2*Size)
	out = append(out, l.Addr[:]...)
	out = append(out, l.ID[:]...)
	return out
}

// FromBytes parses the output of Link.Bytes.
func FromBytes(b []byte) (Link, error) {
	if len(b) != 2*Size {
		return Link{}, fmt.Errorf("%w: length %d", ErrInvalidLink, len(b))
	}
	var l Link
	copy(l.Addr[:], b[:Size])
	copy(l.ID[:], b[Size:])
	return l, nil
}

// CID returns the ledger key for the link.
func (l Link) CID() cid.Cid {
	mh, err := multihash.Sum(l.Bytes(), multihash.IDENTITY, -1)
	if err != nil {
		// identity hashing of a fixed-size input cannot fail.
		return cid.Undef
	}
	return cid.NewCidV1(cid.Raw, mh)
}

// FromCID recovers a Link from its CID form.
func FromCID(id cid.Cid) (Link, error) {
	if !id.Defined() {
		return Link{}, ErrInvalidLink
	}
	if id.Type() != cid.Raw {
		return Link{}, fmt.Errorf("%w: unexpected codec %d", ErrInvalidLink, id.Type())
	}
	dec, err := multihash.Decode(id.Hash())
	if err != nil {
		return Link{}, fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	if dec.Code != multihash.IDENTITY {
		return Link{}, fmt.Errorf("%w: not an identity multihash", ErrInvalidLink)
	}
	return FromBytes(dec.Digest)
}

// String returns the CID text form of the link.
func (l Link) String() string { return l.CID().String() }

// Parse parses the text form produced by Link.String.
func Parse(s string) (Link, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return Link{}, fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	return FromCID(id)
}
