// Package message defines the channel envelope and its typed bodies.
//
// An envelope (Binary) is a link plus encoded bytes. The bytes are two tlv
// fields: the encoded header and the encoded body. The header bytes are kept
// verbatim after parsing because they are authenticated as associated data
// and covered by signatures.
package message

import (
	"bytes"
	"errors"
	"fmt"

	"xdao.co/streams/keys"
	"xdao.co/streams/link"
	"xdao.co/streams/tlv"
)

// ContentType tags the body of an envelope.
type ContentType uint8

const (
	Announce ContentType = iota + 1
	Subscribe
	Keyload
	Sequence
	TaggedPacket
	SignedPacket
)

func (c ContentType) String() string {
	switch c {
	case Announce:
		return "ANNOUNCE"
	case Subscribe:
		return "SUBSCRIBE"
	case Keyload:
		return "KEYLOAD"
	case Sequence:
		return "SEQUENCE"
	case TaggedPacket:
		return "TAGGED_PACKET"
	case SignedPacket:
		return "SIGNED_PACKET"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
	}
}

func (c ContentType) valid() bool { return c >= Announce && c <= SignedPacket }

var (
	ErrMalformed    = errors.New("message: malformed envelope")
	ErrLinkMismatch = errors.New("message: header link does not match envelope link")
)

// Header is the public part of every envelope.
type Header struct {
	ContentType ContentType
	Link        link.Link
	Publisher   keys.ID
	SeqNo       uint64
	// LinkTo is the anchor of a packet or keyload, the announcement for a
	// subscription and the referenced message for a sequence entry.
	LinkTo link.Link
}

const (
	hdrContentType uint16 = 1
	hdrLink        uint16 = 2
	hdrPublisher   uint16 = 3
	hdrSeqNo       uint16 = 4
	hdrLinkTo      uint16 = 5

	envHeader uint16 = 1
	envBody   uint16 = 2
)

// Bytes returns the header encoding that is authenticated by bodies.
func (h Header) Bytes() []byte {
	return tlv.EncodeFields([]tlv.Field{
		tlv.U8(hdrContentType, uint8(h.ContentType)),
		tlv.Bytes(hdrLink, h.Link.Bytes()),
		tlv.Bytes(hdrPublisher, h.Publisher[:]),
		tlv.U64(hdrSeqNo, h.SeqNo),
		tlv.Bytes(hdrLinkTo, h.LinkTo.Bytes()),
	})
}

func decodeHeader(b []byte) (Header, error) {
	fields, err := tlv.DecodeFields(b)
	if err != nil {
		return Header{}, err
	}
	var h Header
	f, err := tlv.Require(fields, hdrContentType, tlv.TypeU8)
	if err != nil {
		return Header{}, err
	}
	ct, err := f.AsU8()
	if err != nil {
		return Header{}, err
	}
	h.ContentType = ContentType(ct)
	if !h.ContentType.valid() {
		return Header{}, fmt.Errorf("unknown content type %d", ct)
	}
	if h.Link, err = requireLink(fields, hdrLink); err != nil {
		return Header{}, err
	}
	if h.LinkTo, err = requireLink(fields, hdrLinkTo); err != nil {
		return Header{}, err
	}
	f, err = tlv.Require(fields, hdrPublisher, tlv.TypeBytes)
	if err != nil {
		return Header{}, err
	}
	pub, err := f.AsFixed(len(h.Publisher))
	if err != nil {
		return Header{}, err
	}
	copy(h.Publisher[:], pub)
	f, err = tlv.Require(fields, hdrSeqNo, tlv.TypeU64)
	if err != nil {
		return Header{}, err
	}
	if h.SeqNo, err = f.AsU64(); err != nil {
		return Header{}, err
	}
	return h, nil
}

func requireLink(fields []tlv.Field, id uint16) (link.Link, error) {
	f, err := tlv.Require(fields, id, tlv.TypeBytes)
	if err != nil {
		return link.Link{}, err
	}
	return link.FromBytes(f.Value)
}

// Binary is the unit exchanged through a transport.
type Binary struct {
	Link link.Link
	Body []byte
}

// Encode builds an envelope from a header and an encoded body. It returns the
// envelope and the exact header bytes for use as associated data.
func Encode(h Header, body []byte) (*Binary, []byte) {
	hdr := h.Bytes()
	return &Binary{
		Link: h.Link,
		Body: tlv.EncodeFields([]tlv.Field{tlv.Bytes(envHeader, hdr), tlv.Bytes(envBody, body)}),
	}, hdr
}

// ParseHeader decodes the header without consuming or modifying b.
func (b *Binary) ParseHeader() (*Preparsed, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformed)
	}
	fields, err := tlv.DecodeFields(b.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	hdr, err := tlv.Require(fields, envHeader, tlv.TypeBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	body, err := tlv.Require(fields, envBody, tlv.TypeBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	h, err := decodeHeader(hdr.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	if h.Link != b.Link {
		return nil, ErrLinkMismatch
	}
	return &Preparsed{Header: h, headerBytes: hdr.Value, body: body.Value}, nil
}

func (b *Binary) Clone() *Binary {
	if b == nil {
		return nil
	}
	return &Binary{Link: b.Link, Body: append([]byte(nil), b.Body...)}
}

// Preparsed is a parsed header plus the still-encoded body. Unwrapping only
// reads from it, so one Preparsed can be handed to several participants.
type Preparsed struct {
	Header      Header
	headerBytes []byte
	body        []byte
}

func (p *Preparsed) CheckContentType(ct ContentType) bool {
	return p != nil && p.Header.ContentType == ct
}

// HeaderBytes returns a copy of the authenticated header encoding.
func (p *Preparsed) HeaderBytes() []byte { return append([]byte(nil), p.headerBytes...) }

// Body returns a copy of the encoded body.
func (p *Preparsed) Body() []byte { return append([]byte(nil), p.body...) }

// Clone returns a deep copy.
func (p *Preparsed) Clone() *Preparsed {
	if p == nil {
		return nil
	}
	return &Preparsed{
		Header:      p.Header,
		headerBytes: append([]byte(nil), p.headerBytes...),
		body:        append([]byte(nil), p.body...),
	}
}

// Equal reports whether two parsed envelopes carry identical bytes.
func (p *Preparsed) Equal(o *Preparsed) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.Header == o.Header && bytes.Equal(p.headerBytes, o.headerBytes) && bytes.Equal(p.body, o.body)
}

// Payload is the application content of a packet.
type Payload struct {
	Public []byte
	Masked []byte
}
