package message

import (
	"fmt"

	"xdao.co/streams/keys"
	"xdao.co/streams/link"
	"xdao.co/streams/seal"
	"xdao.co/streams/tlv"
)

const fieldSignature uint16 = 15

// SigningInput is the byte string covered by a body signature.
func SigningInput(header, unsigned []byte) []byte {
	out := make([]byte, 0, len(header)+len(unsigned))
	out = append(out, header...)
	return append(out, unsigned...)
}

func withSignature(unsigned, sig []byte) []byte {
	return append(append([]byte(nil), unsigned...), tlv.EncodeField(tlv.Bytes(fieldSignature, sig))...)
}

func signature(fields []tlv.Field) ([]byte, error) {
	f, err := tlv.Require(fields, fieldSignature, tlv.TypeBytes)
	if err != nil {
		return nil, err
	}
	return f.Value, nil
}

func identityField(fields []tlv.Field, id uint16) (keys.PublicIdentity, error) {
	f, err := tlv.Require(fields, id, tlv.TypeBytes)
	if err != nil {
		return keys.PublicIdentity{}, err
	}
	var p keys.PublicIdentity
	if err := p.UnmarshalBinary(f.Value); err != nil {
		return keys.PublicIdentity{}, err
	}
	return p, nil
}

func bytesField(fields []tlv.Field, id uint16) ([]byte, error) {
	f, err := tlv.Require(fields, id, tlv.TypeBytes)
	if err != nil {
		return nil, err
	}
	return f.Value, nil
}

func malformed(ct ContentType, err error) error {
	return fmt.Errorf("%w: %s body: %v", ErrMalformed, ct, err)
}

// AnnounceBody publishes the Author identity and the branching mode.
type AnnounceBody struct {
	Author         keys.PublicIdentity
	MultiBranching bool
	Signature      []byte
}

func (b AnnounceBody) Unsigned() ([]byte, error) {
	author, err := b.Author.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return tlv.EncodeFields([]tlv.Field{
		tlv.Bytes(1, author),
		tlv.Bool(2, b.MultiBranching),
	}), nil
}

func (b AnnounceBody) Encode() ([]byte, error) {
	u, err := b.Unsigned()
	if err != nil {
		return nil, err
	}
	return withSignature(u, b.Signature), nil
}

func DecodeAnnounce(body []byte) (AnnounceBody, error) {
	fields, err := tlv.DecodeFields(body)
	if err != nil {
		return AnnounceBody{}, malformed(Announce, err)
	}
	var out AnnounceBody
	if out.Author, err = identityField(fields, 1); err != nil {
		return AnnounceBody{}, malformed(Announce, err)
	}
	f, err := tlv.Require(fields, 2, tlv.TypeBool)
	if err != nil {
		return AnnounceBody{}, malformed(Announce, err)
	}
	if out.MultiBranching, err = f.AsBool(); err != nil {
		return AnnounceBody{}, malformed(Announce, err)
	}
	if out.Signature, err = signature(fields); err != nil {
		return AnnounceBody{}, malformed(Announce, err)
	}
	return out, nil
}

// SubscribeBody carries a SubscribeClaim sealed to the Author's exchange key.
type SubscribeBody struct {
	Box seal.Box
}

func (b SubscribeBody) Encode() []byte {
	return tlv.EncodeFields([]tlv.Field{
		tlv.Bytes(1, b.Box.Ephemeral[:]),
		tlv.Bytes(2, b.Box.Nonce),
		tlv.Bytes(3, b.Box.Ciphertext),
	})
}

func DecodeSubscribe(body []byte) (SubscribeBody, error) {
	fields, err := tlv.DecodeFields(body)
	if err != nil {
		return SubscribeBody{}, malformed(Subscribe, err)
	}
	f, err := tlv.Require(fields, 1, tlv.TypeBytes)
	if err != nil {
		return SubscribeBody{}, malformed(Subscribe, err)
	}
	eph, err := f.AsFixed(32)
	if err != nil {
		return SubscribeBody{}, malformed(Subscribe, err)
	}
	var out SubscribeBody
	copy(out.Box.Ephemeral[:], eph)
	if out.Box.Nonce, err = bytesField(fields, 2); err != nil {
		return SubscribeBody{}, malformed(Subscribe, err)
	}
	if out.Box.Ciphertext, err = bytesField(fields, 3); err != nil {
		return SubscribeBody{}, malformed(Subscribe, err)
	}
	return out, nil
}

// SubscribeClaim is the sealed content of a subscription: the subscriber's
// identity and a signature proving possession of its signing key.
type SubscribeClaim struct {
	Subscriber keys.PublicIdentity
	Proof      []byte
}

// ClaimInput is the byte string signed by a subscriber.
func ClaimInput(announcement link.Link, subscriber []byte) []byte {
	out := announcement.Bytes()
	return append(out, subscriber...)
}

func (c SubscribeClaim) Encode() ([]byte, error) {
	id, err := c.Subscriber.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return tlv.EncodeFields([]tlv.Field{tlv.Bytes(1, id), tlv.Bytes(2, c.Proof)}), nil
}

func DecodeSubscribeClaim(b []byte) (SubscribeClaim, error) {
	fields, err := tlv.DecodeFields(b)
	if err != nil {
		return SubscribeClaim{}, malformed(Subscribe, err)
	}
	var out SubscribeClaim
	if out.Subscriber, err = identityField(fields, 1); err != nil {
		return SubscribeClaim{}, malformed(Subscribe, err)
	}
	if out.Proof, err = bytesField(fields, 2); err != nil {
		return SubscribeClaim{}, malformed(Subscribe, err)
	}
	return out, nil
}

// Recipient is one wrapped copy of a keyload's group key.
type Recipient struct {
	Identity keys.PublicIdentity
	Nonce    []byte
	Wrapped  []byte
}

// KeyloadBody is an ordered list of recipients, signed by the Author.
type KeyloadBody struct {
	Recipients []Recipient
	Signature  []byte
}

func (b KeyloadBody) Unsigned() ([]byte, error) {
	fields := make([]tlv.Field, 0, len(b.Recipients))
	for _, r := range b.Recipients {
		id, err := r.Identity.MarshalBinary()
		if err != nil {
			return nil, err
		}
		entry := tlv.EncodeFields([]tlv.Field{
			tlv.Bytes(1, id),
			tlv.Bytes(2, r.Nonce),
			tlv.Bytes(3, r.Wrapped),
		})
		fields = append(fields, tlv.Bytes(1, entry))
	}
	return tlv.EncodeFields(fields), nil
}

func (b KeyloadBody) Encode() ([]byte, error) {
	u, err := b.Unsigned()
	if err != nil {
		return nil, err
	}
	return withSignature(u, b.Signature), nil
}

func DecodeKeyload(body []byte) (KeyloadBody, error) {
	fields, err := tlv.DecodeFields(body)
	if err != nil {
		return KeyloadBody{}, malformed(Keyload, err)
	}
	var out KeyloadBody
	for _, f := range tlv.GetFields(fields, 1) {
		if err := tlv.MustType(f, tlv.TypeBytes); err != nil {
			return KeyloadBody{}, malformed(Keyload, err)
		}
		entry, err := tlv.DecodeFields(f.Value)
		if err != nil {
			return KeyloadBody{}, malformed(Keyload, err)
		}
		var r Recipient
		if r.Identity, err = identityField(entry, 1); err != nil {
			return KeyloadBody{}, malformed(Keyload, err)
		}
		if r.Nonce, err = bytesField(entry, 2); err != nil {
			return KeyloadBody{}, malformed(Keyload, err)
		}
		if r.Wrapped, err = bytesField(entry, 3); err != nil {
			return KeyloadBody{}, malformed(Keyload, err)
		}
		out.Recipients = append(out.Recipients, r)
	}
	if out.Signature, err = signature(fields); err != nil {
		return KeyloadBody{}, malformed(Keyload, err)
	}
	return out, nil
}

// SequenceBody points at the message a publisher placed at SeqNo.
type SequenceBody struct {
	Publisher keys.ID
	SeqNo     uint64
	Ref       link.Link
}

func (b SequenceBody) Encode() []byte {
	return tlv.EncodeFields([]tlv.Field{
		tlv.Bytes(1, b.Publisher[:]),
		tlv.U64(2, b.SeqNo),
		tlv.Bytes(3, b.Ref.Bytes()),
	})
}

func DecodeSequence(body []byte) (SequenceBody, error) {
	fields, err := tlv.DecodeFields(body)
	if err != nil {
		return SequenceBody{}, malformed(Sequence, err)
	}
	var out SequenceBody
	f, err := tlv.Require(fields, 1, tlv.TypeBytes)
	if err != nil {
		return SequenceBody{}, malformed(Sequence, err)
	}
	pub, err := f.AsFixed(len(out.Publisher))
	if err != nil {
		return SequenceBody{}, malformed(Sequence, err)
	}
	copy(out.Publisher[:], pub)
	f, err = tlv.Require(fields, 2, tlv.TypeU64)
	if err != nil {
		return SequenceBody{}, malformed(Sequence, err)
	}
	if out.SeqNo, err = f.AsU64(); err != nil {
		return SequenceBody{}, malformed(Sequence, err)
	}
	if out.Ref, err = requireLink(fields, 3); err != nil {
		return SequenceBody{}, malformed(Sequence, err)
	}
	return out, nil
}

// PacketBody is the body of a tagged or signed packet. Signature is only
// present on signed packets.
type PacketBody struct {
	Keyload   link.Link
	Public    []byte
	Nonce     []byte
	Masked    []byte
	Signature []byte
}

func (b PacketBody) Unsigned() []byte {
	return tlv.EncodeFields([]tlv.Field{
		tlv.Bytes(1, b.Keyload.Bytes()),
		tlv.Bytes(2, b.Public),
		tlv.Bytes(3, b.Nonce),
		tlv.Bytes(4, b.Masked),
	})
}

func (b PacketBody) Encode(signed bool) []byte {
	if signed {
		return withSignature(b.Unsigned(), b.Signature)
	}
	return b.Unsigned()
}

func DecodePacket(ct ContentType, body []byte) (PacketBody, error) {
	fields, err := tlv.DecodeFields(body)
	if err != nil {
		return PacketBody{}, malformed(ct, err)
	}
	var out PacketBody
	if out.Keyload, err = requireLink(fields, 1); err != nil {
		return PacketBody{}, malformed(ct, err)
	}
	if out.Public, err = bytesField(fields, 2); err != nil {
		return PacketBody{}, malformed(ct, err)
	}
	if out.Nonce, err = bytesField(fields, 3); err != nil {
		return PacketBody{}, malformed(ct, err)
	}
	if out.Masked, err = bytesField(fields, 4); err != nil {
		return PacketBody{}, malformed(ct, err)
	}
	if ct == SignedPacket {
		if out.Signature, err = signature(fields); err != nil {
			return PacketBody{}, malformed(ct, err)
		}
	}
	return out, nil
}

// PacketAAD is the associated data authenticated with a packet's masked part.
func PacketAAD(header, public []byte) []byte {
	out := make([]byte, 0, len(header)+len(public))
	out = append(out, header...)
	return append(out, public...)
}
