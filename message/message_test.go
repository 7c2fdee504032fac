package message

import (
	"bytes"
	"errors"
	"testing"

	"xdao.co/streams/keys"
	"xdao.co/streams/link"
)

func testHeader(t *testing.T, ct ContentType) Header {
	t.Helper()
	author, err := keys.FromSeed("AUTHOR9SEED", keys.Ed25519)
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	addr := link.NewAddress(author.ID())
	anchor := link.Derive(addr, author.ID(), 0, link.Link{})
	return Header{
		ContentType: ct,
		Link:        link.Derive(addr, author.ID(), 1, anchor),
		Publisher:   author.ID(),
		SeqNo:       1,
		LinkTo:      anchor,
	}
}

func TestParseHeaderRoundTrip(t *testing.T) {
	h := testHeader(t, TaggedPacket)
	msg, hdr := Encode(h, []byte("body"))
	if msg.Link != h.Link {
		t.Fatalf("envelope link mismatch")
	}

	p, err := msg.ParseHeader()
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if p.Header != h {
		t.Fatalf("header mismatch: got %+v want %+v", p.Header, h)
	}
	if !bytes.Equal(p.HeaderBytes(), hdr) {
		t.Fatalf("header bytes must be preserved verbatim")
	}
	if !bytes.Equal(p.Body(), []byte("body")) {
		t.Fatalf("body mismatch")
	}
	if !p.CheckContentType(TaggedPacket) || p.CheckContentType(Keyload) {
		t.Fatalf("CheckContentType mismatch")
	}
}

func TestParseHeaderIsNonDestructive(t *testing.T) {
	msg, _ := Encode(testHeader(t, Keyload), []byte("body"))
	before := msg.Clone()

	a, err := msg.ParseHeader()
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	b, err := msg.ParseHeader()
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("parsing twice must yield equal results")
	}
	if !bytes.Equal(msg.Body, before.Body) {
		t.Fatalf("parsing must not modify the envelope")
	}

	c := a.Clone()
	body := a.Body()
	body[0] ^= 0xff
	if !c.Equal(a) {
		t.Fatalf("mutating a returned body must not affect the parsed envelope")
	}
}

func TestParseHeaderRejectsForeignLink(t *testing.T) {
	msg, _ := Encode(testHeader(t, Sequence), nil)
	msg.Link.ID[0] ^= 1
	if _, err := msg.ParseHeader(); !errors.Is(err, ErrLinkMismatch) {
		t.Fatalf("expected ErrLinkMismatch, got %v", err)
	}

	bad := &Binary{Link: msg.Link, Body: []byte{0, 1, 2}}
	if _, err := bad.ParseHeader(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestKeyloadBodyPreservesRecipientOrder(t *testing.T) {
	var in KeyloadBody
	for _, seed := range []string{"A", "B", "C"} {
		id, _ := keys.FromSeed(seed, keys.Ed25519)
		in.Recipients = append(in.Recipients, Recipient{Identity: id.Public(), Nonce: []byte(seed), Wrapped: []byte("k" + seed)})
	}
	in.Signature = []byte("sig")

	enc, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := DecodeKeyload(enc)
	if err != nil {
		t.Fatalf("DecodeKeyload: %v", err)
	}
	if len(out.Recipients) != 3 {
		t.Fatalf("recipient count: got %d", len(out.Recipients))
	}
	for i := range in.Recipients {
		if out.Recipients[i].Identity.ID() != in.Recipients[i].Identity.ID() || !bytes.Equal(out.Recipients[i].Wrapped, in.Recipients[i].Wrapped) {
			t.Fatalf("recipient %d mismatch", i)
		}
	}
	if string(out.Signature) != "sig" {
		t.Fatalf("signature mismatch")
	}
}

func TestPacketBodySignatureOnlyOnSignedPackets(t *testing.T) {
	h := testHeader(t, SignedPacket)
	in := PacketBody{Keyload: h.LinkTo, Public: []byte("pub"), Nonce: []byte("n"), Masked: []byte("m"), Signature: []byte("s")}

	out, err := DecodePacket(SignedPacket, in.Encode(true))
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	if string(out.Signature) != "s" || out.Keyload != h.LinkTo {
		t.Fatalf("signed packet mismatch: %+v", out)
	}
	if _, err := DecodePacket(SignedPacket, in.Encode(false)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected missing signature to be malformed, got %v", err)
	}
	tagged, err := DecodePacket(TaggedPacket, in.Encode(false))
	if err != nil {
		t.Fatalf("DecodePacket(tagged): %v", err)
	}
	if tagged.Signature != nil {
		t.Fatalf("tagged packets carry no signature")
	}
}

func TestContentTypeString(t *testing.T) {
	if Announce.String() != "ANNOUNCE" || SignedPacket.String() != "SIGNED_PACKET" {
		t.Fatalf("unexpected names")
	}
	if ContentType(42).String() != "UNKNOWN(42)" {
		t.Fatalf("unexpected unknown name %q", ContentType(42).String())
	}
}
