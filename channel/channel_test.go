package channel_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"xdao.co/streams/channel"
	"xdao.co/streams/keys"
	"xdao.co/streams/ledger/memory"
	"xdao.co/streams/link"
	"xdao.co/streams/message"
	"xdao.co/streams/seal"
	"xdao.co/streams/transport"
)

var (
	public = []byte("PUBLICPAYLOAD")
	masked = []byte("MASKEDPAYLOAD")
)

func newTransport() *transport.Ledger {
	return transport.New(memory.New(), zerolog.Nop())
}

func send(t *testing.T, tr *transport.Ledger, msgs ...*message.Binary) {
	t.Helper()
	if err := tr.SendAll(context.Background(), msgs...); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func parse(t *testing.T, msg *message.Binary) *message.Preparsed {
	t.Helper()
	p, err := msg.ParseHeader()
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	return p
}

func mustAuthor(t *testing.T, opts ...channel.Option) *channel.Author {
	t.Helper()
	a, err := channel.NewAuthor("AUTHOR9SEED", opts...)
	if err != nil {
		t.Fatalf("NewAuthor: %v", err)
	}
	return a
}

func mustSubscriber(t *testing.T, seed string, opts ...channel.Option) *channel.Subscriber {
	t.Helper()
	s, err := channel.NewSubscriber(seed, opts...)
	if err != nil {
		t.Fatalf("NewSubscriber(%s): %v", seed, err)
	}
	return s
}

// fixture is an announced channel with subscribers that have all adopted
// the announcement.
type fixture struct {
	author *channel.Author
	subs   map[string]*channel.Subscriber
	ann    *message.Binary
}

func announced(t *testing.T, multi bool, seeds ...string) fixture {
	t.Helper()
	a := mustAuthor(t, channel.WithMultiBranching(multi))
	ann, err := a.Announce()
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	f := fixture{author: a, subs: map[string]*channel.Subscriber{}, ann: ann}
	p := parse(t, ann)
	for _, seed := range seeds {
		s := mustSubscriber(t, seed)
		if err := s.UnwrapAnnouncement(p.Clone()); err != nil {
			t.Fatalf("UnwrapAnnouncement(%s): %v", seed, err)
		}
		f.subs[seed] = s
	}
	return f
}

func (f fixture) admit(t *testing.T, seed string) keys.ID {
	t.Helper()
	s := f.subs[seed]
	sub, err := s.Subscribe(f.ann.Link)
	if err != nil {
		t.Fatalf("Subscribe(%s): %v", seed, err)
	}
	id, err := f.author.UnwrapSubscribe(parse(t, sub))
	if err != nil {
		t.Fatalf("UnwrapSubscribe(%s): %v", seed, err)
	}
	if id.ID() != s.Identity().ID() {
		t.Fatalf("admitted identity mismatch for %s", seed)
	}
	return id.ID()
}

func TestAnnouncementAddressAgreement(t *testing.T) {
	f := announced(t, true, "SUBSCRIBERA9SEED", "SUBSCRIBERB9SEED", "SUBSCRIBERC9SEED")
	want := f.author.ChannelAddress()
	if want.IsZero() {
		t.Fatalf("author address must be set after Announce")
	}
	for seed, s := range f.subs {
		if s.ChannelAddress() != want {
			t.Fatalf("%s derived a different channel address", seed)
		}
		if !s.IsMultiBranching() {
			t.Fatalf("%s must adopt the announced branching mode", seed)
		}
		if s.AnnouncementLink() != f.ann.Link {
			t.Fatalf("%s announcement link mismatch", seed)
		}
	}
}

func TestAnnouncementOverridesBranchingOption(t *testing.T) {
	a := mustAuthor(t, channel.WithMultiBranching(false))
	ann, err := a.Announce()
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	s := mustSubscriber(t, "SUBSCRIBERA9SEED", channel.WithMultiBranching(true))
	if err := s.UnwrapAnnouncement(parse(t, ann)); err != nil {
		t.Fatalf("UnwrapAnnouncement: %v", err)
	}
	if s.IsMultiBranching() {
		t.Fatalf("subscriber must follow the announcement, not its option")
	}
	// Same announcement again is a no-op.
	if err := s.UnwrapAnnouncement(parse(t, ann)); err != nil {
		t.Fatalf("repeated UnwrapAnnouncement: %v", err)
	}

	other, err := channel.NewAuthor("OTHER9AUTHOR9SEED")
	if err != nil {
		t.Fatalf("NewAuthor: %v", err)
	}
	otherAnn, err := other.Announce()
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if err := s.UnwrapAnnouncement(parse(t, otherAnn)); !channel.IsKind(err, channel.KindState) {
		t.Fatalf("expected KindState for a second channel, got %v", err)
	}
}

func TestAnnounceTwicePanics(t *testing.T) {
	a := mustAuthor(t)
	if _, err := a.Announce(); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on second Announce")
		}
	}()
	_, _ = a.Announce()
}

func TestKeyloadRecipientsExactlyR(t *testing.T) {
	f := announced(t, true, "SUBSCRIBERA9SEED", "SUBSCRIBERB9SEED", "SUBSCRIBERC9SEED")
	idA := f.admit(t, "SUBSCRIBERA9SEED")
	f.admit(t, "SUBSCRIBERB9SEED")

	kl, seq, err := f.author.ShareKeyloadFor(f.ann.Link, []keys.ID{idA})
	if err != nil {
		t.Fatalf("ShareKeyloadFor: %v", err)
	}
	if seq == nil {
		t.Fatalf("multi-branch keyload must come with a sequence entry")
	}
	p := parse(t, kl)

	if err := f.subs["SUBSCRIBERA9SEED"].UnwrapKeyload(p.Clone()); err != nil {
		t.Fatalf("recipient A: %v", err)
	}
	for _, seed := range []string{"SUBSCRIBERB9SEED", "SUBSCRIBERC9SEED"} {
		s := f.subs[seed]
		err := s.UnwrapKeyload(p.Clone())
		if !errors.Is(err, channel.ErrNotAuthorized) || !channel.IsKind(err, channel.KindAuthorization) {
			t.Fatalf("%s: expected ErrNotAuthorized, got %v", seed, err)
		}
		if n := len(s.Snapshot().GroupKeys); n != 0 {
			t.Fatalf("%s: denied keyload must install nothing, got %d keys", seed, n)
		}
	}

	// Keyload for everyone now reaches A and B but still not C.
	kl2, _, err := f.author.ShareKeyloadForEveryone(f.ann.Link)
	if err != nil {
		t.Fatalf("ShareKeyloadForEveryone: %v", err)
	}
	p2 := parse(t, kl2)
	for _, seed := range []string{"SUBSCRIBERA9SEED", "SUBSCRIBERB9SEED"} {
		if err := f.subs[seed].UnwrapKeyload(p2.Clone()); err != nil {
			t.Fatalf("%s: %v", seed, err)
		}
	}
	if err := f.subs["SUBSCRIBERC9SEED"].UnwrapKeyload(p2); !errors.Is(err, channel.ErrNotAuthorized) {
		t.Fatalf("C: expected ErrNotAuthorized, got %v", err)
	}

	// Repeated unwraps are idempotent.
	if err := f.subs["SUBSCRIBERA9SEED"].UnwrapKeyload(p2.Clone()); err != nil {
		t.Fatalf("repeated keyload: %v", err)
	}
	if n := len(f.subs["SUBSCRIBERA9SEED"].Snapshot().GroupKeys); n != 2 {
		t.Fatalf("A should hold 2 keys, got %d", n)
	}
}

func TestShareKeyloadForUnknownIdentity(t *testing.T) {
	f := announced(t, true, "SUBSCRIBERC9SEED")
	stranger := f.subs["SUBSCRIBERC9SEED"].Identity().ID()
	_, _, err := f.author.ShareKeyloadFor(f.ann.Link, []keys.ID{stranger})
	if !channel.IsKind(err, channel.KindState) {
		t.Fatalf("expected KindState, got %v", err)
	}
}

func TestTaggedPacketReadableByKeyHoldersOnly(t *testing.T) {
	f := announced(t, true, "SUBSCRIBERA9SEED", "SUBSCRIBERB9SEED", "SUBSCRIBERC9SEED")
	f.admit(t, "SUBSCRIBERA9SEED")
	kl, klSeq, err := f.author.ShareKeyloadForEveryone(f.ann.Link)
	if err != nil {
		t.Fatalf("ShareKeyloadForEveryone: %v", err)
	}
	a := f.subs["SUBSCRIBERA9SEED"]
	if err := a.UnwrapKeyload(parse(t, kl)); err != nil {
		t.Fatalf("UnwrapKeyload: %v", err)
	}

	pkt, _, err := a.TagPacket(klSeq.Link, public, masked)
	if err != nil {
		t.Fatalf("TagPacket: %v", err)
	}
	p := parse(t, pkt)
	before := p.Clone()

	got, err := f.author.UnwrapTaggedPacket(p)
	if err != nil {
		t.Fatalf("author UnwrapTaggedPacket: %v", err)
	}
	if !bytes.Equal(got.Public, public) || !bytes.Equal(got.Masked, masked) {
		t.Fatalf("payload round trip mismatch: %q / %q", got.Public, got.Masked)
	}
	for _, seed := range []string{"SUBSCRIBERB9SEED", "SUBSCRIBERC9SEED"} {
		if _, err := f.subs[seed].UnwrapTaggedPacket(p); !errors.Is(err, channel.ErrNotAuthorized) {
			t.Fatalf("%s: expected ErrNotAuthorized, got %v", seed, err)
		}
	}
	if !p.Equal(before) {
		t.Fatalf("unwrapping must not modify the parsed envelope")
	}

	if err := f.author.UnwrapKeyload(p); !channel.IsKind(err, channel.KindProtocol) {
		t.Fatalf("expected KindProtocol on content type mismatch, got %v", err)
	}
}

func TestSignedPacketMutationDetected(t *testing.T) {
	f := announced(t, true, "SUBSCRIBERA9SEED")
	f.admit(t, "SUBSCRIBERA9SEED")
	kl, klSeq, err := f.author.ShareKeyloadForEveryone(f.ann.Link)
	if err != nil {
		t.Fatalf("ShareKeyloadForEveryone: %v", err)
	}
	a := f.subs["SUBSCRIBERA9SEED"]
	if err := a.UnwrapKeyload(parse(t, kl)); err != nil {
		t.Fatalf("UnwrapKeyload: %v", err)
	}

	signed, _, err := f.author.SignPacket(klSeq.Link, public, masked)
	if err != nil {
		t.Fatalf("SignPacket: %v", err)
	}
	signer, got, err := a.UnwrapSignedPacket(parse(t, signed))
	if err != nil {
		t.Fatalf("UnwrapSignedPacket: %v", err)
	}
	if !signer.Equal(f.author.Identity()) {
		t.Fatalf("signer must be the author")
	}
	if !bytes.Equal(got.Public, public) || !bytes.Equal(got.Masked, masked) {
		t.Fatalf("payload mismatch")
	}

	// Flip the last signature byte: decryption still works, verification must not.
	badSig := signed.Clone()
	badSig.Body[len(badSig.Body)-1] ^= 0x01
	if _, _, err := a.UnwrapSignedPacket(parse(t, badSig)); !errors.Is(err, channel.ErrNotAuthorized) {
		t.Fatalf("mutated signature: expected ErrNotAuthorized, got %v", err)
	}

	// Flip a byte of the public part.
	badPublic := signed.Clone()
	i := bytes.Index(badPublic.Body, public)
	if i < 0 {
		t.Fatalf("public payload not found in envelope")
	}
	badPublic.Body[i] ^= 0x20
	if _, _, err := a.UnwrapSignedPacket(parse(t, badPublic)); !errors.Is(err, channel.ErrNotAuthorized) {
		t.Fatalf("mutated body: expected ErrNotAuthorized, got %v", err)
	}
}

func TestUnwrapSubscribeRejectsTampering(t *testing.T) {
	f := announced(t, true, "SUBSCRIBERA9SEED")
	sub, err := f.subs["SUBSCRIBERA9SEED"].Subscribe(f.ann.Link)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	bad := sub.Clone()
	bad.Body[len(bad.Body)-1] ^= 0x01
	if _, err := f.author.UnwrapSubscribe(parse(t, bad)); !errors.Is(err, channel.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if n := len(f.author.Snapshot().Identities); n != 0 {
		t.Fatalf("tampered subscription must not register anyone, got %d", n)
	}

	// The untouched request still works, twice.
	for i := 0; i < 2; i++ {
		if _, err := f.author.UnwrapSubscribe(parse(t, sub)); err != nil {
			t.Fatalf("UnwrapSubscribe #%d: %v", i, err)
		}
	}
	snap := f.author.Snapshot()
	if len(snap.Identities) != 1 || !snap.Identities[0].HasSecret || snap.Identities[0].Admitted != sub.Link.String() {
		t.Fatalf("unexpected registry %+v", snap.Identities)
	}
}

func TestUnwrapSubscribeRejectsLowOrderExchangeKey(t *testing.T) {
	f := announced(t, true)
	id, err := keys.FromSeed("SUBSCRIBERX9SEED", keys.Ed25519)
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	pub := id.Public()
	pub.ExchangeKey = [32]byte{1}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	proof, err := id.Sign(message.ClaimInput(f.ann.Link, pubBytes))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claim, err := message.SubscribeClaim{Subscriber: pub, Proof: proof}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	h := message.Header{
		ContentType: message.Subscribe,
		Link:        link.Derive(f.author.ChannelAddress(), pub.ID(), 0, f.ann.Link),
		Publisher:   pub.ID(),
		LinkTo:      f.ann.Link,
	}
	box, err := seal.SealTo(f.author.Identity().ExchangeKey, claim, h.Bytes())
	if err != nil {
		t.Fatalf("SealTo: %v", err)
	}
	msg, _ := message.Encode(h, message.SubscribeBody{Box: box}.Encode())
	if _, err := f.author.UnwrapSubscribe(parse(t, msg)); !errors.Is(err, channel.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestStateErrors(t *testing.T) {
	s := mustSubscriber(t, "SUBSCRIBERA9SEED")
	if _, err := s.Subscribe(link.Link{}); !channel.IsKind(err, channel.KindState) {
		t.Fatalf("Subscribe before announcement: expected KindState, got %v", err)
	}
	if _, _, err := s.TagPacket(link.Link{}, public, masked); !channel.IsKind(err, channel.KindState) {
		t.Fatalf("TagPacket before announcement: expected KindState, got %v", err)
	}

	f := announced(t, true, "SUBSCRIBERA9SEED")
	a := f.subs["SUBSCRIBERA9SEED"]
	_, _, err := a.TagPacket(f.ann.Link, public, masked)
	if !channel.IsKind(err, channel.KindState) {
		t.Fatalf("TagPacket without group key: expected KindState, got %v", err)
	}
	if channel.RuleID(err) == "" {
		t.Fatalf("structured errors must carry a rule id")
	}
	if _, err := a.FetchNext(context.Background(), newTransport()); err != nil {
		t.Fatalf("FetchNext on empty ledger: %v", err)
	}
}

func TestFetchNextInSequenceOrder(t *testing.T) {
	const n = 5
	ctx := context.Background()
	tr := newTransport()
	f := announced(t, true, "SUBSCRIBERA9SEED", "SUBSCRIBERB9SEED")
	f.admit(t, "SUBSCRIBERA9SEED")
	f.admit(t, "SUBSCRIBERB9SEED")
	kl, klSeq, err := f.author.ShareKeyloadForEveryone(f.ann.Link)
	if err != nil {
		t.Fatalf("ShareKeyloadForEveryone: %v", err)
	}
	send(t, tr, kl, klSeq)

	a, b := f.subs["SUBSCRIBERA9SEED"], f.subs["SUBSCRIBERB9SEED"]
	if _, err := a.FetchNext(ctx, tr); err != nil {
		t.Fatalf("A FetchNext: %v", err)
	}

	var pending []*message.Binary
	anchor := klSeq.Link
	for i := 0; i < n; i++ {
		pkt, seq, err := a.TagPacket(anchor, []byte{byte('0' + i)}, masked)
		if err != nil {
			t.Fatalf("TagPacket %d: %v", i, err)
		}
		pending = append(pending, pkt, seq)
		anchor = seq.Link
	}
	// Hand the ledger everything in reverse.
	for i := len(pending) - 1; i >= 0; i-- {
		send(t, tr, pending[i])
	}

	got, err := b.FetchNext(ctx, tr)
	if err != nil {
		t.Fatalf("B FetchNext: %v", err)
	}
	var packets []channel.Fetched
	for _, m := range got {
		if m.ContentType == message.TaggedPacket {
			packets = append(packets, m)
		}
	}
	if len(packets) != n {
		t.Fatalf("expected %d packets, got %d (%d messages)", n, len(packets), len(got))
	}
	for i, m := range packets {
		if m.Err != nil {
			t.Fatalf("packet %d: %v", i, m.Err)
		}
		if m.SeqNo != uint64(i+1) || string(m.Payload.Public) != string(rune('0'+i)) {
			t.Fatalf("packet %d out of order: seq=%d public=%q", i, m.SeqNo, m.Payload.Public)
		}
	}

	again, err := b.FetchNext(ctx, tr)
	if err != nil || len(again) != 0 {
		t.Fatalf("second FetchNext must find nothing, got %d, %v", len(again), err)
	}
}

// sequenceEntry builds an unsigned sequence entry the way any ledger
// writer could.
func sequenceEntry(t *testing.T, addr link.Address, publisher keys.ID, seqNo uint64, ref link.Link) *message.Preparsed {
	t.Helper()
	h := message.Header{
		ContentType: message.Sequence,
		Link:        link.Sequence(addr, publisher, seqNo),
		Publisher:   publisher,
		SeqNo:       seqNo,
		LinkTo:      ref,
	}
	msg, _ := message.Encode(h, message.SequenceBody{Publisher: publisher, SeqNo: seqNo, Ref: ref}.Encode())
	return parse(t, msg)
}

func TestUnwrapSequenceChecksBranchPosition(t *testing.T) {
	ctx := context.Background()
	tr := newTransport()
	f := announced(t, true, "SUBSCRIBERA9SEED")
	aID := f.admit(t, "SUBSCRIBERA9SEED")
	kl, klSeq, err := f.author.ShareKeyloadForEveryone(f.ann.Link)
	if err != nil {
		t.Fatalf("ShareKeyloadForEveryone: %v", err)
	}
	send(t, tr, kl, klSeq)
	a := f.subs["SUBSCRIBERA9SEED"]
	if _, err := a.FetchNext(ctx, tr); err != nil {
		t.Fatalf("A FetchNext: %v", err)
	}
	pkt, pktSeq, err := a.TagPacket(klSeq.Link, public, masked)
	if err != nil {
		t.Fatalf("TagPacket: %v", err)
	}
	send(t, tr, pkt, pktSeq)

	addr := f.author.ChannelAddress()
	for name, p := range map[string]*message.Preparsed{
		"ahead of the branch": sequenceEntry(t, addr, aID, 50, kl.Link),
		"untracked branch":    sequenceEntry(t, addr, keys.ID{9}, 1, kl.Link),
	} {
		if _, err := f.author.UnwrapSequence(p); !channel.IsKind(err, channel.KindProtocol) {
			t.Fatalf("%s: expected KindProtocol, got %v", name, err)
		}
	}

	// Right position, but it names a message A never published.
	ref, err := f.author.UnwrapSequence(sequenceEntry(t, addr, aID, 1, kl.Link))
	if err != nil || ref != kl.Link {
		t.Fatalf("UnwrapSequence: %v, %v", ref, err)
	}
	if err := f.author.UnwrapKeyload(parse(t, kl)); !channel.IsKind(err, channel.KindProtocol) {
		t.Fatalf("expected KindProtocol for a mismatched message, got %v", err)
	}

	got, err := f.author.FetchNext(ctx, tr)
	if err != nil {
		t.Fatalf("author FetchNext: %v", err)
	}
	if len(got) != 1 || got[0].Link != pkt.Link || got[0].Err != nil || !bytes.Equal(got[0].Payload.Masked, masked) {
		t.Fatalf("author must still read A's packet: %+v", got)
	}

	// The genuine entry is now behind the branch and resolves without
	// moving it.
	ref, err = f.author.UnwrapSequence(parse(t, pktSeq))
	if err != nil || ref != pkt.Link {
		t.Fatalf("UnwrapSequence(genuine): %v, %v", ref, err)
	}
}

func TestFetchNextReportsDenials(t *testing.T) {
	ctx := context.Background()
	tr := newTransport()
	f := announced(t, true, "SUBSCRIBERA9SEED", "SUBSCRIBERC9SEED")
	idA := f.admit(t, "SUBSCRIBERA9SEED")
	kl, klSeq, err := f.author.ShareKeyloadFor(f.ann.Link, []keys.ID{idA})
	if err != nil {
		t.Fatalf("ShareKeyloadFor: %v", err)
	}
	send(t, tr, kl, klSeq)
	sp, spSeq, err := f.author.SignPacket(klSeq.Link, public, masked)
	if err != nil {
		t.Fatalf("SignPacket: %v", err)
	}
	send(t, tr, sp, spSeq)

	got, err := f.subs["SUBSCRIBERC9SEED"].FetchNext(ctx, tr)
	if err != nil {
		t.Fatalf("FetchNext: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	for _, m := range got {
		if !errors.Is(m.Err, channel.ErrNotAuthorized) {
			t.Fatalf("%s: expected ErrNotAuthorized, got %v", m.ContentType, m.Err)
		}
	}

	got, err = f.subs["SUBSCRIBERA9SEED"].FetchNext(ctx, tr)
	if err != nil {
		t.Fatalf("FetchNext: %v", err)
	}
	if len(got) != 2 || got[1].Signer == nil || !got[1].Signer.Equal(f.author.Identity()) {
		t.Fatalf("A must read the keyload and the signed packet: %+v", got)
	}
}

func TestFetchNextHonorsCancellation(t *testing.T) {
	f := announced(t, true, "SUBSCRIBERA9SEED")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.subs["SUBSCRIBERA9SEED"].FetchNext(ctx, newTransport()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSingleBranch(t *testing.T) {
	ctx := context.Background()
	tr := newTransport()
	f := announced(t, false, "SUBSCRIBERA9SEED", "SUBSCRIBERB9SEED")
	send(t, tr, f.ann)
	f.admit(t, "SUBSCRIBERA9SEED")
	f.admit(t, "SUBSCRIBERB9SEED")

	kl, seq, err := f.author.ShareKeyloadForEveryone(f.ann.Link)
	if err != nil {
		t.Fatalf("ShareKeyloadForEveryone: %v", err)
	}
	if seq != nil {
		t.Fatalf("single-branch channels have no sequence entries")
	}
	send(t, tr, kl)

	a, b := f.subs["SUBSCRIBERA9SEED"], f.subs["SUBSCRIBERB9SEED"]
	if got, err := a.FetchNext(ctx, tr); err != nil || len(got) != 1 || got[0].Err != nil {
		t.Fatalf("A FetchNext: %+v, %v", got, err)
	}
	pkt, seq, err := a.TagPacket(kl.Link, public, masked)
	if err != nil {
		t.Fatalf("TagPacket: %v", err)
	}
	if seq != nil {
		t.Fatalf("single-branch packets have no sequence entries")
	}
	send(t, tr, pkt)

	got, err := b.FetchNext(ctx, tr)
	if err != nil {
		t.Fatalf("B FetchNext: %v", err)
	}
	if len(got) != 2 || got[1].Err != nil || !bytes.Equal(got[1].Payload.Masked, masked) {
		t.Fatalf("B must read keyload then packet: %+v", got)
	}

	// The author follows the shared chain too.
	got, err = f.author.FetchNext(ctx, tr)
	if err != nil || len(got) != 1 || got[0].Link != pkt.Link {
		t.Fatalf("author FetchNext: %+v, %v", got, err)
	}
	if _, err := f.author.UnwrapSequence(parse(t, kl)); !channel.IsKind(err, channel.KindProtocol) {
		t.Fatalf("expected KindProtocol, got %v", err)
	}
}

func TestDilithiumIdentities(t *testing.T) {
	a := mustAuthor(t, channel.WithMultiBranching(true), channel.WithScheme(keys.Dilithium3))
	ann, err := a.Announce()
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	s := mustSubscriber(t, "SUBSCRIBERA9SEED", channel.WithScheme(keys.Dilithium3))
	if err := s.UnwrapAnnouncement(parse(t, ann)); err != nil {
		t.Fatalf("UnwrapAnnouncement: %v", err)
	}
	sub, err := s.Subscribe(ann.Link)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := a.UnwrapSubscribe(parse(t, sub)); err != nil {
		t.Fatalf("UnwrapSubscribe: %v", err)
	}
	kl, klSeq, err := a.ShareKeyloadForEveryone(ann.Link)
	if err != nil {
		t.Fatalf("ShareKeyloadForEveryone: %v", err)
	}
	if err := s.UnwrapKeyload(parse(t, kl)); err != nil {
		t.Fatalf("UnwrapKeyload: %v", err)
	}
	sp, _, err := s.SignPacket(klSeq.Link, public, masked)
	if err != nil {
		t.Fatalf("SignPacket: %v", err)
	}
	signer, _, err := a.UnwrapSignedPacket(parse(t, sp))
	if err != nil {
		t.Fatalf("UnwrapSignedPacket: %v", err)
	}
	if signer.Scheme != keys.Dilithium3 || signer.ID() != s.Identity().ID() {
		t.Fatalf("unexpected signer %s", signer.ID().Short())
	}
}

func TestConcurrentUseIsSerialized(t *testing.T) {
	f := announced(t, true, "SUBSCRIBERA9SEED")
	f.admit(t, "SUBSCRIBERA9SEED")
	if _, _, err := f.author.ShareKeyloadForEveryone(f.ann.Link); err != nil {
		t.Fatalf("ShareKeyloadForEveryone: %v", err)
	}

	const workers = 8
	links := make(chan link.Link, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pkt, _, err := f.author.TagPacket(f.ann.Link, public, masked)
			if err != nil {
				t.Errorf("TagPacket: %v", err)
				return
			}
			_ = f.author.String()
			links <- pkt.Link
		}()
	}
	wg.Wait()
	close(links)

	seen := map[link.Link]bool{}
	for l := range links {
		if seen[l] {
			t.Fatalf("concurrent publishes minted the same link")
		}
		seen[l] = true
	}
}

func TestIntrospection(t *testing.T) {
	f := announced(t, true, "SUBSCRIBERA9SEED")
	f.admit(t, "SUBSCRIBERA9SEED")

	before := f.author.String()
	snap := f.author.Snapshot()
	if f.author.String() != before {
		t.Fatalf("String must be side-effect free")
	}
	if snap.Role != "author" || snap.Channel != f.author.ChannelAddress().String() || !snap.MultiBranching {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(snap.Cursors) != 2 {
		t.Fatalf("author should track its own and A's branch, got %d", len(snap.Cursors))
	}
	if got := mustSubscriber(t, "SUBSCRIBERC9SEED").String(); got == "" {
		t.Fatalf("empty dump")
	}
}
