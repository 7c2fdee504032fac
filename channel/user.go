package channel

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"xdao.co/streams/keys"
	"xdao.co/streams/link"
	"xdao.co/streams/message"
	"xdao.co/streams/model"
	"xdao.co/streams/seal"
	"xdao.co/streams/state"
)

const (
	keyloadInfo = "xdao-streams-keyload-v1/"
	packetInfo  = "xdao-streams-packet-v1"
)

// user is the state and unwrap pipeline shared by Author and Subscriber.
// Exported methods lock mu; the lowercase ones expect it held.
type user struct {
	mu sync.Mutex

	role string
	id   *keys.Identity
	self keys.ID
	log  zerolog.Logger

	announced    bool
	addr         link.Address
	announcement link.Link
	author       keys.PublicIdentity

	tracker   *state.Tracker
	groupKeys *state.KeyStore
	registry  *state.Registry

	// pending holds sequence entries unwrapped at their branch's next
	// position, keyed by the message they reference.
	pending map[link.Link]message.SequenceBody
}

func newUser(role, seed string, o options) (*user, error) {
	id, err := keys.FromSeed(seed, o.scheme)
	if err != nil {
		return nil, cryptoError("derive identity", err)
	}
	self := id.ID()
	return &user{
		role:      role,
		id:        id,
		self:      self,
		log:       o.logger.With().Str("role", role).Str("identity", self.Short()).Logger(),
		tracker:   state.NewTracker(o.multiBranching, self),
		groupKeys: state.NewKeyStore(),
		registry:  state.NewRegistry(),
		pending:   make(map[link.Link]message.SequenceBody),
	}, nil
}

func (u *user) adopt(addr link.Address, announcement link.Link, author keys.PublicIdentity, multi bool) {
	u.announced = true
	u.addr = addr
	u.announcement = announcement
	u.author = author
	u.tracker.Configure(multi, author.ID())
	u.tracker.Ensure(author.ID(), announcement)
}

func (u *user) requireChannel() error {
	if !u.announced {
		return newError(KindState, ruleNoAnnouncement, "channel announcement unknown")
	}
	return nil
}

// chainOwner is the identity whose chain a publisher's messages are derived on.
func (u *user) chainOwner(publisher keys.ID) keys.ID {
	if u.tracker.MultiBranching() {
		return publisher
	}
	return u.tracker.Owner()
}

func (u *user) knownIdentity(id keys.ID) (keys.PublicIdentity, bool) {
	if u.announced && id == u.author.ID() {
		return u.author, true
	}
	e, ok := u.registry.Get(id)
	if !ok {
		return keys.PublicIdentity{}, false
	}
	return e.Identity, true
}

func (u *user) checkLink(l link.Link) error {
	if l.Addr != u.addr {
		return newError(KindProtocol, ruleForeignLink, fmt.Sprintf("link %s belongs to another channel", l.ID.Short()))
	}
	return nil
}

// checkPosition verifies that a keyload or packet sits where its publisher's
// branch state says it must.
func (u *user) checkPosition(h message.Header) error {
	if err := u.checkLink(h.Link); err != nil {
		return err
	}
	want := link.Derive(u.addr, u.chainOwner(h.Publisher), h.SeqNo, h.LinkTo)
	if h.SeqNo < state.FirstSeqNo || h.Link != want {
		return newError(KindProtocol, ruleLinkPosition, fmt.Sprintf("%s %s is not at its derived position", h.ContentType, h.Link.ID.Short()))
	}
	return nil
}

func (u *user) deny(op string, l link.Link) error {
	u.log.Debug().Str("op", op).Str("link", l.ID.Short()).Msg("denied")
	return ErrNotAuthorized
}

type bodyFunc func(header []byte, at link.Link) ([]byte, error)

// publish mints the next link on the caller's branch, builds the message at
// it and, in multi-branch mode, the sequence entry pointing at it.
func (u *user) publish(ct message.ContentType, anchor link.Link, build bodyFunc) (*message.Binary, *message.Binary, error) {
	if err := u.requireChannel(); err != nil {
		return nil, nil, err
	}
	multi := u.tracker.MultiBranching()

	h := message.Header{ContentType: ct, Publisher: u.self}
	if multi {
		if err := u.checkLink(anchor); err != nil {
			return nil, nil, err
		}
		c := u.tracker.Ensure(u.self, anchor)
		h.SeqNo = c.Next
		h.LinkTo = anchor
	} else {
		c := u.tracker.Ensure(u.self, u.announcement)
		h.SeqNo = c.Next
		h.LinkTo = c.Last
	}
	h.Link = link.Derive(u.addr, u.chainOwner(u.self), h.SeqNo, h.LinkTo)

	body, err := build(h.Bytes(), h.Link)
	if err != nil {
		return nil, nil, err
	}
	msg, _ := message.Encode(h, body)
	u.tracker.Advance(u.self, h.SeqNo, h.Link)

	var seq *message.Binary
	if multi {
		sh := message.Header{
			ContentType: message.Sequence,
			Link:        link.Sequence(u.addr, u.self, h.SeqNo),
			Publisher:   u.self,
			SeqNo:       h.SeqNo,
			LinkTo:      h.Link,
		}
		seq, _ = message.Encode(sh, message.SequenceBody{Publisher: u.self, SeqNo: h.SeqNo, Ref: h.Link}.Encode())
	}
	u.log.Debug().
		Str("type", ct.String()).
		Str("link", h.Link.ID.Short()).
		Uint64("seq", h.SeqNo).
		Msg("published")
	return msg, seq, nil
}

func (u *user) sendPacket(ct message.ContentType, anchor link.Link, public, masked []byte) (*message.Binary, *message.Binary, error) {
	if err := u.requireChannel(); err != nil {
		return nil, nil, err
	}
	kl, gk, ok := u.groupKeys.Latest()
	if !ok {
		return nil, nil, newError(KindState, ruleNoGroupKey, "no group key held")
	}
	return u.publish(ct, anchor, func(header []byte, at link.Link) ([]byte, error) {
		mk, err := packetKey(gk, at)
		if err != nil {
			return nil, cryptoError("derive packet key", err)
		}
		nonce, sealed, err := seal.Seal(mk, masked, message.PacketAAD(header, public))
		if err != nil {
			return nil, cryptoError("seal packet", err)
		}
		body := message.PacketBody{Keyload: kl, Public: public, Nonce: nonce, Masked: sealed}
		signed := ct == message.SignedPacket
		if signed {
			body.Signature, err = u.id.Sign(message.SigningInput(header, body.Unsigned()))
			if err != nil {
				return nil, cryptoError("sign packet", err)
			}
		}
		return body.Encode(signed), nil
	})
}

func packetKey(group seal.Key, at link.Link) (seal.Key, error) {
	return seal.DeriveKey(group[:], at.Bytes(), packetInfo)
}

func wrapKey(secret []byte, keyload link.Link, recipient keys.ID) (seal.Key, error) {
	return seal.DeriveKey(secret, keyload.Bytes(), keyloadInfo+recipient.String())
}

// checkSequence validates a sequence entry without touching any state.
func (u *user) checkSequence(p *message.Preparsed) (message.SequenceBody, error) {
	if !p.CheckContentType(message.Sequence) {
		return message.SequenceBody{}, contentTypeError(message.Sequence, p.Header.ContentType)
	}
	if err := u.requireChannel(); err != nil {
		return message.SequenceBody{}, err
	}
	if !u.tracker.MultiBranching() {
		return message.SequenceBody{}, newError(KindProtocol, ruleContentType, "sequence entries are not used in single-branch channels")
	}
	h := p.Header
	body, err := message.DecodeSequence(p.Body())
	if err != nil {
		return message.SequenceBody{}, wrapError(KindProtocol, ruleMalformed, "decode sequence", err)
	}
	if h.SeqNo < state.FirstSeqNo ||
		h.Link != link.Sequence(u.addr, h.Publisher, h.SeqNo) ||
		body.Publisher != h.Publisher || body.SeqNo != h.SeqNo || body.Ref != h.LinkTo {
		return message.SequenceBody{}, newError(KindProtocol, ruleLinkPosition, fmt.Sprintf("sequence entry %s is inconsistent", h.Link.ID.Short()))
	}
	if err := u.checkLink(body.Ref); err != nil {
		return message.SequenceBody{}, err
	}
	c, ok := u.tracker.Get(h.Publisher)
	if !ok {
		return message.SequenceBody{}, newError(KindProtocol, ruleLinkPosition, fmt.Sprintf("sequence entry %s is on an untracked branch", h.Link.ID.Short()))
	}
	if h.SeqNo > c.Next {
		return message.SequenceBody{}, newError(KindProtocol, ruleLinkPosition, fmt.Sprintf("sequence entry %s is ahead of its branch: seq %d, next %d", h.Link.ID.Short(), h.SeqNo, c.Next))
	}
	return body, nil
}

// unwrapSequence leaves the branch alone. An entry at the next position is
// remembered so that unwrapping the message it references checks the match
// and advances the branch.
func (u *user) unwrapSequence(p *message.Preparsed) (link.Link, error) {
	body, err := u.checkSequence(p)
	if err != nil {
		return link.Link{}, err
	}
	if c, _ := u.tracker.Get(body.Publisher); body.SeqNo == c.Next {
		u.pending[body.Ref] = body
	}
	return body.Ref, nil
}

// followSequence checks a message against the sequence entry that led to it.
func (u *user) followSequence(h message.Header) error {
	seq, ok := u.pending[h.Link]
	if !ok {
		return nil
	}
	delete(u.pending, h.Link)
	if seq.Publisher != h.Publisher || seq.SeqNo != h.SeqNo {
		return newError(KindProtocol, ruleLinkPosition, fmt.Sprintf("%s %s does not match its sequence entry", h.ContentType, h.Link.ID.Short()))
	}
	return nil
}

func (u *user) unwrapKeyload(p *message.Preparsed) error {
	if !p.CheckContentType(message.Keyload) {
		return contentTypeError(message.Keyload, p.Header.ContentType)
	}
	if err := u.requireChannel(); err != nil {
		return err
	}
	h := p.Header
	if err := u.checkPosition(h); err != nil {
		return err
	}
	if err := u.followSequence(h); err != nil {
		return err
	}
	if u.groupKeys.Has(h.Link) {
		u.tracker.Advance(h.Publisher, h.SeqNo, h.Link)
		return nil
	}
	body, err := message.DecodeKeyload(p.Body())
	if err != nil {
		return wrapError(KindProtocol, ruleMalformed, "decode keyload", err)
	}
	if h.Publisher != u.author.ID() {
		return u.deny("keyload", h.Link)
	}
	unsigned, err := body.Unsigned()
	if err != nil {
		return wrapError(KindProtocol, ruleMalformed, "encode keyload", err)
	}
	if err := u.author.Verify(message.SigningInput(p.HeaderBytes(), unsigned), body.Signature); err != nil {
		return u.deny("keyload", h.Link)
	}
	gk, ok := u.openKeyload(h.Link, body.Recipients)
	if !ok {
		return u.deny("keyload", h.Link)
	}

	u.groupKeys.Put(h.Link, gk)
	for _, r := range body.Recipients {
		u.registry.Add(state.Entry{Identity: r.Identity})
		u.tracker.Ensure(r.Identity.ID(), h.Link)
	}
	u.tracker.Advance(h.Publisher, h.SeqNo, h.Link)
	u.log.Debug().Str("link", h.Link.ID.Short()).Int("recipients", len(body.Recipients)).Msg("keyload installed")
	return nil
}

// openKeyload scans the recipients in order; the first entry naming the
// caller decides.
func (u *user) openKeyload(at link.Link, recipients []message.Recipient) (seal.Key, bool) {
	for _, r := range recipients {
		if r.Identity.ID() != u.self {
			continue
		}
		secret, err := u.id.SharedSecret(u.author.ExchangeKey)
		if err != nil {
			return seal.Key{}, false
		}
		wk, err := wrapKey(secret, at, u.self)
		if err != nil {
			return seal.Key{}, false
		}
		raw, err := seal.Open(wk, r.Nonce, r.Wrapped, at.Bytes())
		if err != nil || len(raw) != seal.KeySize {
			return seal.Key{}, false
		}
		var k seal.Key
		copy(k[:], raw)
		return k, true
	}
	return seal.Key{}, false
}

func (u *user) unwrapPacket(ct message.ContentType, p *message.Preparsed) (keys.PublicIdentity, message.Payload, error) {
	if !p.CheckContentType(ct) {
		return keys.PublicIdentity{}, message.Payload{}, contentTypeError(ct, p.Header.ContentType)
	}
	if err := u.requireChannel(); err != nil {
		return keys.PublicIdentity{}, message.Payload{}, err
	}
	h := p.Header
	if err := u.checkPosition(h); err != nil {
		return keys.PublicIdentity{}, message.Payload{}, err
	}
	if err := u.followSequence(h); err != nil {
		return keys.PublicIdentity{}, message.Payload{}, err
	}
	body, err := message.DecodePacket(ct, p.Body())
	if err != nil {
		return keys.PublicIdentity{}, message.Payload{}, wrapError(KindProtocol, ruleMalformed, "decode packet", err)
	}
	op := strings.ToLower(ct.String())

	gk, ok := u.groupKeys.Get(body.Keyload)
	if !ok {
		return keys.PublicIdentity{}, message.Payload{}, u.deny(op, h.Link)
	}
	mk, err := packetKey(gk, h.Link)
	if err != nil {
		return keys.PublicIdentity{}, message.Payload{}, cryptoError("derive packet key", err)
	}
	header := p.HeaderBytes()
	masked, err := seal.Open(mk, body.Nonce, body.Masked, message.PacketAAD(header, body.Public))
	if err != nil {
		return keys.PublicIdentity{}, message.Payload{}, u.deny(op, h.Link)
	}

	var signer keys.PublicIdentity
	if ct == message.SignedPacket {
		signer, ok = u.knownIdentity(h.Publisher)
		if !ok {
			return keys.PublicIdentity{}, message.Payload{}, u.deny(op, h.Link)
		}
		if err := signer.Verify(message.SigningInput(header, body.Unsigned()), body.Signature); err != nil {
			return keys.PublicIdentity{}, message.Payload{}, u.deny(op, h.Link)
		}
	}

	u.tracker.Advance(h.Publisher, h.SeqNo, h.Link)
	return signer, message.Payload{Public: body.Public, Masked: masked}, nil
}

// UnwrapSequence validates a sequence entry against the publisher's branch
// and returns the link of the message it references. The branch advances
// once that message is unwrapped.
func (u *user) UnwrapSequence(p *message.Preparsed) (link.Link, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.unwrapSequence(p)
}

// UnwrapKeyload installs the group key of a keyload naming the caller. A
// caller not among the recipients gets ErrNotAuthorized and no state changes.
func (u *user) UnwrapKeyload(p *message.Preparsed) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.unwrapKeyload(p)
}

func (u *user) UnwrapTaggedPacket(p *message.Preparsed) (message.Payload, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, payload, err := u.unwrapPacket(message.TaggedPacket, p)
	return payload, err
}

// UnwrapSignedPacket returns the verified signer and the payload.
func (u *user) UnwrapSignedPacket(p *message.Preparsed) (keys.PublicIdentity, message.Payload, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.unwrapPacket(message.SignedPacket, p)
}

// TagPacket publishes a packet under the most recent group key held.
func (u *user) TagPacket(anchor link.Link, public, masked []byte) (*message.Binary, *message.Binary, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sendPacket(message.TaggedPacket, anchor, public, masked)
}

// SignPacket is TagPacket plus a signature by the caller's identity.
func (u *user) SignPacket(anchor link.Link, public, masked []byte) (*message.Binary, *message.Binary, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sendPacket(message.SignedPacket, anchor, public, masked)
}

func (u *user) ChannelAddress() link.Address {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.addr
}

func (u *user) AnnouncementLink() link.Link {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.announcement
}

func (u *user) IsMultiBranching() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.tracker.MultiBranching()
}

func (u *user) Identity() keys.PublicIdentity { return u.id.Public() }

// Snapshot returns the participant's state for diagnostics.
func (u *user) Snapshot() model.Participant {
	u.mu.Lock()
	defer u.mu.Unlock()

	pub, _ := keys.FormatPublic(u.id.Public())
	out := model.Participant{
		Role:           u.role,
		Identity:       u.self.String(),
		PublicKey:      pub,
		MultiBranching: u.tracker.MultiBranching(),
		GroupKeys:      []string{},
		Identities:     []model.Identity{},
		Cursors:        []model.Cursor{},
	}
	if u.announced {
		out.Channel = u.addr.String()
		out.Announcement = u.announcement.String()
	}
	for _, l := range u.groupKeys.IDs() {
		out.GroupKeys = append(out.GroupKeys, l.String())
	}
	for _, id := range u.registry.IDs() {
		e, _ := u.registry.Get(id)
		mi := model.Identity{ID: id.String(), Scheme: string(e.Identity.Scheme), HasSecret: e.Secret != nil}
		if !e.Admitted.IsZero() {
			mi.Admitted = e.Admitted.String()
		}
		out.Identities = append(out.Identities, mi)
	}
	for _, c := range u.tracker.Cursors() {
		mc := model.Cursor{Publisher: c.Publisher.String(), Next: c.Next}
		if !c.Last.IsZero() {
			mc.Last = c.Last.String()
		}
		out.Cursors = append(out.Cursors, mc)
	}
	return out
}

// String renders a human readable dump of the participant's state.
func (u *user) String() string {
	u.mu.Lock()
	defer u.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", u.role, u.self.Short())
	if !u.announced {
		b.WriteString("  channel: <none>\n")
		return b.String()
	}
	mode := "single-branch"
	if u.tracker.MultiBranching() {
		mode = "multi-branch"
	}
	fmt.Fprintf(&b, "  channel: %s (%s)\n", u.addr.Short(), mode)
	fmt.Fprintf(&b, "  group keys: %d\n", u.groupKeys.Len())
	for _, l := range u.groupKeys.IDs() {
		fmt.Fprintf(&b, "    %s\n", l.ID.Short())
	}
	fmt.Fprintf(&b, "  identities: %d\n", u.registry.Len())
	for _, id := range u.registry.IDs() {
		fmt.Fprintf(&b, "    %s\n", id.Short())
	}
	b.WriteString("  cursors:\n")
	for _, c := range u.tracker.Cursors() {
		fmt.Fprintf(&b, "    %s next=%d last=%s\n", c.Publisher.Short(), c.Next, c.Last.ID.Short())
	}
	return b.String()
}
