package channel

import (
	"xdao.co/streams/keys"
	"xdao.co/streams/link"
	"xdao.co/streams/message"
	"xdao.co/streams/seal"
	"xdao.co/streams/state"
)

// Author creates a channel, admits subscribers and distributes group keys.
//
// An Author is safe for concurrent use; operations are serialized.
type Author struct {
	*user
}

// NewAuthor derives the Author identity from seed.
func NewAuthor(seed string, opts ...Option) (*Author, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	u, err := newUser("author", seed, o)
	if err != nil {
		return nil, err
	}
	return &Author{user: u}, nil
}

// Announce creates the channel and returns the announcement. It panics if the
// channel was already announced.
func (a *Author) Announce() (*message.Binary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.announced {
		panic("channel: Announce called on an announced channel")
	}

	pub := a.id.Public()
	addr := link.NewAddress(a.self)
	h := message.Header{
		ContentType: message.Announce,
		Link:        link.Derive(addr, a.self, 0, link.Link{}),
		Publisher:   a.self,
	}
	body := message.AnnounceBody{Author: pub, MultiBranching: a.tracker.MultiBranching()}
	unsigned, err := body.Unsigned()
	if err != nil {
		return nil, cryptoError("encode author identity", err)
	}
	if body.Signature, err = a.id.Sign(message.SigningInput(h.Bytes(), unsigned)); err != nil {
		return nil, cryptoError("sign announcement", err)
	}
	enc, err := body.Encode()
	if err != nil {
		return nil, cryptoError("encode announcement", err)
	}
	msg, _ := message.Encode(h, enc)

	a.adopt(addr, h.Link, pub, a.tracker.MultiBranching())
	a.log.Info().Str("channel", addr.Short()).Bool("multi_branching", a.tracker.MultiBranching()).Msg("channel announced")
	return msg, nil
}

// UnwrapSubscribe admits the subscriber that sent a subscription and returns
// its identity. Admitting the same subscriber twice is a no-op.
func (a *Author) UnwrapSubscribe(p *message.Preparsed) (keys.PublicIdentity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !p.CheckContentType(message.Subscribe) {
		return keys.PublicIdentity{}, contentTypeError(message.Subscribe, p.Header.ContentType)
	}
	if err := a.requireChannel(); err != nil {
		return keys.PublicIdentity{}, err
	}
	h := p.Header
	if h.SeqNo != 0 || h.LinkTo != a.announcement || h.Link != link.Derive(a.addr, h.Publisher, 0, a.announcement) {
		return keys.PublicIdentity{}, newError(KindProtocol, ruleLinkPosition, "subscription is not at its derived position")
	}
	body, err := message.DecodeSubscribe(p.Body())
	if err != nil {
		return keys.PublicIdentity{}, wrapError(KindProtocol, ruleMalformed, "decode subscription", err)
	}
	plain, err := a.id.Open(body.Box, p.HeaderBytes())
	if err != nil {
		return keys.PublicIdentity{}, a.deny("subscribe", h.Link)
	}
	claim, err := message.DecodeSubscribeClaim(plain)
	if err != nil || claim.Subscriber.ID() != h.Publisher {
		return keys.PublicIdentity{}, a.deny("subscribe", h.Link)
	}
	subBytes, err := claim.Subscriber.MarshalBinary()
	if err != nil {
		return keys.PublicIdentity{}, a.deny("subscribe", h.Link)
	}
	if err := claim.Subscriber.Verify(message.ClaimInput(a.announcement, subBytes), claim.Proof); err != nil {
		return keys.PublicIdentity{}, a.deny("subscribe", h.Link)
	}
	secret, err := a.id.SharedSecret(claim.Subscriber.ExchangeKey)
	if err != nil {
		return keys.PublicIdentity{}, a.deny("subscribe", h.Link)
	}

	if a.registry.Add(state.Entry{Identity: claim.Subscriber, Secret: secret, Admitted: h.Link}) {
		a.log.Info().Str("subscriber", h.Publisher.Short()).Msg("subscriber admitted")
	}
	a.tracker.Ensure(h.Publisher, h.Link)
	return claim.Subscriber, nil
}

// ShareKeyloadForEveryone issues a fresh group key to every admitted
// subscriber. seq is nil in single-branch channels.
func (a *Author) ShareKeyloadForEveryone(anchor link.Link) (msg, seq *message.Binary, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var entries []state.Entry
	for _, id := range a.registry.IDs() {
		e, _ := a.registry.Get(id)
		if e.Secret != nil {
			entries = append(entries, e)
		}
	}
	return a.shareKeyload(anchor, entries)
}

// ShareKeyloadFor issues a fresh group key to the listed subscribers only.
// Every id must belong to an admitted subscriber.
func (a *Author) ShareKeyloadFor(anchor link.Link, ids []keys.ID) (msg, seq *message.Binary, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[keys.ID]bool, len(ids))
	entries := make([]state.Entry, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		e, ok := a.registry.Get(id)
		if !ok || e.Secret == nil {
			return nil, nil, newError(KindState, ruleUnknownID, "keyload recipient "+id.Short()+" is not an admitted subscriber")
		}
		entries = append(entries, e)
	}
	return a.shareKeyload(anchor, entries)
}

func (a *Author) shareKeyload(anchor link.Link, entries []state.Entry) (*message.Binary, *message.Binary, error) {
	gk, err := seal.NewKey()
	if err != nil {
		return nil, nil, cryptoError("generate group key", err)
	}
	msg, seq, err := a.publish(message.Keyload, anchor, func(header []byte, at link.Link) ([]byte, error) {
		var body message.KeyloadBody
		for _, e := range entries {
			wk, err := wrapKey(e.Secret, at, e.Identity.ID())
			if err != nil {
				return nil, cryptoError("derive wrapping key", err)
			}
			nonce, wrapped, err := seal.Seal(wk, gk[:], at.Bytes())
			if err != nil {
				return nil, cryptoError("wrap group key", err)
			}
			body.Recipients = append(body.Recipients, message.Recipient{Identity: e.Identity, Nonce: nonce, Wrapped: wrapped})
		}
		unsigned, err := body.Unsigned()
		if err != nil {
			return nil, cryptoError("encode keyload", err)
		}
		if body.Signature, err = a.id.Sign(message.SigningInput(header, unsigned)); err != nil {
			return nil, cryptoError("sign keyload", err)
		}
		enc, err := body.Encode()
		if err != nil {
			return nil, cryptoError("encode keyload", err)
		}
		return enc, nil
	})
	if err != nil {
		return nil, nil, err
	}
	a.groupKeys.Put(msg.Link, gk)
	return msg, seq, nil
}
