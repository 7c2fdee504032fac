package channel

import (
	"xdao.co/streams/link"
	"xdao.co/streams/message"
	"xdao.co/streams/seal"
)

// Subscriber follows a channel and, once admitted, publishes on it.
//
// A Subscriber is safe for concurrent use; operations are serialized.
type Subscriber struct {
	*user
}

func NewSubscriber(seed string, opts ...Option) (*Subscriber, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	u, err := newUser("subscriber", seed, o)
	if err != nil {
		return nil, err
	}
	return &Subscriber{user: u}, nil
}

// UnwrapAnnouncement adopts the channel described by an announcement,
// including its branching mode. Unwrapping the same announcement again is a
// no-op; an announcement of another channel is rejected.
func (s *Subscriber) UnwrapAnnouncement(p *message.Preparsed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !p.CheckContentType(message.Announce) {
		return contentTypeError(message.Announce, p.Header.ContentType)
	}
	h := p.Header
	body, err := message.DecodeAnnounce(p.Body())
	if err != nil {
		return wrapError(KindProtocol, ruleMalformed, "decode announcement", err)
	}
	authorID := body.Author.ID()
	addr := link.NewAddress(authorID)
	if h.Publisher != authorID || h.SeqNo != 0 || !h.LinkTo.IsZero() || h.Link != link.Derive(addr, authorID, 0, link.Link{}) {
		return newError(KindProtocol, ruleLinkPosition, "announcement does not match its author")
	}
	unsigned, err := body.Unsigned()
	if err != nil {
		return wrapError(KindProtocol, ruleMalformed, "encode announcement", err)
	}
	if err := body.Author.Verify(message.SigningInput(p.HeaderBytes(), unsigned), body.Signature); err != nil {
		return s.deny("announce", h.Link)
	}

	if s.announced {
		if s.announcement == h.Link {
			return nil
		}
		return newError(KindState, ruleOtherChannel, "already following channel "+s.addr.Short())
	}
	s.adopt(addr, h.Link, body.Author, body.MultiBranching)
	s.log.Info().Str("channel", addr.Short()).Bool("multi_branching", body.MultiBranching).Msg("announcement adopted")
	return nil
}

// Subscribe returns a subscription request for the announced channel. Only
// the Author can open it.
func (s *Subscriber) Subscribe(announcement link.Link) (*message.Binary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireChannel(); err != nil {
		return nil, err
	}
	if announcement != s.announcement {
		return nil, newError(KindState, ruleOtherChannel, "subscription to an unknown announcement")
	}
	h := message.Header{
		ContentType: message.Subscribe,
		Link:        link.Derive(s.addr, s.self, 0, announcement),
		Publisher:   s.self,
		LinkTo:      announcement,
	}
	pub := s.id.Public()
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, cryptoError("encode identity", err)
	}
	proof, err := s.id.Sign(message.ClaimInput(announcement, pubBytes))
	if err != nil {
		return nil, cryptoError("sign subscription", err)
	}
	claim, err := message.SubscribeClaim{Subscriber: pub, Proof: proof}.Encode()
	if err != nil {
		return nil, cryptoError("encode subscription", err)
	}
	box, err := seal.SealTo(s.author.ExchangeKey, claim, h.Bytes())
	if err != nil {
		return nil, cryptoError("seal subscription", err)
	}
	msg, _ := message.Encode(h, message.SubscribeBody{Box: box}.Encode())
	s.log.Debug().Str("link", h.Link.ID.Short()).Msg("subscription created")
	return msg, nil
}
