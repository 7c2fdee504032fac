package channel

import (
	"context"
	"fmt"

	"xdao.co/streams/keys"
	"xdao.co/streams/ledger"
	"xdao.co/streams/link"
	"xdao.co/streams/message"
	"xdao.co/streams/state"
)

// Fetched is one message retrieved by FetchNext. Err is set when the message
// was found but could not be unwrapped, typically ErrNotAuthorized.
type Fetched struct {
	Link        link.Link
	ContentType message.ContentType
	Publisher   keys.ID
	SeqNo       uint64
	// Signer is set for signed packets.
	Signer  *keys.PublicIdentity
	Payload message.Payload
	Err     error
}

// FetchNext polls every tracked branch for its next message until no branch
// yields one. A missing link ends a branch's poll; other transport errors
// abort.
func (u *user) FetchNext(ctx context.Context, t Transport) ([]Fetched, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.requireChannel(); err != nil {
		return nil, err
	}
	var out []Fetched
	stalled := map[keys.ID]bool{}
	for {
		progressed := false
		for _, c := range u.tracker.Cursors() {
			if stalled[c.Publisher] {
				continue
			}
			if err := ctx.Err(); err != nil {
				return out, err
			}
			f, found, err := u.fetchOne(ctx, t, c)
			if err != nil {
				return out, err
			}
			if !found {
				continue
			}
			out = append(out, f)
			if f.Err != nil && IsKind(f.Err, KindProtocol) {
				stalled[c.Publisher] = true
				continue
			}
			progressed = true
		}
		if !progressed {
			u.log.Debug().Int("messages", len(out)).Msg("fetch done")
			return out, nil
		}
	}
}

func (u *user) receive(ctx context.Context, t Transport, l link.Link) (*message.Binary, bool, error) {
	msg, err := t.Receive(ctx, l)
	if ledger.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, transportError(fmt.Sprintf("receive %s", l.ID.Short()), err)
	}
	return msg, true, nil
}

// fetchOne retrieves the message after cursor c. found is false when the
// branch has nothing new.
func (u *user) fetchOne(ctx context.Context, t Transport, c state.Cursor) (Fetched, bool, error) {
	if u.tracker.MultiBranching() {
		return u.fetchSequenced(ctx, t, c)
	}
	return u.fetchChained(ctx, t, c)
}

func (u *user) fetchSequenced(ctx context.Context, t Transport, c state.Cursor) (Fetched, bool, error) {
	at := link.Sequence(u.addr, c.Publisher, c.Next)
	msg, found, err := u.receive(ctx, t, at)
	if err != nil || !found {
		return Fetched{}, false, err
	}
	sp, err := msg.ParseHeader()
	if err != nil {
		return u.rejected(at, wrapError(KindProtocol, ruleMalformed, "parse sequence", err)), true, nil
	}
	body, err := u.checkSequence(sp)
	if err != nil {
		return u.rejected(at, err), true, nil
	}

	ref, found, err := u.receive(ctx, t, body.Ref)
	if err != nil || !found {
		// The referenced message is not retrievable yet; leave the cursor.
		return Fetched{}, false, err
	}
	p, err := ref.ParseHeader()
	if err != nil {
		return u.rejected(body.Ref, wrapError(KindProtocol, ruleMalformed, "parse message", err)), true, nil
	}
	if p.Header.Publisher != body.Publisher || p.Header.SeqNo != body.SeqNo {
		return u.rejected(body.Ref, newError(KindProtocol, ruleLinkPosition, "sequence entry does not match its message")), true, nil
	}
	// The entry matches its message, so the branch moves on even if access
	// is denied.
	u.tracker.Advance(body.Publisher, body.SeqNo, body.Ref)
	return u.dispatch(p), true, nil
}

func (u *user) fetchChained(ctx context.Context, t Transport, c state.Cursor) (Fetched, bool, error) {
	at := link.Derive(u.addr, c.Publisher, c.Next, c.Last)
	msg, found, err := u.receive(ctx, t, at)
	if err != nil || !found {
		return Fetched{}, false, err
	}
	p, err := msg.ParseHeader()
	if err != nil {
		return u.rejected(at, wrapError(KindProtocol, ruleMalformed, "parse message", err)), true, nil
	}
	if p.Header.SeqNo != c.Next || p.Header.LinkTo != c.Last {
		return u.rejected(at, newError(KindProtocol, ruleLinkPosition, "message is not the chain successor")), true, nil
	}
	f := u.dispatch(p)
	// The position is verified, so the chain moves on even if access was denied.
	u.tracker.Advance(c.Publisher, c.Next, at)
	return f, true, nil
}

func (u *user) rejected(at link.Link, err error) Fetched {
	u.log.Debug().Str("link", at.ID.Short()).Err(err).Msg("rejected message")
	return Fetched{Link: at, Err: err}
}

func (u *user) dispatch(p *message.Preparsed) Fetched {
	h := p.Header
	f := Fetched{Link: h.Link, ContentType: h.ContentType, Publisher: h.Publisher, SeqNo: h.SeqNo}
	switch h.ContentType {
	case message.Keyload:
		f.Err = u.unwrapKeyload(p)
	case message.TaggedPacket:
		_, f.Payload, f.Err = u.unwrapPacket(message.TaggedPacket, p)
	case message.SignedPacket:
		signer, payload, err := u.unwrapPacket(message.SignedPacket, p)
		if err == nil {
			f.Signer = &signer
		}
		f.Payload, f.Err = payload, err
	default:
		f.Err = newError(KindProtocol, ruleContentType, fmt.Sprintf("unexpected %s on a branch", h.ContentType))
	}
	return f
}
