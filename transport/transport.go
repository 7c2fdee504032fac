// Package transport carries channel envelopes over a ledger.Store.
//
// An envelope is stored under the CID of its link. Receive checks that the
// stored header names the requested link, so a store cannot hand back a
// message filed under the wrong key.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"xdao.co/streams/channel"
	"xdao.co/streams/ledger"
	"xdao.co/streams/link"
	"xdao.co/streams/message"
)

type Ledger struct {
	store ledger.Store
	log   zerolog.Logger
}

var _ channel.Transport = (*Ledger)(nil)

func New(store ledger.Store, log zerolog.Logger) *Ledger {
	return &Ledger{store: store, log: log.With().Str("component", "transport").Logger()}
}

// Store returns the underlying ledger.
func (t *Ledger) Store() ledger.Store { return t.store }

func (t *Ledger) Send(ctx context.Context, msg *message.Binary) error {
	if msg == nil {
		return errors.New("transport: nil envelope")
	}
	if err := t.store.Put(ctx, msg.Link.CID(), msg.Body); err != nil {
		return fmt.Errorf("transport: send %s: %w", msg.Link.ID.Short(), err)
	}
	t.log.Debug().Str("link", msg.Link.ID.Short()).Int("bytes", len(msg.Body)).Msg("sent")
	return nil
}

// SendAll sends msgs in order, skipping nil entries such as the absent
// sequence entry of a single-branch publish.
func (t *Ledger) SendAll(ctx context.Context, msgs ...*message.Binary) error {
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if err := t.Send(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (t *Ledger) Receive(ctx context.Context, l link.Link) (*message.Binary, error) {
	data, err := t.store.Get(ctx, l.CID())
	if err != nil {
		return nil, fmt.Errorf("transport: receive %s: %w", l.ID.Short(), err)
	}
	msg := &message.Binary{Link: l, Body: data}
	if _, err := msg.ParseHeader(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ledger.ErrLinkMismatch, l.ID.Short(), err)
	}
	return msg, nil
}
