package channel

import (
	"context"

	"xdao.co/streams/link"
	"xdao.co/streams/message"
)

// Transport stores envelopes by link and returns them later for the same
// link. Receive reports an absent link with ledger.ErrNotFound.
type Transport interface {
	Send(ctx context.Context, msg *message.Binary) error
	Receive(ctx context.Context, l link.Link) (*message.Binary, error)
}
