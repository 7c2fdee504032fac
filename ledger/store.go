// Package ledger defines the content-addressed message store that channels are
// transported over, plus combinators for using several stores at once.
//
// Entries are keyed by CIDs. For channel messages the CID is the identity CID
// of the message link (see link.Link.CID), so a reader that can derive a link
// can fetch the message without an index.
package ledger

import (
	"context"

	"github.com/ipfs/go-cid"
)

// Store is a minimal append-only ledger.
//
// Contract:
//   - Put MUST be idempotent for identical bytes.
//   - Stored entries MUST be immutable: Put of different bytes under an existing
//     id returns ErrImmutable.
//   - Get MUST return ErrNotFound when the id is absent.
//   - Undefined ids are rejected with ErrInvalidID (Has reports false).
type Store interface {
	Put(ctx context.Context, id cid.Cid, data []byte) error
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) bool
}

// Lister is implemented by stores that can enumerate their entries.
type Lister interface {
	List(ctx context.Context) ([]cid.Cid, error)
}
