package ledger

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
)

// NamedStore associates a Store with a stable backend name.
type NamedStore struct {
	Name  string
	Store Store
}

// ReplicatingStore writes to all configured backends. Reads fall back in order.
//
// Use PutAll when you need to know which backends accepted the entry.
type ReplicatingStore struct {
	Backends []NamedStore
}

var _ Store = ReplicatingStore{}

// PutAll writes the same entry to all backends and returns the names of the
// backends written, in order. It stops at the first failure.
func (r ReplicatingStore) PutAll(ctx context.Context, id cid.Cid, data []byte) ([]string, error) {
	if !id.Defined() {
		return nil, ErrInvalidID
	}
	if len(r.Backends) == 0 {
		return nil, fmt.Errorf("ledger: ReplicatingStore has no backends")
	}
	out := make([]string, 0, len(r.Backends))
	for _, b := range r.Backends {
		if b.Store == nil {
			return out, fmt.Errorf("ledger: nil store for backend %q", b.Name)
		}
		if err := b.Store.Put(ctx, id, data); err != nil {
			return out, fmt.Errorf("ledger: backend %q: %w", b.Name, err)
		}
		out = append(out, b.Name)
	}
	return out, nil
}

func (r ReplicatingStore) Put(ctx context.Context, id cid.Cid, data []byte) error {
	_, err := r.PutAll(ctx, id, data)
	return err
}

func (r ReplicatingStore) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	stores := make([]Store, 0, len(r.Backends))
	for _, b := range r.Backends {
		stores = append(stores, b.Store)
	}
	return getFirst(ctx, id, stores)
}

func (r ReplicatingStore) Has(ctx context.Context, id cid.Cid) bool {
	for _, b := range r.Backends {
		if b.Store != nil && b.Store.Has(ctx, id) {
			return true
		}
	}
	return false
}

func (r ReplicatingStore) List(ctx context.Context) ([]cid.Cid, error) {
	stores := make([]Store, 0, len(r.Backends))
	for _, b := range r.Backends {
		if b.Store != nil {
			stores = append(stores, b.Store)
		}
	}
	return listAll(ctx, stores)
}
