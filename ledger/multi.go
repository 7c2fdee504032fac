package ledger

import (
	"context"
	"errors"
	"sort"

	"github.com/ipfs/go-cid"
)

// MultiStore provides deterministic, ordered fallback across multiple stores.
//
// Read order is the slice order in Stores; callers MUST supply a fixed order.
// Put writes only to the first store.
type MultiStore struct {
	Stores []Store
}

var _ Store = MultiStore{}

func (m MultiStore) Put(ctx context.Context, id cid.Cid, data []byte) error {
	if len(m.Stores) == 0 {
		return errors.New("ledger: MultiStore has no stores")
	}
	return m.Stores[0].Put(ctx, id, data)
}

func (m MultiStore) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	return getFirst(ctx, id, m.Stores)
}

func (m MultiStore) Has(ctx context.Context, id cid.Cid) bool {
	for _, s := range m.Stores {
		if s.Has(ctx, id) {
			return true
		}
	}
	return false
}

// List merges the listings of every store that supports it.
func (m MultiStore) List(ctx context.Context) ([]cid.Cid, error) {
	return listAll(ctx, m.Stores)
}

func getFirst(ctx context.Context, id cid.Cid, stores []Store) ([]byte, error) {
	if !id.Defined() {
		return nil, ErrInvalidID
	}
	for _, s := range stores {
		if s == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := s.Get(ctx, id)
		if err == nil {
			return b, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}

func listAll(ctx context.Context, stores []Store) ([]cid.Cid, error) {
	seen := map[string]cid.Cid{}
	for _, s := range stores {
		l, ok := s.(Lister)
		if !ok {
			continue
		}
		ids, err := l.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			seen[id.KeyString()] = id
		}
	}
	return sortedIDs(seen), nil
}

func sortedIDs(m map[string]cid.Cid) []cid.Cid {
	out := make([]cid.Cid, 0, len(m))
	for _, id := range m {
		out = append(out, id)
	}
	SortIDs(out)
	return out
}

// SortIDs sorts ids by their text form, in place.
func SortIDs(ids []cid.Cid) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
