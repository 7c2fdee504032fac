// Package memory provides an in-process ledger, used by tests and the demo.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/ipfs/go-cid"

	"xdao.co/streams/ledger"
)

type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	id   cid.Cid
	data []byte
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

func (s *Store) Put(ctx context.Context, id cid.Cid, data []byte) error {
	if !id.Defined() {
		return ledger.ErrInvalidID
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[id.KeyString()]; ok {
		if !bytes.Equal(cur.data, data) {
			return ledger.ErrImmutable
		}
		return nil
	}
	s.entries[id.KeyString()] = entry{id: id, data: append([]byte(nil), data...)}
	return nil
}

func (s *Store) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, ledger.ErrInvalidID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id.KeyString()]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return append([]byte(nil), e.data...), nil
}

func (s *Store) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id.KeyString()]
	return ok
}

func (s *Store) List(ctx context.Context) ([]cid.Cid, error) {
	s.mu.RLock()
	out := make([]cid.Cid, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.id)
	}
	s.mu.RUnlock()
	ledger.SortIDs(out)
	return out, nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
