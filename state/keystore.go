// Package state holds a participant's cryptographic and sequencing state.
//
// None of the types here are safe for concurrent use; participants guard them
// with their own lock.
package state

import (
	"xdao.co/streams/keys"
	"xdao.co/streams/link"
	"xdao.co/streams/seal"
)

// KeyStore holds group keys, each identified by the link of the keyload that
// created it.
type KeyStore struct {
	keys  map[link.Link]seal.Key
	order []link.Link
}

func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[link.Link]seal.Key)}
}

// Put installs a key. It reports false, leaving the store unchanged, if a key
// is already held for id.
func (s *KeyStore) Put(id link.Link, k seal.Key) bool {
	if _, ok := s.keys[id]; ok {
		return false
	}
	s.keys[id] = k
	s.order = append(s.order, id)
	return true
}

func (s *KeyStore) Get(id link.Link) (seal.Key, bool) {
	k, ok := s.keys[id]
	return k, ok
}

func (s *KeyStore) Has(id link.Link) bool {
	_, ok := s.keys[id]
	return ok
}

// Latest returns the most recently installed key.
func (s *KeyStore) Latest() (link.Link, seal.Key, bool) {
	if len(s.order) == 0 {
		return link.Link{}, seal.Key{}, false
	}
	id := s.order[len(s.order)-1]
	return id, s.keys[id], true
}

// IDs returns keyload links in installation order.
func (s *KeyStore) IDs() []link.Link {
	return append([]link.Link(nil), s.order...)
}

func (s *KeyStore) Len() int { return len(s.order) }

// Entry is a known identity. Secret is the pairwise exchange secret and is
// only set on the Author side.
type Entry struct {
	Identity keys.PublicIdentity
	Secret   []byte
	Admitted link.Link
}

// Registry maps identity fingerprints to known identities. Entries are never
// removed.
type Registry struct {
	entries map[keys.ID]*Entry
	order   []keys.ID
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[keys.ID]*Entry)}
}

// Add registers e. An existing entry is kept; only a missing secret or
// admission link is filled in. Add reports whether the identity was new.
func (r *Registry) Add(e Entry) bool {
	id := e.Identity.ID()
	if cur, ok := r.entries[id]; ok {
		if cur.Secret == nil && e.Secret != nil {
			cur.Secret = append([]byte(nil), e.Secret...)
		}
		if cur.Admitted.IsZero() && !e.Admitted.IsZero() {
			cur.Admitted = e.Admitted
		}
		return false
	}
	cp := e
	if e.Secret != nil {
		cp.Secret = append([]byte(nil), e.Secret...)
	}
	r.entries[id] = &cp
	r.order = append(r.order, id)
	return true
}

func (r *Registry) Get(id keys.ID) (Entry, bool) {
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (r *Registry) Has(id keys.ID) bool {
	_, ok := r.entries[id]
	return ok
}

// IDs returns fingerprints in registration order.
func (r *Registry) IDs() []keys.ID {
	return append([]keys.ID(nil), r.order...)
}

func (r *Registry) Len() int { return len(r.order) }
