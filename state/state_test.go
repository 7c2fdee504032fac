package state

import (
	"testing"

	"xdao.co/streams/keys"
	"xdao.co/streams/link"
	"xdao.co/streams/seal"
)

func id(b byte) keys.ID {
	var out keys.ID
	out[0] = b
	return out
}

func lnk(b byte) link.Link {
	var l link.Link
	l.ID[0] = b
	return l
}

func TestKeyStoreKeepsFirstKeyAndOrder(t *testing.T) {
	s := NewKeyStore()
	if _, _, ok := s.Latest(); ok {
		t.Fatalf("empty store has no latest key")
	}
	k1 := seal.Key{1}
	k2 := seal.Key{2}
	if !s.Put(lnk(1), k1) || !s.Put(lnk(2), k2) {
		t.Fatalf("Put of new keys must succeed")
	}
	if s.Put(lnk(1), seal.Key{9}) {
		t.Fatalf("Put must not replace an installed key")
	}
	if got, _ := s.Get(lnk(1)); got != k1 {
		t.Fatalf("installed key changed")
	}
	latest, k, ok := s.Latest()
	if !ok || latest != lnk(2) || k != k2 {
		t.Fatalf("unexpected latest key")
	}
	if ids := s.IDs(); len(ids) != 2 || ids[0] != lnk(1) {
		t.Fatalf("unexpected order %v", ids)
	}
}

func TestRegistryNeverReplacesEntries(t *testing.T) {
	a, _ := keys.FromSeed("A", keys.Ed25519)
	r := NewRegistry()
	if !r.Add(Entry{Identity: a.Public()}) {
		t.Fatalf("first Add must report a new identity")
	}
	if r.Add(Entry{Identity: a.Public(), Secret: []byte("s"), Admitted: lnk(3)}) {
		t.Fatalf("second Add must report an existing identity")
	}
	e, ok := r.Get(a.ID())
	if !ok || string(e.Secret) != "s" || e.Admitted != lnk(3) {
		t.Fatalf("missing secret and admission must be filled in: %+v", e)
	}
	r.Add(Entry{Identity: a.Public(), Secret: []byte("other")})
	if e, _ := r.Get(a.ID()); string(e.Secret) != "s" {
		t.Fatalf("secret must not be replaced")
	}
	if r.Len() != 1 {
		t.Fatalf("unexpected length %d", r.Len())
	}
}

func TestTrackerMultiBranchIsMonotonic(t *testing.T) {
	tr := NewTracker(true, id(1))
	tr.Ensure(id(1), lnk(1))
	tr.Ensure(id(2), lnk(1))

	if !tr.Advance(id(2), 3, lnk(3)) {
		t.Fatalf("advance past the cursor must succeed")
	}
	if tr.Advance(id(2), 1, lnk(4)) {
		t.Fatalf("advance behind the cursor must be ignored")
	}
	c, _ := tr.Get(id(2))
	if c.Next != 4 || c.Last != lnk(3) {
		t.Fatalf("unexpected cursor %+v", c)
	}
	if c, _ := tr.Get(id(1)); c.Next != FirstSeqNo {
		t.Fatalf("branches must be independent")
	}
	if n := len(tr.Cursors()); n != 2 {
		t.Fatalf("expected 2 cursors, got %d", n)
	}
}

func TestTrackerSingleBranchSharesOwnerChain(t *testing.T) {
	tr := NewTracker(false, id(1))
	tr.Ensure(id(1), lnk(1))
	tr.Ensure(id(2), lnk(9))

	tr.Advance(id(2), 1, lnk(2))
	c, ok := tr.Get(id(3))
	if !ok || c.Publisher != id(1) || c.Next != 2 || c.Last != lnk(2) {
		t.Fatalf("single-branch lookups must resolve to the owner chain: %+v", c)
	}
	if n := len(tr.Cursors()); n != 1 {
		t.Fatalf("expected one shared cursor, got %d", n)
	}
}
