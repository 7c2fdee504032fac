// Package testkit provides a conformance suite for ledger.Store implementations.
package testkit

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ipfs/go-cid"

	"xdao.co/streams/cidutil"
	"xdao.co/streams/ledger"
	"xdao.co/streams/link"
)

// NewStore constructs a fresh, empty Store for a test.
// The returned Store MUST be isolated from other tests.
type NewStore func(t *testing.T) ledger.Store

// LinkID returns the ledger id of a deterministic test link.
func LinkID(n byte) cid.Cid {
	var owner [link.Size]byte
	owner[0] = n
	addr := link.NewAddress(owner)
	return link.Derive(addr, owner, uint64(n), link.Link{}).CID()
}

func RunStoreConformance(t *testing.T, newStore NewStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		id := LinkID(1)
		want := []byte("hello, streams ledger")

		if err := s.Put(ctx, id, want); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get bytes mismatch")
		}
	})

	t.Run("ContentIDs", func(t *testing.T) {
		s := newStore(t)
		data := []byte("content addressed")
		id, err := cidutil.CIDv1RawSHA256CID(data)
		if err != nil {
			t.Fatalf("CIDv1RawSHA256CID failed: %v", err)
		}
		if err := s.Put(ctx, id, data); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if !s.Has(ctx, id) {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		s := newStore(t)
		id := LinkID(2)
		b := []byte("same bytes")

		if err := s.Put(ctx, id, b); err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		if err := s.Put(ctx, id, b); err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
	})

	t.Run("Immutable", func(t *testing.T) {
		s := newStore(t)
		id := LinkID(3)
		if err := s.Put(ctx, id, []byte("first")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Put(ctx, id, []byte("second")); !errors.Is(err, ledger.ErrImmutable) {
			t.Fatalf("Put of different bytes: got err=%v want ErrImmutable", err)
		}
		got, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "first" {
			t.Fatalf("entry changed after rejected Put: %q", got)
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		s := newStore(t)
		id := LinkID(4)

		if s.Has(ctx, id) {
			t.Fatalf("Has returned true for missing id")
		}
		_, err := s.Get(ctx, id)
		if !ledger.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}

		if err := s.Put(ctx, id, []byte("present")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if !s.Has(ctx, id) {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("EmptyEntry", func(t *testing.T) {
		s := newStore(t)
		id := LinkID(5)
		if err := s.Put(ctx, id, nil); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("expected empty entry, got %d bytes", len(got))
		}
	})

	t.Run("RejectUndefID", func(t *testing.T) {
		s := newStore(t)
		var undef cid.Cid
		if s.Has(ctx, undef) {
			t.Fatalf("Has should be false for undefined id")
		}
		if _, err := s.Get(ctx, undef); err == nil {
			t.Fatalf("Get should fail for undefined id")
		}
		if err := s.Put(ctx, undef, []byte("x")); err == nil {
			t.Fatalf("Put should fail for undefined id")
		}
	})

	t.Run("List", func(t *testing.T) {
		s := newStore(t)
		l, ok := s.(ledger.Lister)
		if !ok {
			t.Skip("store does not implement ledger.Lister")
		}
		ids := []cid.Cid{LinkID(6), LinkID(7), LinkID(8)}
		for _, id := range ids {
			if err := s.Put(ctx, id, id.Bytes()); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		got, err := l.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(got) != len(ids) {
			t.Fatalf("List: got %d ids want %d", len(got), len(ids))
		}
		for i := 1; i < len(got); i++ {
			if got[i-1].String() >= got[i].String() {
				t.Fatalf("List must be sorted")
			}
		}
	})
}
