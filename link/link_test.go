package link

import (
	"errors"
	"testing"

	"xdao.co/streams/cidutil"
)

func fingerprint(b byte) [Size]byte {
	var f [Size]byte
	for i := range f {
		f[i] = b
	}
	return f
}

func TestDeriveDeterministic(t *testing.T) {
	addr := NewAddress(fingerprint(1))
	parent := Derive(addr, fingerprint(1), 0, Link{})

	a := Derive(addr, fingerprint(2), 3, parent)
	b := Derive(addr, fingerprint(2), 3, parent)
	if a != b {
		t.Fatalf("expected deterministic derivation")
	}
	if a.Base() != addr {
		t.Fatalf("derived link must keep the channel address")
	}

	if Derive(addr, fingerprint(3), 3, parent) == a {
		t.Fatalf("different publishers must not collide")
	}
	if Derive(addr, fingerprint(2), 4, parent) == a {
		t.Fatalf("different sequence numbers must not collide")
	}
	if Derive(addr, fingerprint(2), 3, a) == a {
		t.Fatalf("different parents must not collide")
	}
	if Sequence(addr, fingerprint(2), 3) == a {
		t.Fatalf("sequence links must use their own domain")
	}
}

func TestNewAddressDependsOnAuthor(t *testing.T) {
	if NewAddress(fingerprint(1)) == NewAddress(fingerprint(2)) {
		t.Fatalf("expected distinct addresses for distinct authors")
	}
	if NewAddress(fingerprint(1)).IsZero() {
		t.Fatalf("address must not be zero")
	}
}

func TestLinkTextRoundTrip(t *testing.T) {
	addr := NewAddress(fingerprint(9))
	l := Derive(addr, fingerprint(9), 0, Link{})

	got, err := Parse(l.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != l {
		t.Fatalf("round trip mismatch: got %v want %v", got, l)
	}

	back, err := FromCID(l.CID())
	if err != nil {
		t.Fatalf("FromCID: %v", err)
	}
	if back != l {
		t.Fatalf("FromCID mismatch")
	}
}

func TestFromCIDRejectsContentCID(t *testing.T) {
	id, err := cidutil.CIDv1RawSHA256CID([]byte("not a link"))
	if err != nil {
		t.Fatalf("CIDv1RawSHA256CID: %v", err)
	}
	if _, err := FromCID(id); !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("expected ErrInvalidLink, got %v", err)
	}
	if _, err := Parse("not-a-cid"); !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("expected ErrInvalidLink, got %v", err)
	}
}
