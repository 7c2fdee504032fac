package state

import (
	"xdao.co/streams/keys"
	"xdao.co/streams/link"
)

// FirstSeqNo is the first sequence number of a branch. Zero is the handshake
// position used by announcements and subscriptions.
const FirstSeqNo uint64 = 1

// Cursor is the sequencing state of one branch.
type Cursor struct {
	Publisher keys.ID
	Next      uint64
	Last      link.Link
}

// Tracker keeps branch cursors.
//
// In multi-branch mode every publisher owns a branch. In single-branch mode all
// publishers share the chain owned by the channel Author, so every lookup is
// redirected to the owner's cursor.
type Tracker struct {
	multi   bool
	owner   keys.ID
	cursors map[keys.ID]*Cursor
	order   []keys.ID
}

func NewTracker(multi bool, owner keys.ID) *Tracker {
	return &Tracker{multi: multi, owner: owner, cursors: make(map[keys.ID]*Cursor)}
}

// Configure fixes the branching mode and chain owner. Existing cursors are
// dropped; it is only called before any branch is tracked.
func (t *Tracker) Configure(multi bool, owner keys.ID) {
	t.multi = multi
	t.owner = owner
	t.cursors = make(map[keys.ID]*Cursor)
	t.order = nil
}

func (t *Tracker) MultiBranching() bool { return t.multi }

// Owner returns the single-branch chain owner.
func (t *Tracker) Owner() keys.ID { return t.owner }

func (t *Tracker) branch(publisher keys.ID) keys.ID {
	if t.multi {
		return publisher
	}
	return t.owner
}

// Ensure starts tracking publisher's branch at FirstSeqNo with start as the
// last known link. An existing cursor is left untouched.
func (t *Tracker) Ensure(publisher keys.ID, start link.Link) Cursor {
	b := t.branch(publisher)
	if c, ok := t.cursors[b]; ok {
		return *c
	}
	c := &Cursor{Publisher: b, Next: FirstSeqNo, Last: start}
	t.cursors[b] = c
	t.order = append(t.order, b)
	return *c
}

func (t *Tracker) Get(publisher keys.ID) (Cursor, bool) {
	c, ok := t.cursors[t.branch(publisher)]
	if !ok {
		return Cursor{}, false
	}
	return *c, true
}

// Advance moves publisher's cursor past seqNo. Cursors never move back: it
// reports false if the cursor was already beyond seqNo.
func (t *Tracker) Advance(publisher keys.ID, seqNo uint64, l link.Link) bool {
	b := t.branch(publisher)
	c, ok := t.cursors[b]
	if !ok {
		c = &Cursor{Publisher: b, Next: FirstSeqNo}
		t.cursors[b] = c
		t.order = append(t.order, b)
	}
	if seqNo < c.Next {
		return false
	}
	c.Next = seqNo + 1
	c.Last = l
	return true
}

// Cursors returns a copy of every cursor in tracking order.
func (t *Tracker) Cursors() []Cursor {
	out := make([]Cursor, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.cursors[id])
	}
	return out
}
