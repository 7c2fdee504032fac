package model

// Participant is a side-effect free snapshot of an Author or Subscriber.
//
// Links are rendered in their CID text form, identities as hex fingerprints.
type Participant struct {
	Role           string     `json:"role"`
	Identity       string     `json:"identity"`
	PublicKey      string     `json:"publicKey"`
	Channel        string     `json:"channel,omitempty"`
	Announcement   string     `json:"announcement,omitempty"`
	MultiBranching bool       `json:"multiBranching"`
	GroupKeys      []string   `json:"groupKeys"`
	Identities     []Identity `json:"identities"`
	Cursors        []Cursor   `json:"cursors"`
}

// Identity is a known channel identity. Admitted is only set on the Author,
// for subscribers admitted through a subscription.
type Identity struct {
	ID        string `json:"id"`
	Scheme    string `json:"scheme"`
	Admitted  string `json:"admitted,omitempty"`
	HasSecret bool   `json:"hasSecret,omitempty"`
}

// Cursor is the sequencing state of one branch.
type Cursor struct {
	Publisher string `json:"publisher"`
	Next      uint64 `json:"next"`
	Last      string `json:"last,omitempty"`
}

// Outcome is the result of one expectation in a scenario run.
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeDenied Outcome = "denied"
	OutcomeFailed Outcome = "failed"
)

// Step is one action of a scenario run.
type Step struct {
	Actor   string      `json:"actor"`
	Action  string      `json:"action"`
	Link    string      `json:"link,omitempty"`
	Outcome Outcome     `json:"outcome"`
	Error   *CodedError `json:"error,omitempty"`
}

// Report is the JSON result of a scenario run.
type Report struct {
	Channel      string        `json:"channel"`
	Steps        []Step        `json:"steps"`
	Participants []Participant `json:"participants"`
}
