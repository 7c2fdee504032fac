package model

import (
	"encoding/json"
	"testing"
)

func TestSnapshot_Participant_JSONShape(t *testing.T) {
	p := Participant{
		Role:           "subscriber",
		Identity:       "aa11",
		PublicKey:      "ed25519:pk:xk",
		Channel:        "cc22",
		Announcement:   "bafk-announce",
		MultiBranching: true,
		GroupKeys:      []string{"bafk-keyload-1"},
		Identities:     []Identity{{ID: "aa11", Scheme: "ed25519"}},
		Cursors:        []Cursor{{Publisher: "bb22", Next: 2, Last: "bafk-msg"}},
	}

	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent failed: %v", err)
	}

	const want = "{\n" +
		"  \"role\": \"subscriber\",\n" +
		"  \"identity\": \"aa11\",\n" +
		"  \"publicKey\": \"ed25519:pk:xk\",\n" +
		"  \"channel\": \"cc22\",\n" +
		"  \"announcement\": \"bafk-announce\",\n" +
		"  \"multiBranching\": true,\n" +
		"  \"groupKeys\": [\n" +
		"    \"bafk-keyload-1\"\n" +
		"  ],\n" +
		"  \"identities\": [\n" +
		"    {\n" +
		"      \"id\": \"aa11\",\n" +
		"      \"scheme\": \"ed25519\"\n" +
		"    }\n" +
		"  ],\n" +
		"  \"cursors\": [\n" +
		"    {\n" +
		"      \"publisher\": \"bb22\",\n" +
		"      \"next\": 2,\n" +
		"      \"last\": \"bafk-msg\"\n" +
		"    }\n" +
		"  ]\n" +
		"}"

	if string(b) != want {
		t.Fatalf("snapshot mismatch:\n%s", string(b))
	}
}

func TestSnapshot_Report_JSONShape(t *testing.T) {
	r := Report{
		Channel: "cc22",
		Steps: []Step{
			{Actor: "author", Action: "announce", Link: "bafk-a", Outcome: OutcomeOK},
			{Actor: "subscriberC", Action: "unwrap keyload", Outcome: OutcomeDenied, Error: NewError(ErrNotAuthorized, "not authorized")},
		},
		Participants: []Participant{},
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	const want = `{"channel":"cc22","steps":[` +
		`{"actor":"author","action":"announce","link":"bafk-a","outcome":"ok"},` +
		`{"actor":"subscriberC","action":"unwrap keyload","outcome":"denied","error":{"code":"NOT_AUTHORIZED","message":"not authorized"}}],` +
		`"participants":[]}`

	if string(b) != want {
		t.Fatalf("snapshot mismatch:\n%s", string(b))
	}
}

func TestCodedError(t *testing.T) {
	if got := NewError(ErrState, "no announcement").Error(); got != "STATE: no announcement" {
		t.Fatalf("unexpected error string %q", got)
	}
	var e *CodedError
	if e.Error() != "" {
		t.Fatalf("nil CodedError must render empty")
	}
}
