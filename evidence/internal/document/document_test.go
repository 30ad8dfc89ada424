package document

import (
	"encoding/json"
	"testing"
)

func TestEvidenceSet_RejectsDuplicateURL(t *testing.T) {
	// WHAT: Adding a second document with the same URL is refused.
	// WHY: URL uniqueness is a set invariant, not a best-effort filter.
	s := NewEvidenceSet()
	if !s.Add(Document{URL: "https://a.com/1", Title: "one", Body: "b", Status: StatusFetched}) {
		t.Fatal("first add should succeed")
	}
	if s.Add(Document{URL: "https://a.com/1", Title: "other", Body: "b", Status: StatusFetched}) {
		t.Fatal("duplicate add should be refused")
	}
	if s.Len() != 1 {
		t.Fatalf("len: got %d, want 1", s.Len())
	}
	if got := s.Documents()[0].Title; got != "one" {
		t.Errorf("kept title: got %q, want %q", got, "one")
	}
}

func TestEvidenceSet_OrderAndCopy(t *testing.T) {
	// WHAT: Documents come back in insertion order and as a copy.
	// WHY: Callers must not be able to mutate the run's accumulated set.
	s := NewEvidenceSet()
	s.Add(Document{URL: "u1"})
	s.Add(Document{URL: "u2"})
	s.Add(Document{URL: "u3"})

	docs := s.Documents()
	docs[0].URL = "mutated"
	if s.Len() != 3 || s.Documents()[0].URL != "u1" {
		t.Error("set should be unaffected by mutation of returned slice")
	}
	for i, want := range []string{"u1", "u2", "u3"} {
		if s.Documents()[i].URL != want {
			t.Errorf("docs[%d]: got %q, want %q", i, s.Documents()[i].URL, want)
		}
	}
}

func TestDocument_OK(t *testing.T) {
	// WHAT: OK requires fetched status plus title and body.
	// WHY: It is the success discriminant used downstream.
	cases := []struct {
		doc  Document
		want bool
	}{
		{Document{Title: "t", Body: "b", Status: StatusFetched}, true},
		{Document{Title: "", Body: "b", Status: StatusFetched}, false},
		{Document{Title: "t", Body: "", Status: StatusFetched}, false},
		{Blocked("u", "http 403"), false},
		{Failed("u", "timeout"), false},
	}
	for i, c := range cases {
		if got := c.doc.OK(); got != c.want {
			t.Errorf("case %d: got %v, want %v", i, got, c.want)
		}
	}
}

func TestSiteTrust_Trusted(t *testing.T) {
	// WHAT: Only rank T at or above the threshold is trusted.
	// WHY: Both conditions are required; either alone excludes.
	cases := []struct {
		st   SiteTrust
		want bool
	}{
		{SiteTrust{Rank: "T", Score: 70}, true},
		{SiteTrust{Rank: "T", Score: 100}, true},
		{SiteTrust{Rank: "T", Score: 69}, false},
		{SiteTrust{Rank: "N", Score: 95}, false},
		{SiteTrust{Rank: "", Score: 0}, false},
	}
	for _, c := range cases {
		if got := c.st.Trusted(70); got != c.want {
			t.Errorf("%+v: got %v, want %v", c.st, got, c.want)
		}
	}
}

func TestStatus_JSON(t *testing.T) {
	// WHAT: Status serialises as its name.
	// WHY: API consumers read "blocked" rather than an integer.
	data, err := json.Marshal(Blocked("u", "paywall"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["status"] != "blocked" {
		t.Errorf("status: got %v, want blocked", m["status"])
	}
}

func TestStatus_UnmarshalText(t *testing.T) {
	var d Document
	if err := json.Unmarshal([]byte(`{"url":"u","status":"fetched"}`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Status != StatusFetched {
		t.Errorf("status: got %v", d.Status)
	}
	if err := json.Unmarshal([]byte(`{"status":"lost"}`), &d); err == nil {
		t.Error("unknown status should fail")
	}
}
