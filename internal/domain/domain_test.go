package domain

import "testing"

func TestFixBitlistPadsShort(t *testing.T) {
	got := FixBitlist([]bool{true}, 3)
	want := []bool{false, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestFixBitlistTruncatesLong(t *testing.T) {
	got := FixBitlist([]bool{true, false, true, false}, 2)
	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Fatalf("unexpected: %v", got)
	}
}

func TestDeadlinesOrdering(t *testing.T) {
	expiration := int64(100)
	voteAfter, voteBefore, reveal, settle := Deadlines(expiration, 25, 25)
	if !(expiration < voteAfter && voteAfter <= voteBefore && voteBefore < reveal && reveal <= settle) {
		t.Fatalf("ordering invariant violated: %d %d %d %d %d", expiration, voteAfter, voteBefore, reveal, settle)
	}
}

func TestExpertsDisagreeTrustedShortcuts(t *testing.T) {
	truth := []bool{true, false}
	trusted := TrustedAuthors{"expert-a": {}}
	assertions := []Assertion{
		{Author: "expert-a", Mask: []bool{true, true}, Verdicts: []bool{false, false}},
	}
	if !ExpertsDisagree(assertions, truth, trusted) {
		t.Fatal("expected trusted disagreement to flag population")
	}
}

func TestExpertsDisagreeUntrustedNeedsQuorum(t *testing.T) {
	truth := []bool{true}
	assertions := []Assertion{
		{Author: "u1", Mask: []bool{true}, Verdicts: []bool{false}},
	}
	if ExpertsDisagree(assertions, truth, nil) {
		t.Fatal("single untrusted disagreement below quorum should not flag")
	}
}
