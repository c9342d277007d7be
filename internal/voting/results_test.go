package voting

import (
	"context"
	"testing"
	"time"

	"ballotbox.org/internal/chain"
)

func resultsFixture(votes ...Vote) Session {
	return Session{
		ID: "sess-1",
		Candidates: []Candidate{
			{Name: "alice", Status: CandidateStatusAccepted},
			{Name: "bob", Status: CandidateStatusAccepted},
			{Name: "carol", Status: CandidateStatusAccepted},
		},
		Votes: votes,
	}
}

func vote(voter, candidate string) Vote {
	return Vote{Voter: voter, Candidate: candidate, Timestamp: time.Now()}
}

func TestAggregateResultsOrdering(t *testing.T) {
	s := resultsFixture(
		vote("v1", "bob"),
		vote("v2", "bob"),
		vote("v3", "alice"),
	)

	res := AggregateResults(s)
	if res.TotalVotes != 3 {
		t.Fatalf("total votes: got %d, want 3", res.TotalVotes)
	}
	want := []CandidateResult{
		{Candidate: "bob", Votes: 2, Percentage: 67},
		{Candidate: "alice", Votes: 1, Percentage: 33},
		{Candidate: "carol", Votes: 0, Percentage: 0},
	}
	if len(res.Tally) != len(want) {
		t.Fatalf("tally length: got %d, want %d", len(res.Tally), len(want))
	}
	for i, w := range want {
		if res.Tally[i] != w {
			t.Fatalf("tally[%d]: got %+v, want %+v", i, res.Tally[i], w)
		}
	}
	if len(res.Winners) != 1 || res.Winners[0] != "bob" {
		t.Fatalf("winners: got %v, want [bob]", res.Winners)
	}
}

func TestAggregateResultsTieKeepsRosterOrder(t *testing.T) {
	s := resultsFixture(
		vote("v1", "carol"),
		vote("v2", "alice"),
	)

	res := AggregateResults(s)
	if got := []string{res.Tally[0].Candidate, res.Tally[1].Candidate}; got[0] != "alice" || got[1] != "carol" {
		t.Fatalf("tied candidates out of roster order: %v", got)
	}
	if len(res.Winners) != 2 || res.Winners[0] != "alice" || res.Winners[1] != "carol" {
		t.Fatalf("winners: got %v, want [alice carol]", res.Winners)
	}
}

func TestAggregateResultsNoVotes(t *testing.T) {
	res := AggregateResults(resultsFixture())
	if res.TotalVotes != 0 {
		t.Fatalf("total votes: got %d, want 0", res.TotalVotes)
	}
	if len(res.Winners) != 0 {
		t.Fatalf("winners on empty ballot: got %v, want none", res.Winners)
	}
	for _, row := range res.Tally {
		if row.Percentage != 0 || row.Votes != 0 {
			t.Fatalf("expected zero row, got %+v", row)
		}
	}
}

func TestVerifyAgainstChain(t *testing.T) {
	ref := "chain-7"
	s := resultsFixture(
		vote("v1", "alice"),
		vote("v2", "bob"),
		vote("v3", "bob"),
	)
	s.ChainSessionID = &ref

	ledger := chain.NewMemory()
	ledger.SetVoteCount(ref, 0, 1)
	ledger.SetVoteCount(ref, 1, 2)
	ledger.SetVoteCount(ref, 2, 0)

	if !VerifyAgainstChain(context.Background(), ledger, s) {
		t.Fatal("expected verification to pass with matching counts")
	}

	ledger.SetVoteCount(ref, 1, 5)
	if VerifyAgainstChain(context.Background(), ledger, s) {
		t.Fatal("expected verification to fail on mismatch")
	}

	ledger.SetVoteCount(ref, 1, 2)
	ledger.FailNext()
	if VerifyAgainstChain(context.Background(), ledger, s) {
		t.Fatal("expected verification to fail when the chain cannot be read")
	}

	s.ChainSessionID = nil
	if VerifyAgainstChain(context.Background(), ledger, s) {
		t.Fatal("expected verification to fail without a linked mirror")
	}
	if VerifyAgainstChain(context.Background(), nil, s) {
		t.Fatal("expected verification to fail without a reader")
	}
}
