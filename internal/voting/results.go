package voting

import (
	"context"
	"math"
	"sort"

	"ballotbox.org/internal/chain"
)

// tallyVotes counts recorded votes per roster candidate. The returned slice is
// indexed like s.Candidates, which is also the on-chain storage layout.
func tallyVotes(s Session) []int {
	byName := make(map[string]int, len(s.Candidates))
	for i, c := range s.Candidates {
		byName[c.Name] = i
	}
	counts := make([]int, len(s.Candidates))
	for _, v := range s.Votes {
		if i, ok := byName[v.Candidate]; ok {
			counts[i]++
		}
	}
	return counts
}

// AggregateResults builds the result view for a session. The tally lists the
// full roster sorted by votes descending; the stable sort keeps tied
// candidates in roster order. Winners are every candidate at the maximum
// count, or empty when nobody voted. Percentages are rounded to the nearest
// integer and are all zero when there are no votes.
func AggregateResults(s Session) Results {
	counts := tallyVotes(s)

	total := 0
	for _, c := range counts {
		total += c
	}

	tally := make([]CandidateResult, len(s.Candidates))
	for i, c := range s.Candidates {
		pct := 0
		if total > 0 {
			pct = int(math.Round(float64(counts[i]) / float64(total) * 100))
		}
		tally[i] = CandidateResult{Candidate: c.Name, Votes: counts[i], Percentage: pct}
	}
	sort.SliceStable(tally, func(i, j int) bool { return tally[i].Votes > tally[j].Votes })

	var winners []string
	if total > 0 {
		max := tally[0].Votes
		for _, row := range tally {
			if row.Votes == max {
				winners = append(winners, row.Candidate)
			}
		}
	}

	return Results{
		SessionID:  s.ID,
		Tally:      tally,
		Winners:    winners,
		TotalVotes: total,
	}
}

// VerifyAgainstChain compares the durable per-candidate counts with the
// mirrored counters. Any read failure or mismatch yields false; verification
// never fails the results call.
func VerifyAgainstChain(ctx context.Context, reader chain.Reader, s Session) bool {
	if reader == nil || s.ChainSessionID == nil || *s.ChainSessionID == "" {
		return false
	}
	counts := tallyVotes(s)
	for i := range s.Candidates {
		mirrored, err := reader.ReadVoteCount(ctx, *s.ChainSessionID, i)
		if err != nil {
			return false
		}
		if mirrored != int64(counts[i]) {
			return false
		}
	}
	return len(s.Candidates) > 0
}
