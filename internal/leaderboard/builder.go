// Package leaderboard builds ranked, diffed boards from user score
// snapshots and caches the published board in Redis.
package leaderboard

import (
	"sort"
	"time"

	"tally/api/internal/scoring"
)

// Entry is one user's row on a published board.
type Entry struct {
	Rank         int           `json:"rank"`
	UserID       string        `json:"userId"`
	DisplayName  string        `json:"displayName"`
	TotalScore   int           `json:"totalScore"`
	Grade        scoring.Grade `json:"grade"`
	Written      int           `json:"written"`
	Reviews      int           `json:"reviews"`
	Engagement   int           `json:"engagement"`
	Penalty      int           `json:"penalty"`
	PreviousRank *int          `json:"previousRank,omitempty"`
	RankChange   int           `json:"rankChange"`
	CalculatedAt time.Time     `json:"calculatedAt"`
}

// Board is a complete versioned leaderboard.
type Board struct {
	Version int64     `json:"version"`
	BuiltAt time.Time `json:"builtAt"`
	Entries []Entry   `json:"entries"`
}

// Member pairs a snapshot with its display name for board construction.
type Member struct {
	Snapshot    scoring.Snapshot
	DisplayName string
}

// Build ranks members by total score descending. Ties break by ascending
// previous rank (users without one sort last among the tie), then by user id
// so the order is fully deterministic. RankChange is previous minus new, so
// climbing the board is positive; first appearances keep a nil PreviousRank
// and zero change.
func Build(members []Member, previousRanks map[string]int, builtAt time.Time) []Entry {
	sorted := make([]Member, len(members))
	copy(sorted, members)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Snapshot.Total != b.Snapshot.Total {
			return a.Snapshot.Total > b.Snapshot.Total
		}
		aPrev, aOK := previousRanks[a.Snapshot.UserID]
		bPrev, bOK := previousRanks[b.Snapshot.UserID]
		if aOK && bOK && aPrev != bPrev {
			return aPrev < bPrev
		}
		if aOK != bOK {
			return aOK
		}
		return a.Snapshot.UserID < b.Snapshot.UserID
	})

	entries := make([]Entry, 0, len(sorted))
	for i, member := range sorted {
		rank := i + 1
		entry := Entry{
			Rank:         rank,
			UserID:       member.Snapshot.UserID,
			DisplayName:  member.DisplayName,
			TotalScore:   member.Snapshot.Total,
			Grade:        member.Snapshot.Grade,
			Written:      member.Snapshot.Written,
			Reviews:      member.Snapshot.Reviews,
			Engagement:   member.Snapshot.Engagement,
			Penalty:      member.Snapshot.Penalty,
			CalculatedAt: builtAt,
		}
		if previous, ok := previousRanks[member.Snapshot.UserID]; ok {
			previousCopy := previous
			entry.PreviousRank = &previousCopy
			entry.RankChange = previous - rank
		}
		entries = append(entries, entry)
	}
	return entries
}
