package store

import "time"

type User struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
}

// Document is the slice of the platform's document registry the scoring
// engine needs: ownership for penalty attribution and activity/branch/tracker
// metadata for the staleness rules.
type Document struct {
	ID             string
	Title          string
	OwnerID        string
	Status         string
	BranchName     string
	TrackerKey     string
	LastActivityAt time.Time
	UpdatedAt      time.Time
}

// DocumentLink is an external link with its last validation outcome. The
// platform's link checker writes these; the link_broken rule only reads.
type DocumentLink struct {
	ID            string
	DocumentID    string
	URL           string
	IsValid       bool
	LastCheckedAt *time.Time
}

// ScoreEvent is one immutable row of the append-only scoring log.
type ScoreEvent struct {
	ID         int64
	UserID     string
	DocumentID *string
	EventType  string
	Delta      int
	Reason     string
	CreatedAt  time.Time
}

// UserScoreSnapshot holds the denormalized per-user sums. Penalty is a
// positive magnitude; Total = Written + Reviews + Engagement - Penalty.
type UserScoreSnapshot struct {
	UserID     string
	Written    int
	Reviews    int
	Engagement int
	Penalty    int
	Total      int
	Grade      string
	ComputedAt time.Time
}

// LeaderboardRow is one persisted entry of a leaderboard version.
type LeaderboardRow struct {
	Version      int64
	Rank         int
	UserID       string
	DisplayName  string
	TotalScore   int
	Grade        string
	Written      int
	Reviews      int
	Engagement   int
	Penalty      int
	PreviousRank *int
	RankChange   int
	CalculatedAt time.Time
}

// LeaderboardVersion describes one complete board build.
type LeaderboardVersion struct {
	Version    int64
	BuiltAt    time.Time
	EntryCount int
}

// WindowedRank is a row of an on-demand, time-windowed ranking query. It
// carries no rank-change because windowed views are not diffed.
type WindowedRank struct {
	Rank        int
	UserID      string
	DisplayName string
	TotalScore  int
}

// OutdatedRule is a staleness rule row; Params is the raw JSON parameter
// bag that the staleness package decodes into its typed conditions.
type OutdatedRule struct {
	ID            string
	ConditionType string
	Params        []byte
	PenaltyScore  int
	Priority      int
	IsActive      bool
	CreatedAt     time.Time
}

// DocumentPenalty records one rule application against a document.
// unresolved -> resolved, terminal; resolution never reverses the score.
type DocumentPenalty struct {
	ID           string
	DocumentID   string
	RuleID       string
	PenaltyScore int
	IsResolved   bool
	ResolvedBy   string
	ResolvedAt   *time.Time
	CreatedAt    time.Time
}
