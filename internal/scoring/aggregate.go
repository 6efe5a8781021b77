package scoring

import "time"

// Snapshot is the denormalized per-user aggregate derived from the event log.
//
// Sign convention: the log stores signed deltas (penalty events are
// negative), while Penalty below holds the positive magnitude. The total is
// Written + Reviews + Engagement - Penalty, so recomputing from the same log
// always lands on the same numbers.
type Snapshot struct {
	UserID     string
	Written    int
	Reviews    int
	Engagement int
	Penalty    int
	Total      int
	Grade      Grade
	ComputedAt time.Time
}

// Aggregation is the outcome of one aggregation pass.
type Aggregation struct {
	Snapshot Snapshot
	// Skipped counts events that could not be attributed (unknown event
	// type in a log written before the type was retired, or an event for
	// another user handed to the wrong batch). They are reported, never
	// fatal.
	Skipped int
}

// Aggregate folds a user's events into a fresh snapshot. It is a pure
// function of its inputs: aggregating the same events twice yields the same
// snapshot (modulo ComputedAt, which is taken from the clock argument).
func Aggregate(userID string, events []Event, now time.Time) Aggregation {
	snapshot := Snapshot{UserID: userID, ComputedAt: now}
	skipped := 0

	for _, event := range events {
		if event.UserID != userID {
			skipped++
			continue
		}
		category, err := CategoryOf(event.Type)
		if err != nil {
			skipped++
			continue
		}
		switch category {
		case CategoryWritten:
			snapshot.Written += event.Delta
		case CategoryReviews:
			snapshot.Reviews += event.Delta
		case CategoryEngagement:
			snapshot.Engagement += event.Delta
		case CategoryPenalty:
			// Log deltas for penalties are negative; the snapshot
			// keeps the positive magnitude.
			snapshot.Penalty -= event.Delta
		}
	}

	snapshot.Total = snapshot.Written + snapshot.Reviews + snapshot.Engagement - snapshot.Penalty
	snapshot.Grade = GradeFor(snapshot.Total)
	return Aggregation{Snapshot: snapshot, Skipped: skipped}
}
