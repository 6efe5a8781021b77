package scoring

import (
	"testing"
	"time"
)

func makeEvent(userID string, eventType EventType, delta int) Event {
	return Event{UserID: userID, Type: eventType, Delta: delta, CreatedAt: time.Now()}
}

func TestAggregateCategories(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		makeEvent("u1", EventDocumentCreated, 50),
		makeEvent("u1", EventDocumentPublished, 100),
		makeEvent("u1", EventReviewGiven, 30),
		makeEvent("u1", EventCommentReceived, 5),
		makeEvent("u1", EventViewReceived, 1),
		makeEvent("u1", EventBadgeEarned, 25),
		makeEvent("u1", EventPenaltyApplied, -40),
	}

	result := Aggregate("u1", events, now)
	snapshot := result.Snapshot

	if snapshot.Written != 150 {
		t.Errorf("Written = %d, want 150", snapshot.Written)
	}
	if snapshot.Reviews != 30 {
		t.Errorf("Reviews = %d, want 30", snapshot.Reviews)
	}
	if snapshot.Engagement != 31 {
		t.Errorf("Engagement = %d, want 31", snapshot.Engagement)
	}
	if snapshot.Penalty != 40 {
		t.Errorf("Penalty = %d, want positive magnitude 40", snapshot.Penalty)
	}
	if snapshot.Total != 171 {
		t.Errorf("Total = %d, want 150+30+31-40 = 171", snapshot.Total)
	}
	if snapshot.Grade != GradeD {
		t.Errorf("Grade = %s, want D", snapshot.Grade)
	}
	if snapshot.ComputedAt != now {
		t.Errorf("ComputedAt = %v, want %v", snapshot.ComputedAt, now)
	}
	if result.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", result.Skipped)
	}
}

func TestAggregateIdempotent(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		makeEvent("u1", EventDocumentCreated, 50),
		makeEvent("u1", EventReviewGiven, 30),
		makeEvent("u1", EventPenaltyApplied, -10),
	}

	first := Aggregate("u1", events, now)
	second := Aggregate("u1", events, now)
	if first != second {
		t.Errorf("aggregation not idempotent: %+v vs %+v", first, second)
	}
}

func TestAggregateSkipsForeignAndUnknownEvents(t *testing.T) {
	now := time.Now()
	events := []Event{
		makeEvent("u1", EventDocumentCreated, 50),
		makeEvent("u2", EventDocumentCreated, 99),
		makeEvent("u1", EventType("mystery_bonus"), 500),
	}

	result := Aggregate("u1", events, now)
	if result.Snapshot.Total != 50 {
		t.Errorf("Total = %d, want 50 (foreign/unknown events skipped)", result.Snapshot.Total)
	}
	if result.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", result.Skipped)
	}
}

func TestAggregateEmptyLog(t *testing.T) {
	result := Aggregate("u1", nil, time.Now())
	if result.Snapshot.Total != 0 || result.Snapshot.Grade != GradeF {
		t.Errorf("empty log should yield zero total and grade F, got %+v", result.Snapshot)
	}
}

func TestValidEventType(t *testing.T) {
	if !ValidEventType(EventReviewGiven) {
		t.Error("review_given should be valid")
	}
	if ValidEventType(EventType("document_deleted")) {
		t.Error("unlisted type should be invalid")
	}
}
