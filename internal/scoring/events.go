// Package scoring holds the pure scoring core: event categories, the
// grade mapper and the snapshot aggregator.
package scoring

import (
	"fmt"
	"time"
)

// EventType identifies one kind of scoring-relevant action.
type EventType string

const (
	EventDocumentCreated   EventType = "document_created"
	EventDocumentPublished EventType = "document_published"
	EventDocumentCompleted EventType = "document_completed"
	EventReviewGiven       EventType = "review_given"
	EventViewReceived      EventType = "view_received"
	EventCommentReceived   EventType = "comment_received"
	EventBadgeEarned       EventType = "badge_earned"
	EventAdminAdjustment   EventType = "admin_adjustment"
	EventPenaltyApplied    EventType = "penalty_applied"
)

// Category is the snapshot bucket an event's delta is summed into.
type Category string

const (
	CategoryWritten    Category = "written"
	CategoryReviews    Category = "reviews"
	CategoryEngagement Category = "engagement"
	CategoryPenalty    Category = "penalty"
)

var eventCategories = map[EventType]Category{
	EventDocumentCreated:   CategoryWritten,
	EventDocumentPublished: CategoryWritten,
	EventDocumentCompleted: CategoryWritten,
	EventReviewGiven:       CategoryReviews,
	EventViewReceived:      CategoryEngagement,
	EventCommentReceived:   CategoryEngagement,
	EventBadgeEarned:       CategoryEngagement,
	EventAdminAdjustment:   CategoryEngagement,
	EventPenaltyApplied:    CategoryPenalty,
}

// CategoryOf returns the snapshot bucket for an event type.
func CategoryOf(eventType EventType) (Category, error) {
	category, ok := eventCategories[eventType]
	if !ok {
		return "", fmt.Errorf("unknown event type %q", eventType)
	}
	return category, nil
}

// ValidEventType reports whether the given type is part of the closed enum.
// Unknown types must be rejected at write time, never aggregated.
func ValidEventType(eventType EventType) bool {
	_, ok := eventCategories[eventType]
	return ok
}

// Event is one immutable scoring log entry as the aggregator consumes it.
type Event struct {
	ID         int64
	UserID     string
	DocumentID *string
	Type       EventType
	Delta      int
	Reason     string
	CreatedAt  time.Time
}
