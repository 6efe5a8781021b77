package staleness

import (
	"context"
	"errors"
	"log"
	"time"

	"tally/api/internal/scoring"
	"tally/api/internal/store"
	"tally/api/internal/util"
)

// ErrNotTracked signals that a document has no data for a condition (no
// tracker key, no branch). Treated as condition-not-met, not as a failure.
var ErrNotTracked = errors.New("document not tracked for this condition")

type penaltyStore interface {
	ListRules(ctx context.Context, activeOnly bool) ([]store.OutdatedRule, error)
	ListDocuments(ctx context.Context) ([]store.Document, error)
	ListDocumentLinks(ctx context.Context, documentID string) ([]store.DocumentLink, error)
	HasUnresolvedPenalty(ctx context.Context, documentID, ruleID string) (bool, error)
	InsertPenalty(ctx context.Context, penalty store.DocumentPenalty) error
	InsertScoreEvent(ctx context.Context, event store.ScoreEvent) (int64, error)
}

// BranchInspector answers when a document's branch was merged into main.
type BranchInspector interface {
	BranchMergedAt(documentID, branchName string) (mergedAt time.Time, merged bool, err error)
}

// TrackerClient answers whether an external tracker issue is closed.
type TrackerClient interface {
	IssueClosedAt(ctx context.Context, key string) (closedAt time.Time, closed bool, err error)
}

// Report summarizes one evaluation pass.
type Report struct {
	RulesEvaluated   int `json:"rulesEvaluated"`
	DocumentsScanned int `json:"documentsScanned"`
	PenaltiesCreated int `json:"penaltiesCreated"`
	ConditionErrors  int `json:"conditionErrors"`
	SkippedRules     int `json:"skippedRules"`
}

// Evaluator walks all active rules over all documents. A condition error
// (unreachable tracker, unreadable repo) counts as not-met for that run and
// never blocks other rules or documents.
type Evaluator struct {
	store   penaltyStore
	git     BranchInspector
	tracker TrackerClient
	now     func() time.Time
}

func NewEvaluator(store penaltyStore, git BranchInspector, tracker TrackerClient) *Evaluator {
	return &Evaluator{store: store, git: git, tracker: tracker, now: time.Now}
}

// WithClock overrides the evaluator's clock. Tests only.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Run executes one full evaluation pass. Rules arrive from the store in
// descending priority order; documents with an open penalty for the same
// rule are never penalized twice.
func (e *Evaluator) Run(ctx context.Context) (Report, error) {
	var report Report

	rows, err := e.store.ListRules(ctx, true)
	if err != nil {
		return report, err
	}
	documents, err := e.store.ListDocuments(ctx)
	if err != nil {
		return report, err
	}
	report.DocumentsScanned = len(documents)

	for _, row := range rows {
		rule, err := ParseRule(row)
		if err != nil {
			log.Printf("staleness: skipping rule %s: %v", row.ID, err)
			report.SkippedRules++
			continue
		}
		report.RulesEvaluated++

		for _, document := range documents {
			met, err := e.conditionMet(ctx, rule.Condition, document)
			if err != nil && !errors.Is(err, ErrNotTracked) {
				log.Printf("staleness: rule %s on document %s: %v (treated as not met)", rule.ID, document.ID, err)
				report.ConditionErrors++
				continue
			}
			if !met {
				continue
			}

			applied, err := e.applyPenalty(ctx, rule, document)
			if err != nil {
				log.Printf("staleness: apply rule %s to document %s: %v", rule.ID, document.ID, err)
				report.ConditionErrors++
				continue
			}
			if applied {
				report.PenaltiesCreated++
			}
		}
	}

	return report, nil
}

func (e *Evaluator) conditionMet(ctx context.Context, condition Condition, document store.Document) (bool, error) {
	now := e.now()

	switch c := condition.(type) {
	case DaysInactive:
		threshold := time.Duration(c.Days) * 24 * time.Hour
		return now.Sub(document.LastActivityAt) >= threshold, nil

	case TrackerClosed:
		if document.TrackerKey == "" {
			return false, nil
		}
		if e.tracker == nil {
			return false, ErrNotTracked
		}
		closedAt, closed, err := e.tracker.IssueClosedAt(ctx, document.TrackerKey)
		if err != nil {
			return false, err
		}
		if !closed {
			return false, nil
		}
		grace := time.Duration(c.GraceDays) * 24 * time.Hour
		return now.Sub(closedAt) >= grace && document.LastActivityAt.Before(closedAt), nil

	case BranchMerged:
		if document.BranchName == "" {
			return false, nil
		}
		if e.git == nil {
			return false, ErrNotTracked
		}
		mergedAt, merged, err := e.git.BranchMergedAt(document.ID, document.BranchName)
		if err != nil {
			return false, err
		}
		if !merged {
			return false, nil
		}
		grace := time.Duration(c.GraceDays) * 24 * time.Hour
		return now.Sub(mergedAt) >= grace && document.LastActivityAt.Before(mergedAt), nil

	case LinkBroken:
		links, err := e.store.ListDocumentLinks(ctx, document.ID)
		if err != nil {
			return false, err
		}
		for _, link := range links {
			if link.LastCheckedAt != nil && !link.IsValid {
				return true, nil
			}
		}
		return false, nil
	}

	return false, nil
}

// applyPenalty creates the penalty row and the penalty_applied log entry
// against the document owner. Returns false when an unresolved penalty for
// the same (document, rule) already exists.
func (e *Evaluator) applyPenalty(ctx context.Context, rule Rule, document store.Document) (bool, error) {
	exists, err := e.store.HasUnresolvedPenalty(ctx, document.ID, rule.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	penalty := store.DocumentPenalty{
		ID:           util.NewID("pen"),
		DocumentID:   document.ID,
		RuleID:       rule.ID,
		PenaltyScore: rule.PenaltyScore,
	}
	if err := e.store.InsertPenalty(ctx, penalty); err != nil {
		return false, err
	}

	documentID := document.ID
	event := store.ScoreEvent{
		UserID:     document.OwnerID,
		DocumentID: &documentID,
		EventType:  string(scoring.EventPenaltyApplied),
		Delta:      -rule.PenaltyScore,
		Reason:     "staleness rule " + string(rule.Condition.Type()) + " on " + document.Title,
	}
	if _, err := e.store.InsertScoreEvent(ctx, event); err != nil {
		return false, err
	}

	return true, nil
}
