// Package staleness evaluates configurable outdated-document rules and
// applies penalties for the ones that hold.
package staleness

import (
	"encoding/json"
	"fmt"

	"tally/api/internal/store"
)

// ConditionType discriminates the rule variants.
type ConditionType string

const (
	ConditionDaysInactive  ConditionType = "days_inactive"
	ConditionTrackerClosed ConditionType = "tracker_closed"
	ConditionBranchMerged  ConditionType = "branch_merged"
	ConditionLinkBroken    ConditionType = "link_broken"
)

// Condition is one typed rule variant. Parameters are decoded per condition
// type; there is no dynamic field access past this point.
type Condition interface {
	Type() ConditionType
}

// DaysInactive holds when a document saw no activity for at least Days days.
type DaysInactive struct {
	Days int `json:"days"`
}

func (DaysInactive) Type() ConditionType { return ConditionDaysInactive }

// TrackerClosed holds when the linked tracker issue is closed, the grace
// period has elapsed and the document was not touched since the closure.
type TrackerClosed struct {
	GraceDays int `json:"graceDays"`
}

func (TrackerClosed) Type() ConditionType { return ConditionTrackerClosed }

// BranchMerged holds when the linked branch was merged into main, the grace
// period has elapsed and the document is unchanged since the merge.
type BranchMerged struct {
	GraceDays int `json:"graceDays"`
}

func (BranchMerged) Type() ConditionType { return ConditionBranchMerged }

// LinkBroken holds when any external link's last validation is invalid.
type LinkBroken struct{}

func (LinkBroken) Type() ConditionType { return ConditionLinkBroken }

// Rule is a parsed staleness rule ready for evaluation.
type Rule struct {
	ID           string
	Condition    Condition
	PenaltyScore int
	Priority     int
}

// ParseRule decodes a stored rule row into its typed condition.
func ParseRule(row store.OutdatedRule) (Rule, error) {
	rule := Rule{
		ID:           row.ID,
		PenaltyScore: row.PenaltyScore,
		Priority:     row.Priority,
	}

	params := row.Params
	if len(params) == 0 {
		params = []byte("{}")
	}

	switch ConditionType(row.ConditionType) {
	case ConditionDaysInactive:
		var condition DaysInactive
		if err := json.Unmarshal(params, &condition); err != nil {
			return Rule{}, fmt.Errorf("rule %s: decode days_inactive params: %w", row.ID, err)
		}
		if condition.Days <= 0 {
			return Rule{}, fmt.Errorf("rule %s: days_inactive requires days > 0", row.ID)
		}
		rule.Condition = condition
	case ConditionTrackerClosed:
		var condition TrackerClosed
		if err := json.Unmarshal(params, &condition); err != nil {
			return Rule{}, fmt.Errorf("rule %s: decode tracker_closed params: %w", row.ID, err)
		}
		rule.Condition = condition
	case ConditionBranchMerged:
		var condition BranchMerged
		if err := json.Unmarshal(params, &condition); err != nil {
			return Rule{}, fmt.Errorf("rule %s: decode branch_merged params: %w", row.ID, err)
		}
		rule.Condition = condition
	case ConditionLinkBroken:
		rule.Condition = LinkBroken{}
	default:
		return Rule{}, fmt.Errorf("rule %s: unknown condition type %q", row.ID, row.ConditionType)
	}

	return rule, nil
}

// EncodeParams serializes a typed condition back to the stored JSON bag.
func EncodeParams(condition Condition) ([]byte, error) {
	payload, err := json.Marshal(condition)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", condition.Type(), err)
	}
	return payload, nil
}

// ValidConditionType reports whether the type names a known variant.
func ValidConditionType(conditionType string) bool {
	switch ConditionType(conditionType) {
	case ConditionDaysInactive, ConditionTrackerClosed, ConditionBranchMerged, ConditionLinkBroken:
		return true
	}
	return false
}
