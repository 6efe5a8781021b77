package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tally/api/internal/leaderboard"
	"tally/api/internal/scoring"
	"tally/api/internal/search"
	"tally/api/internal/staleness"
	"tally/api/internal/store"
	"tally/api/internal/util"
)

type dataStore interface {
	Ping(ctx context.Context) error
	GetUser(ctx context.Context, userID string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	InsertScoreEvent(ctx context.Context, event store.ScoreEvent) (int64, error)
	ListEventsForUser(ctx context.Context, userID string) ([]store.ScoreEvent, error)
	CountOrphanEvents(ctx context.Context) (int, error)
	UpsertSnapshot(ctx context.Context, snapshot store.UserScoreSnapshot) error
	GetSnapshot(ctx context.Context, userID string) (store.UserScoreSnapshot, error)
	CurrentLeaderboardVersion(ctx context.Context) (store.LeaderboardVersion, error)
	PreviousRanks(ctx context.Context) (map[string]int, error)
	ReplaceLeaderboard(ctx context.Context, entries []store.LeaderboardRow, builtAt time.Time) (int64, error)
	ListLeaderboardEntries(ctx context.Context, version int64, limit, offset int) ([]store.LeaderboardRow, error)
	WindowedLeaderboard(ctx context.Context, since time.Time, limit, offset int) ([]store.WindowedRank, error)
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	ListRules(ctx context.Context, activeOnly bool) ([]store.OutdatedRule, error)
	InsertRule(ctx context.Context, rule store.OutdatedRule) error
	DeactivateRule(ctx context.Context, ruleID string) (bool, error)
	GetPenalty(ctx context.Context, penaltyID string) (store.DocumentPenalty, error)
	ResolvePenalty(ctx context.Context, penaltyID, resolvedBy string) (bool, error)
	ListPenaltiesForDocument(ctx context.Context, documentID string, unresolvedOnly bool) ([]store.DocumentPenalty, error)
	SummaryCounts(ctx context.Context) (rankedUsers int, totalEvents int, unresolvedPenalties int, err error)
}

type searcher interface {
	Search(q search.Query) search.Response
	IndexEvent(event search.EventRecord)
}

type ruleEvaluator interface {
	Run(ctx context.Context) (staleness.Report, error)
}

type boardArchive interface {
	Put(ctx context.Context, board leaderboard.Board) error
}

// Service carries the scoring engine's business logic: event intake, score
// reads, leaderboard assembly, rule administration and the two batch jobs the
// scheduler drives.
type Service struct {
	store     dataStore
	cache     *leaderboard.Cache // nil = no Redis, reads fall through to the store
	search    searcher
	evaluator ruleEvaluator
	archive   boardArchive // nil disables board archiving
	now       func() time.Time
}

func NewService(dataStore dataStore, cache *leaderboard.Cache, searchSvc searcher, evaluator ruleEvaluator, archive boardArchive) *Service {
	return &Service{
		store:     dataStore,
		cache:     cache,
		search:    searchSvc,
		evaluator: evaluator,
		archive:   archive,
		now:       time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Ping(ctx)
}

type RecordEventInput struct {
	UserID     string  `json:"userId"`
	DocumentID *string `json:"documentId"`
	EventType  string  `json:"eventType"`
	Delta      int     `json:"delta"`
	Reason     string  `json:"reason"`
}

type EventPayload struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	EventType string    `json:"eventType"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecordEvent appends one entry to the score log. Unknown event types are
// rejected here, at write time; penalty events only ever enter the log
// through rule evaluation, so the API refuses them too.
func (s *Service) RecordEvent(ctx context.Context, input RecordEventInput) (EventPayload, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return EventPayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId is required", nil)
	}
	eventType := scoring.EventType(strings.TrimSpace(input.EventType))
	if !scoring.ValidEventType(eventType) {
		return EventPayload{}, domainError(http.StatusUnprocessableEntity, "UNKNOWN_EVENT_TYPE",
			fmt.Sprintf("unknown event type %q", input.EventType), nil)
	}
	if eventType == scoring.EventPenaltyApplied {
		return EventPayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"penalty events are created by rule evaluation", nil)
	}

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EventPayload{}, domainError(http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
		}
		return EventPayload{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}

	event := store.ScoreEvent{
		UserID:     userID,
		DocumentID: input.DocumentID,
		EventType:  string(eventType),
		Delta:      input.Delta,
		Reason:     strings.TrimSpace(input.Reason),
		CreatedAt:  s.now().UTC(),
	}
	id, err := s.store.InsertScoreEvent(ctx, event)
	if err != nil {
		return EventPayload{}, fmt.Errorf("insert score event: %w", err)
	}

	if s.search != nil && event.Reason != "" {
		record := search.EventRecord{
			ID:        strconv.FormatInt(id, 10),
			Reason:    event.Reason,
			EventType: event.EventType,
			UserID:    event.UserID,
		}
		if event.DocumentID != nil {
			record.DocumentID = *event.DocumentID
		}
		s.search.IndexEvent(record)
	}

	return EventPayload{
		ID:        id,
		UserID:    event.UserID,
		EventType: event.EventType,
		Delta:     event.Delta,
		Reason:    event.Reason,
		CreatedAt: event.CreatedAt,
	}, nil
}

type ScorePayload struct {
	UserID     string    `json:"userId"`
	Written    int       `json:"written"`
	Reviews    int       `json:"reviews"`
	Engagement int       `json:"engagement"`
	Penalty    int       `json:"penalty"`
	Total      int       `json:"totalScore"`
	Grade      string    `json:"grade"`
	ComputedAt time.Time `json:"computedAt"`
}

// UserScore returns the persisted snapshot. A user who exists but has not
// been through a recompute yet reads as all zeroes with grade F.
func (s *Service) UserScore(ctx context.Context, userID string) (ScorePayload, error) {
	snapshot, err := s.store.GetSnapshot(ctx, userID)
	if err == nil {
		return ScorePayload{
			UserID:     snapshot.UserID,
			Written:    snapshot.Written,
			Reviews:    snapshot.Reviews,
			Engagement: snapshot.Engagement,
			Penalty:    snapshot.Penalty,
			Total:      snapshot.Total,
			Grade:      snapshot.Grade,
			ComputedAt: snapshot.ComputedAt,
		}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ScorePayload{}, fmt.Errorf("load snapshot for %s: %w", userID, err)
	}

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ScorePayload{}, domainError(http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
		}
		return ScorePayload{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return ScorePayload{UserID: userID, Grade: string(scoring.GradeFor(0))}, nil
}

// Window names accepted by the leaderboard endpoint.
const (
	WindowAll   = "all"
	WindowWeek  = "week"
	WindowMonth = "month"
	WindowYear  = "year"
)

type BreakdownPayload struct {
	Written    int `json:"written"`
	Reviews    int `json:"reviews"`
	Engagement int `json:"engagement"`
	Penalty    int `json:"penalty"`
}

type BoardRowPayload struct {
	Rank         int               `json:"rank"`
	UserID       string            `json:"userId"`
	DisplayName  string            `json:"displayName"`
	TotalScore   int               `json:"totalScore"`
	Grade        string            `json:"grade"`
	Breakdown    *BreakdownPayload `json:"breakdown,omitempty"`
	PreviousRank *int              `json:"previousRank,omitempty"`
	RankChange   *int              `json:"rankChange,omitempty"`
}

type LeaderboardPayload struct {
	Window  string            `json:"window"`
	Version int64             `json:"version,omitempty"`
	BuiltAt *time.Time        `json:"builtAt,omitempty"`
	Entries []BoardRowPayload `json:"entries"`
}

// Leaderboard serves the published board for the "all" window and computes
// windowed rankings from the log on demand. Windowed views carry no
// rank-change; they are not diffed against anything.
func (s *Service) Leaderboard(ctx context.Context, window string, limit, offset int) (LeaderboardPayload, error) {
	if window == "" {
		window = WindowAll
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	switch window {
	case WindowAll:
		return s.publishedBoard(ctx, limit, offset)
	case WindowWeek, WindowMonth, WindowYear:
		return s.windowedBoard(ctx, window, limit, offset)
	default:
		return LeaderboardPayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"window must be one of all, week, month, year", nil)
	}
}

func (s *Service) publishedBoard(ctx context.Context, limit, offset int) (LeaderboardPayload, error) {
	if s.cache != nil {
		if board, err := s.cache.Current(ctx); err == nil {
			return boardPayload(board, limit, offset), nil
		} else if !errors.Is(err, leaderboard.ErrNoBoard) {
			log.Printf("app: leaderboard cache read failed, serving from store: %v", err)
		}
	}

	version, err := s.store.CurrentLeaderboardVersion(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LeaderboardPayload{Window: WindowAll, Entries: []BoardRowPayload{}}, nil
		}
		return LeaderboardPayload{}, fmt.Errorf("current leaderboard version: %w", err)
	}
	rows, err := s.store.ListLeaderboardEntries(ctx, version.Version, limit, offset)
	if err != nil {
		return LeaderboardPayload{}, fmt.Errorf("list leaderboard entries: %w", err)
	}

	entries := make([]BoardRowPayload, 0, len(rows))
	for _, row := range rows {
		entry := BoardRowPayload{
			Rank:        row.Rank,
			UserID:      row.UserID,
			DisplayName: row.DisplayName,
			TotalScore:  row.TotalScore,
			Grade:       row.Grade,
			Breakdown: &BreakdownPayload{
				Written:    row.Written,
				Reviews:    row.Reviews,
				Engagement: row.Engagement,
				Penalty:    row.Penalty,
			},
			PreviousRank: row.PreviousRank,
		}
		change := row.RankChange
		entry.RankChange = &change
		entries = append(entries, entry)
	}
	builtAt := version.BuiltAt
	return LeaderboardPayload{
		Window:  WindowAll,
		Version: version.Version,
		BuiltAt: &builtAt,
		Entries: entries,
	}, nil
}

func boardPayload(board leaderboard.Board, limit, offset int) LeaderboardPayload {
	entries := board.Entries
	if offset >= len(entries) {
		entries = nil
	} else {
		entries = entries[offset:]
		if len(entries) > limit {
			entries = entries[:limit]
		}
	}

	rows := make([]BoardRowPayload, 0, len(entries))
	for _, entry := range entries {
		row := BoardRowPayload{
			Rank:        entry.Rank,
			UserID:      entry.UserID,
			DisplayName: entry.DisplayName,
			TotalScore:  entry.TotalScore,
			Grade:       string(entry.Grade),
			Breakdown: &BreakdownPayload{
				Written:    entry.Written,
				Reviews:    entry.Reviews,
				Engagement: entry.Engagement,
				Penalty:    entry.Penalty,
			},
			PreviousRank: entry.PreviousRank,
		}
		change := entry.RankChange
		row.RankChange = &change
		rows = append(rows, row)
	}
	builtAt := board.BuiltAt
	return LeaderboardPayload{
		Window:  WindowAll,
		Version: board.Version,
		BuiltAt: &builtAt,
		Entries: rows,
	}
}

func (s *Service) windowedBoard(ctx context.Context, window string, limit, offset int) (LeaderboardPayload, error) {
	var span time.Duration
	switch window {
	case WindowWeek:
		span = 7 * 24 * time.Hour
	case WindowMonth:
		span = 30 * 24 * time.Hour
	case WindowYear:
		span = 365 * 24 * time.Hour
	}
	since := s.now().UTC().Add(-span)

	rows, err := s.store.WindowedLeaderboard(ctx, since, limit, offset)
	if err != nil {
		return LeaderboardPayload{}, fmt.Errorf("windowed leaderboard (%s): %w", window, err)
	}

	entries := make([]BoardRowPayload, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, BoardRowPayload{
			Rank:        row.Rank,
			UserID:      row.UserID,
			DisplayName: row.DisplayName,
			TotalScore:  row.TotalScore,
			Grade:       string(scoring.GradeFor(row.TotalScore)),
		})
	}
	return LeaderboardPayload{Window: window, Entries: entries}, nil
}

type BoardMetaPayload struct {
	Version    int64      `json:"version"`
	BuiltAt    *time.Time `json:"builtAt,omitempty"`
	EntryCount int        `json:"entryCount"`
}

func (s *Service) LeaderboardMeta(ctx context.Context) (BoardMetaPayload, error) {
	version, err := s.store.CurrentLeaderboardVersion(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BoardMetaPayload{}, nil
		}
		return BoardMetaPayload{}, fmt.Errorf("current leaderboard version: %w", err)
	}
	builtAt := version.BuiltAt
	return BoardMetaPayload{
		Version:    version.Version,
		BuiltAt:    &builtAt,
		EntryCount: version.EntryCount,
	}, nil
}

// Search proxies the audit search. It never fails the request: the search
// service already degrades from Meilisearch to Postgres internally.
func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

type PenaltyPayload struct {
	ID           string     `json:"id"`
	DocumentID   string     `json:"documentId"`
	RuleID       string     `json:"ruleId"`
	PenaltyScore int        `json:"penaltyScore"`
	IsResolved   bool       `json:"isResolved"`
	ResolvedBy   string     `json:"resolvedBy,omitempty"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func penaltyPayload(penalty store.DocumentPenalty) PenaltyPayload {
	return PenaltyPayload{
		ID:           penalty.ID,
		DocumentID:   penalty.DocumentID,
		RuleID:       penalty.RuleID,
		PenaltyScore: penalty.PenaltyScore,
		IsResolved:   penalty.IsResolved,
		ResolvedBy:   penalty.ResolvedBy,
		ResolvedAt:   penalty.ResolvedAt,
		CreatedAt:    penalty.CreatedAt,
	}
}

func (s *Service) DocumentPenalties(ctx context.Context, documentID string, unresolvedOnly bool) ([]PenaltyPayload, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document not found", nil)
		}
		return nil, fmt.Errorf("lookup document %s: %w", documentID, err)
	}
	penalties, err := s.store.ListPenaltiesForDocument(ctx, documentID, unresolvedOnly)
	if err != nil {
		return nil, fmt.Errorf("list penalties for %s: %w", documentID, err)
	}
	payloads := make([]PenaltyPayload, 0, len(penalties))
	for _, penalty := range penalties {
		payloads = append(payloads, penaltyPayload(penalty))
	}
	return payloads, nil
}

// ResolvePenalty moves a penalty to its terminal resolved state. The score
// effect stays on the log; resolution only stops the rule from counting the
// document as currently penalized. Resolving twice is a conflict.
func (s *Service) ResolvePenalty(ctx context.Context, penaltyID, resolvedBy string) (PenaltyPayload, error) {
	penalty, err := s.store.GetPenalty(ctx, penaltyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PenaltyPayload{}, domainError(http.StatusNotFound, "PENALTY_NOT_FOUND", "Penalty not found", nil)
		}
		return PenaltyPayload{}, fmt.Errorf("lookup penalty %s: %w", penaltyID, err)
	}
	if penalty.IsResolved {
		return PenaltyPayload{}, domainError(http.StatusConflict, "ALREADY_RESOLVED", "Penalty is already resolved", nil)
	}

	resolved, err := s.store.ResolvePenalty(ctx, penaltyID, resolvedBy)
	if err != nil {
		return PenaltyPayload{}, fmt.Errorf("resolve penalty %s: %w", penaltyID, err)
	}
	if !resolved {
		// Lost a race with another resolver between the read and the update.
		return PenaltyPayload{}, domainError(http.StatusConflict, "ALREADY_RESOLVED", "Penalty is already resolved", nil)
	}

	penalty, err = s.store.GetPenalty(ctx, penaltyID)
	if err != nil {
		return PenaltyPayload{}, fmt.Errorf("reload penalty %s: %w", penaltyID, err)
	}
	return penaltyPayload(penalty), nil
}

type RulePayload struct {
	ID            string         `json:"id"`
	ConditionType string         `json:"conditionType"`
	Params        map[string]any `json:"params"`
	PenaltyScore  int            `json:"penaltyScore"`
	Priority      int            `json:"priority"`
	IsActive      bool           `json:"isActive"`
	CreatedAt     time.Time      `json:"createdAt"`
}

type CreateRuleInput struct {
	ConditionType string         `json:"conditionType"`
	Params        map[string]any `json:"params"`
	PenaltyScore  int            `json:"penaltyScore"`
	Priority      int            `json:"priority"`
}

func (s *Service) ListRules(ctx context.Context, activeOnly bool) ([]RulePayload, error) {
	rules, err := s.store.ListRules(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	payloads := make([]RulePayload, 0, len(rules))
	for _, row := range rules {
		parsed, err := staleness.ParseRule(row)
		if err != nil {
			// A malformed row is the evaluator's problem to skip; list it raw.
			log.Printf("app: rule %s does not parse: %v", row.ID, err)
		}
		payloads = append(payloads, rulePayload(row, parsed))
	}
	return payloads, nil
}

func rulePayload(row store.OutdatedRule, parsed staleness.Rule) RulePayload {
	params := map[string]any{}
	switch condition := parsed.Condition.(type) {
	case staleness.DaysInactive:
		params["days"] = condition.Days
	case staleness.TrackerClosed:
		params["graceDays"] = condition.GraceDays
	case staleness.BranchMerged:
		params["graceDays"] = condition.GraceDays
	case staleness.LinkBroken:
	}
	return RulePayload{
		ID:            row.ID,
		ConditionType: row.ConditionType,
		Params:        params,
		PenaltyScore:  row.PenaltyScore,
		Priority:      row.Priority,
		IsActive:      row.IsActive,
		CreatedAt:     row.CreatedAt,
	}
}

// CreateRule validates the condition and its parameters by round-tripping
// through the rule parser before anything is stored.
func (s *Service) CreateRule(ctx context.Context, input CreateRuleInput) (RulePayload, error) {
	conditionType := strings.TrimSpace(input.ConditionType)
	if !staleness.ValidConditionType(conditionType) {
		return RulePayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("unknown condition type %q", input.ConditionType), nil)
	}
	if input.PenaltyScore <= 0 {
		return RulePayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"penaltyScore must be positive", nil)
	}

	condition, err := conditionFromParams(conditionType, input.Params)
	if err != nil {
		return RulePayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	params, err := staleness.EncodeParams(condition)
	if err != nil {
		return RulePayload{}, fmt.Errorf("encode rule params: %w", err)
	}

	row := store.OutdatedRule{
		ID:            util.NewID("rule"),
		ConditionType: conditionType,
		Params:        params,
		PenaltyScore:  input.PenaltyScore,
		Priority:      input.Priority,
		IsActive:      true,
		CreatedAt:     s.now().UTC(),
	}
	if _, err := staleness.ParseRule(row); err != nil {
		return RulePayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	if err := s.store.InsertRule(ctx, row); err != nil {
		return RulePayload{}, fmt.Errorf("insert rule: %w", err)
	}
	parsed, _ := staleness.ParseRule(row)
	return rulePayload(row, parsed), nil
}

func conditionFromParams(conditionType string, params map[string]any) (staleness.Condition, error) {
	intParam := func(key string) (int, error) {
		raw, ok := params[key]
		if !ok {
			return 0, fmt.Errorf("%s is required", key)
		}
		value, ok := raw.(float64) // JSON numbers decode as float64
		if !ok || value != float64(int(value)) {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return int(value), nil
	}

	switch staleness.ConditionType(conditionType) {
	case staleness.ConditionDaysInactive:
		days, err := intParam("days")
		if err != nil {
			return nil, err
		}
		if days <= 0 {
			return nil, fmt.Errorf("days must be positive")
		}
		return staleness.DaysInactive{Days: days}, nil
	case staleness.ConditionTrackerClosed:
		graceDays, err := intParam("graceDays")
		if err != nil {
			return nil, err
		}
		if graceDays < 0 {
			return nil, fmt.Errorf("graceDays must not be negative")
		}
		return staleness.TrackerClosed{GraceDays: graceDays}, nil
	case staleness.ConditionBranchMerged:
		graceDays, err := intParam("graceDays")
		if err != nil {
			return nil, err
		}
		if graceDays < 0 {
			return nil, fmt.Errorf("graceDays must not be negative")
		}
		return staleness.BranchMerged{GraceDays: graceDays}, nil
	case staleness.ConditionLinkBroken:
		return staleness.LinkBroken{}, nil
	default:
		return nil, fmt.Errorf("unknown condition type %q", conditionType)
	}
}

func (s *Service) DeactivateRule(ctx context.Context, ruleID string) error {
	deactivated, err := s.store.DeactivateRule(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("deactivate rule %s: %w", ruleID, err)
	}
	if !deactivated {
		return domainError(http.StatusNotFound, "RULE_NOT_FOUND", "Rule not found", nil)
	}
	return nil
}

type SummaryPayload struct {
	RankedUsers         int `json:"rankedUsers"`
	TotalEvents         int `json:"totalEvents"`
	UnresolvedPenalties int `json:"unresolvedPenalties"`
	OrphanEvents        int `json:"orphanEvents"`
}

func (s *Service) Summary(ctx context.Context) (SummaryPayload, error) {
	rankedUsers, totalEvents, unresolvedPenalties, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return SummaryPayload{}, fmt.Errorf("summary counts: %w", err)
	}
	orphans, err := s.store.CountOrphanEvents(ctx)
	if err != nil {
		return SummaryPayload{}, fmt.Errorf("count orphan events: %w", err)
	}
	return SummaryPayload{
		RankedUsers:         rankedUsers,
		TotalEvents:         totalEvents,
		UnresolvedPenalties: unresolvedPenalties,
		OrphanEvents:        orphans,
	}, nil
}

// Recompute is the batch the scheduler drives: fold every user's events into
// a fresh snapshot, build the diffed board against the previous published
// ranks, write it as a new version (pointer flip in the same transaction)
// and only then publish to the cache and archive. Any error before the
// version write leaves the old board authoritative.
func (s *Service) Recompute(ctx context.Context) error {
	builtAt := s.now().UTC()

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	previousRanks, err := s.store.PreviousRanks(ctx)
	if err != nil {
		return fmt.Errorf("previous ranks: %w", err)
	}

	members := make([]leaderboard.Member, 0, len(users))
	skippedTotal := 0
	for _, user := range users {
		rows, err := s.store.ListEventsForUser(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("list events for %s: %w", user.ID, err)
		}
		events := make([]scoring.Event, 0, len(rows))
		for _, row := range rows {
			events = append(events, scoring.Event{
				ID:         row.ID,
				UserID:     row.UserID,
				DocumentID: row.DocumentID,
				Type:       scoring.EventType(row.EventType),
				Delta:      row.Delta,
				Reason:     row.Reason,
				CreatedAt:  row.CreatedAt,
			})
		}
		aggregation := scoring.Aggregate(user.ID, events, builtAt)
		skippedTotal += aggregation.Skipped

		snapshot := aggregation.Snapshot
		if err := s.store.UpsertSnapshot(ctx, store.UserScoreSnapshot{
			UserID:     snapshot.UserID,
			Written:    snapshot.Written,
			Reviews:    snapshot.Reviews,
			Engagement: snapshot.Engagement,
			Penalty:    snapshot.Penalty,
			Total:      snapshot.Total,
			Grade:      string(snapshot.Grade),
			ComputedAt: snapshot.ComputedAt,
		}); err != nil {
			return fmt.Errorf("upsert snapshot for %s: %w", user.ID, err)
		}
		members = append(members, leaderboard.Member{Snapshot: snapshot, DisplayName: user.DisplayName})
	}
	if skippedTotal > 0 {
		log.Printf("app: recompute skipped %d unattributable events", skippedTotal)
	}

	entries := leaderboard.Build(members, previousRanks, builtAt)

	rows := make([]store.LeaderboardRow, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, store.LeaderboardRow{
			Rank:         entry.Rank,
			UserID:       entry.UserID,
			DisplayName:  entry.DisplayName,
			TotalScore:   entry.TotalScore,
			Grade:        string(entry.Grade),
			Written:      entry.Written,
			Reviews:      entry.Reviews,
			Engagement:   entry.Engagement,
			Penalty:      entry.Penalty,
			PreviousRank: entry.PreviousRank,
			RankChange:   entry.RankChange,
			CalculatedAt: entry.CalculatedAt,
		})
	}
	version, err := s.store.ReplaceLeaderboard(ctx, rows, builtAt)
	if err != nil {
		return fmt.Errorf("replace leaderboard: %w", err)
	}

	board := leaderboard.Board{Version: version, BuiltAt: builtAt, Entries: entries}
	if s.cache != nil {
		if err := s.cache.Publish(ctx, board); err != nil {
			// Store already holds the truth; readers fall back to it.
			log.Printf("app: publish board v%d to cache: %v", version, err)
		}
	}
	if s.archive != nil {
		if err := s.archive.Put(ctx, board); err != nil {
			log.Printf("app: archive board v%d: %v", version, err)
		}
	}
	return nil
}

// EvaluateRules runs one staleness evaluation pass.
func (s *Service) EvaluateRules(ctx context.Context) error {
	report, err := s.evaluator.Run(ctx)
	if err != nil {
		return fmt.Errorf("rule evaluation: %w", err)
	}
	log.Printf("app: rule evaluation done: %d rules, %d documents, %d penalties, %d condition errors, %d skipped rules",
		report.RulesEvaluated, report.DocumentsScanned, report.PenaltiesCreated, report.ConditionErrors, report.SkippedRules)
	return nil
}
