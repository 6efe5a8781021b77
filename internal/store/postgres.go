package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, email, created_at FROM users WHERE id=$1`,
		userID,
	).Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, email, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// ---- score events ----

func (s *PostgresStore) InsertScoreEvent(ctx context.Context, event ScoreEvent) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO score_events (user_id, document_id, event_type, delta, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
		RETURNING id
	`, event.UserID, event.DocumentID, event.EventType, event.Delta, event.Reason, nullTime(event.CreatedAt)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert score event: %w", err)
	}
	return id, nil
}

// ListEventsForUser fetches the full log for one user in one batch query.
// Aggregation never walks per-event relations.
func (s *PostgresStore) ListEventsForUser(ctx context.Context, userID string) ([]ScoreEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, document_id, event_type, delta, reason, created_at
		FROM score_events
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list events for user: %w", err)
	}
	defer rows.Close()
	return scanScoreEvents(rows)
}

func scanScoreEvents(rows *sql.Rows) ([]ScoreEvent, error) {
	var events []ScoreEvent
	for rows.Next() {
		var event ScoreEvent
		if err := rows.Scan(&event.ID, &event.UserID, &event.DocumentID,
			&event.EventType, &event.Delta, &event.Reason, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan score event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountOrphanEvents counts log rows whose user no longer exists. The batch
// reports them and moves on.
func (s *PostgresStore) CountOrphanEvents(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM score_events e
		LEFT JOIN users u ON u.id = e.user_id
		WHERE u.id IS NULL
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count orphan events: %w", err)
	}
	return count, nil
}

// ---- snapshots ----

func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snapshot UserScoreSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_score_snapshots
			(user_id, written_score, reviews_score, engagement_score, penalty_score, total_score, grade, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			written_score=EXCLUDED.written_score,
			reviews_score=EXCLUDED.reviews_score,
			engagement_score=EXCLUDED.engagement_score,
			penalty_score=EXCLUDED.penalty_score,
			total_score=EXCLUDED.total_score,
			grade=EXCLUDED.grade,
			computed_at=EXCLUDED.computed_at
	`, snapshot.UserID, snapshot.Written, snapshot.Reviews, snapshot.Engagement,
		snapshot.Penalty, snapshot.Total, snapshot.Grade, snapshot.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, userID string) (UserScoreSnapshot, error) {
	var snapshot UserScoreSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, written_score, reviews_score, engagement_score, penalty_score, total_score, grade, computed_at
		FROM user_score_snapshots WHERE user_id=$1
	`, userID).Scan(&snapshot.UserID, &snapshot.Written, &snapshot.Reviews, &snapshot.Engagement,
		&snapshot.Penalty, &snapshot.Total, &snapshot.Grade, &snapshot.ComputedAt)
	if err != nil {
		return UserScoreSnapshot{}, err
	}
	return snapshot, nil
}

// ---- leaderboard versions ----

// CurrentLeaderboardVersion reads the published version pointer. Returns
// sql.ErrNoRows before the first successful build.
func (s *PostgresStore) CurrentLeaderboardVersion(ctx context.Context) (LeaderboardVersion, error) {
	var version LeaderboardVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT v.version, v.built_at, v.entry_count
		FROM leaderboard_current c
		JOIN leaderboard_versions v ON v.version = c.version
	`).Scan(&version.Version, &version.BuiltAt, &version.EntryCount)
	if err != nil {
		return LeaderboardVersion{}, err
	}
	return version, nil
}

// PreviousRanks returns user -> rank of the currently published board, used
// to diff the next build. Empty map before the first build.
func (s *PostgresStore) PreviousRanks(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.user_id, e.rank
		FROM leaderboard_current c
		JOIN leaderboard_entries e ON e.version = c.version
	`)
	if err != nil {
		return nil, fmt.Errorf("read previous ranks: %w", err)
	}
	defer rows.Close()

	ranks := make(map[string]int)
	for rows.Next() {
		var userID string
		var rank int
		if err := rows.Scan(&userID, &rank); err != nil {
			return nil, fmt.Errorf("scan previous rank: %w", err)
		}
		ranks[userID] = rank
	}
	return ranks, rows.Err()
}

// ReplaceLeaderboard writes a fresh board version and flips the current
// pointer in the same transaction. Readers either see the old version or the
// new one, never a half-written board. Returns the new version number.
func (s *PostgresStore) ReplaceLeaderboard(ctx context.Context, entries []LeaderboardRow, builtAt time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin leaderboard tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO leaderboard_versions (built_at, entry_count)
		VALUES ($1, $2)
		RETURNING version
	`, builtAt, len(entries)).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("insert leaderboard version: %w", err)
	}

	insertEntry, err := tx.PrepareContext(ctx, `
		INSERT INTO leaderboard_entries
			(version, rank, user_id, display_name, total_score, grade,
			 written_score, reviews_score, engagement_score, penalty_score,
			 previous_rank, rank_change, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare entry insert: %w", err)
	}
	defer insertEntry.Close()

	for _, entry := range entries {
		if _, err := insertEntry.ExecContext(ctx, version, entry.Rank, entry.UserID,
			entry.DisplayName, entry.TotalScore, entry.Grade,
			entry.Written, entry.Reviews, entry.Engagement, entry.Penalty,
			entry.PreviousRank, entry.RankChange, entry.CalculatedAt); err != nil {
			return 0, fmt.Errorf("insert leaderboard entry rank %d: %w", entry.Rank, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO leaderboard_current (singleton, version)
		VALUES (TRUE, $1)
		ON CONFLICT (singleton) DO UPDATE SET version=EXCLUDED.version
	`, version); err != nil {
		return 0, fmt.Errorf("flip current version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit leaderboard tx: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) ListLeaderboardEntries(ctx context.Context, version int64, limit, offset int) ([]LeaderboardRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, rank, user_id, display_name, total_score, grade,
			written_score, reviews_score, engagement_score, penalty_score,
			previous_rank, rank_change, calculated_at
		FROM leaderboard_entries
		WHERE version = $1
		ORDER BY rank
		LIMIT $2 OFFSET $3
	`, version, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list leaderboard entries: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardRow
	for rows.Next() {
		var entry LeaderboardRow
		if err := rows.Scan(&entry.Version, &entry.Rank, &entry.UserID, &entry.DisplayName,
			&entry.TotalScore, &entry.Grade, &entry.Written, &entry.Reviews,
			&entry.Engagement, &entry.Penalty, &entry.PreviousRank,
			&entry.RankChange, &entry.CalculatedAt); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// WindowedLeaderboard ranks users over the log rows inside a time window in
// one query. Windowed views serve reads directly and are never diffed.
func (s *PostgresStore) WindowedLeaderboard(ctx context.Context, since time.Time, limit, offset int) ([]WindowedRank, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH windowed AS (
			SELECT e.user_id, SUM(e.delta) AS total
			FROM score_events e
			JOIN users u ON u.id = e.user_id
			WHERE e.created_at >= $1
			GROUP BY e.user_id
		),
		ranked AS (
			SELECT w.user_id, w.total,
				ROW_NUMBER() OVER (ORDER BY w.total DESC, w.user_id ASC) AS rank
			FROM windowed w
		)
		SELECT r.rank, r.user_id, u.display_name, r.total
		FROM ranked r
		JOIN users u ON u.id = r.user_id
		ORDER BY r.rank
		LIMIT $2 OFFSET $3
	`, since, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("windowed leaderboard: %w", err)
	}
	defer rows.Close()

	var result []WindowedRank
	for rows.Next() {
		var row WindowedRank
		if err := rows.Scan(&row.Rank, &row.UserID, &row.DisplayName, &row.TotalScore); err != nil {
			return nil, fmt.Errorf("scan windowed rank: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// ---- documents ----

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, owner_id, status, branch_name, tracker_key, last_activity_at, updated_at
		FROM documents WHERE id=$1
	`, documentID).Scan(&doc.ID, &doc.Title, &doc.OwnerID, &doc.Status,
		&doc.BranchName, &doc.TrackerKey, &doc.LastActivityAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, owner_id, status, branch_name, tracker_key, last_activity_at, updated_at
		FROM documents
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.OwnerID, &doc.Status,
			&doc.BranchName, &doc.TrackerKey, &doc.LastActivityAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) ListDocumentLinks(ctx context.Context, documentID string) ([]DocumentLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, url, is_valid, last_checked_at
		FROM document_links
		WHERE document_id = $1
		ORDER BY id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document links: %w", err)
	}
	defer rows.Close()

	var links []DocumentLink
	for rows.Next() {
		var link DocumentLink
		if err := rows.Scan(&link.ID, &link.DocumentID, &link.URL, &link.IsValid, &link.LastCheckedAt); err != nil {
			return nil, fmt.Errorf("scan document link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// ---- staleness rules ----

func (s *PostgresStore) ListRules(ctx context.Context, activeOnly bool) ([]OutdatedRule, error) {
	query := `
		SELECT id, condition_type, params, penalty_score, priority, is_active, created_at
		FROM outdated_rules
	`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY priority DESC, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []OutdatedRule
	for rows.Next() {
		var rule OutdatedRule
		if err := rows.Scan(&rule.ID, &rule.ConditionType, &rule.Params,
			&rule.PenaltyScore, &rule.Priority, &rule.IsActive, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *PostgresStore) InsertRule(ctx context.Context, rule OutdatedRule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outdated_rules (id, condition_type, params, penalty_score, priority, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rule.ID, rule.ConditionType, rule.Params, rule.PenaltyScore, rule.Priority, rule.IsActive)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// DeactivateRule flips is_active off. Reports whether a row changed.
func (s *PostgresStore) DeactivateRule(ctx context.Context, ruleID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE outdated_rules SET is_active=FALSE WHERE id=$1 AND is_active`, ruleID)
	if err != nil {
		return false, fmt.Errorf("deactivate rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate rule rows: %w", err)
	}
	return affected > 0, nil
}

// ---- penalties ----

func (s *PostgresStore) HasUnresolvedPenalty(ctx context.Context, documentID, ruleID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM document_penalties
			WHERE document_id=$1 AND rule_id=$2 AND NOT is_resolved
		)
	`, documentID, ruleID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check unresolved penalty: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertPenalty(ctx context.Context, penalty DocumentPenalty) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_penalties (id, document_id, rule_id, penalty_score, is_resolved)
		VALUES ($1, $2, $3, $4, FALSE)
	`, penalty.ID, penalty.DocumentID, penalty.RuleID, penalty.PenaltyScore)
	if err != nil {
		return fmt.Errorf("insert penalty: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPenalty(ctx context.Context, penaltyID string) (DocumentPenalty, error) {
	var penalty DocumentPenalty
	var resolvedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, rule_id, penalty_score, is_resolved, resolved_by, resolved_at, created_at
		FROM document_penalties WHERE id=$1
	`, penaltyID).Scan(&penalty.ID, &penalty.DocumentID, &penalty.RuleID, &penalty.PenaltyScore,
		&penalty.IsResolved, &resolvedBy, &penalty.ResolvedAt, &penalty.CreatedAt)
	if err != nil {
		return DocumentPenalty{}, err
	}
	penalty.ResolvedBy = resolvedBy.String
	return penalty, nil
}

// ResolvePenalty marks a penalty resolved exactly once. Returns false when
// the penalty was already resolved (or does not exist); the score effect is
// never reversed.
func (s *PostgresStore) ResolvePenalty(ctx context.Context, penaltyID, resolvedBy string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE document_penalties
		SET is_resolved=TRUE, resolved_by=$2, resolved_at=NOW()
		WHERE id=$1 AND NOT is_resolved
	`, penaltyID, resolvedBy)
	if err != nil {
		return false, fmt.Errorf("resolve penalty: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve penalty rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListPenaltiesForDocument(ctx context.Context, documentID string, unresolvedOnly bool) ([]DocumentPenalty, error) {
	query := `
		SELECT id, document_id, rule_id, penalty_score, is_resolved, resolved_by, resolved_at, created_at
		FROM document_penalties
		WHERE document_id=$1
	`
	if unresolvedOnly {
		query += ` AND NOT is_resolved`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("list penalties: %w", err)
	}
	defer rows.Close()

	var penalties []DocumentPenalty
	for rows.Next() {
		var penalty DocumentPenalty
		var resolvedBy sql.NullString
		if err := rows.Scan(&penalty.ID, &penalty.DocumentID, &penalty.RuleID, &penalty.PenaltyScore,
			&penalty.IsResolved, &resolvedBy, &penalty.ResolvedAt, &penalty.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan penalty: %w", err)
		}
		penalty.ResolvedBy = resolvedBy.String
		penalties = append(penalties, penalty)
	}
	return penalties, rows.Err()
}

// ---- summary ----

func (s *PostgresStore) SummaryCounts(ctx context.Context) (rankedUsers int, totalEvents int, unresolvedPenalties int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM user_score_snapshots),
			(SELECT COUNT(*) FROM score_events),
			(SELECT COUNT(*) FROM document_penalties WHERE NOT is_resolved)
	`).Scan(&rankedUsers, &totalEvents, &unresolvedPenalties)
	if err != nil {
		err = fmt.Errorf("summary counts: %w", err)
	}
	return rankedUsers, totalEvents, unresolvedPenalties, err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
