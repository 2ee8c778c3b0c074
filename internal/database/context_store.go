package database

import (
	"context"
	"fmt"
	"time"
)

// ListActivities returns the activity catalog ordered by name.
func (s *sqlxStore) ListActivities(ctx context.Context, limit int) ([]*Activity, error) {
	limit = clampLimit(limit, 20, 200)

	activities := []*Activity{}
	query := `SELECT id, name, description, category, mood_tags FROM activities ORDER BY name LIMIT ?;`
	if err := s.db.SelectContext(ctx, &activities, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	return activities, nil
}

// SearchUserFacts returns the user's facts whose value or kind contains any of
// the terms, newest first. With no terms it returns the most recent facts.
func (s *sqlxStore) SearchUserFacts(ctx context.Context, userID string, terms []string, limit int) ([]*UserFact, error) {
	limit = clampLimit(limit, 10, 100)

	query := `SELECT id, user_id, kind, value, created_at FROM user_facts WHERE user_id = ?`
	params := []any{userID}
	if len(terms) > 0 {
		clause, args := likeClause(terms, "value", "kind")
		query += " AND " + clause
		params = append(params, args...)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?;`
	params = append(params, limit)

	facts := []*UserFact{}
	if err := s.db.SelectContext(ctx, &facts, query, params...); err != nil {
		s.logger.ErrorContext(ctx, "Error searching user facts", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to search facts for user %s: %w", userID, err)
	}
	return facts, nil
}

// SaveUserFacts inserts facts in one transaction, skipping duplicates, and
// returns how many rows were added.
func (s *sqlxStore) SaveUserFacts(ctx context.Context, facts []*UserFact) (int64, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	now := time.Now().UTC()
	var added int64
	for _, fact := range facts {
		if fact == nil || fact.UserID == "" || fact.Value == "" {
			continue
		}
		if fact.CreatedAt.IsZero() {
			fact.CreatedAt = now
		}
		result, err := tx.NamedExecContext(ctx, `
            INSERT OR IGNORE INTO user_facts (user_id, kind, value, created_at)
            VALUES (:user_id, :kind, :value, :created_at);
        `, fact)
		if err != nil {
			return 0, fmt.Errorf("failed to save fact for user %s: %w", fact.UserID, err)
		}
		n, _ := result.RowsAffected()
		added += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.DebugContext(ctx, "Saved user facts", "submitted", len(facts), "added", added)
	return added, nil
}
