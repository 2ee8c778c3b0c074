package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgard/mindjournal/internal/database"
)

const (
	factExtractionTimeout = 5 * time.Minute
	factMessageBatch      = 200
	knownFactLimit        = 100
)

// newFactExtractionTask creates the task that reads users' new chat messages
// and stores the personal facts the model finds in them.
func newFactExtractionTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", FactExtraction)

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting scheduled fact extraction task...")
		startTime := time.Now()

		timeoutCtx, cancel := context.WithTimeout(ctx, factExtractionTimeout)
		defer cancel()

		cursors, err := deps.Store.ListFactCursors(timeoutCtx)
		if err != nil {
			log.ErrorContext(ctx, "Failed to list users with new messages", "error", err)
			return fmt.Errorf("failed to list fact cursors: %w", err)
		}
		if len(cursors) == 0 {
			log.InfoContext(ctx, "Fact extraction completed - no new messages", "duration", time.Since(startTime))
			return nil
		}

		var added int64
		var failed int
		for _, cursor := range cursors {
			if err := timeoutCtx.Err(); err != nil {
				log.WarnContext(ctx, "Fact extraction timed out or was cancelled", "error", err)
				return fmt.Errorf("fact extraction interrupted: %w", err)
			}

			n, err := extractUserFacts(timeoutCtx, deps, cursor)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					return fmt.Errorf("fact extraction interrupted: %w", err)
				}
				log.ErrorContext(ctx, "Fact extraction failed for user", "user_id", cursor.UserID, "error", err)
				failed++
				continue
			}
			added += n
		}

		log.InfoContext(ctx, "Fact extraction completed",
			"users", len(cursors),
			"failed_users", failed,
			"facts_added", added,
			"duration", time.Since(startTime))
		if failed == len(cursors) {
			return fmt.Errorf("fact extraction failed for all %d users", failed)
		}
		return nil
	}
}

// extractUserFacts analyzes one user's messages after the cursor and moves the
// cursor forward only when the facts were stored.
func extractUserFacts(ctx context.Context, deps TaskDeps, cursor database.FactCursor) (int64, error) {
	messages, err := deps.Store.ListUserMessagesAfter(ctx, cursor.UserID, cursor.LastMessageID, factMessageBatch)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}
	lastID := messages[len(messages)-1].ID

	var texts []string
	for _, m := range messages {
		if m.Role == database.RoleUser {
			texts = append(texts, m.Content)
		}
	}

	var added int64
	if len(texts) > 0 {
		existing, err := deps.Store.SearchUserFacts(ctx, cursor.UserID, nil, knownFactLimit)
		if err != nil {
			return 0, fmt.Errorf("failed to load known facts: %w", err)
		}
		known := make([]string, 0, len(existing))
		for _, f := range existing {
			known = append(known, f.Kind+": "+f.Value)
		}

		facts, err := deps.GeminiClient.ExtractFacts(ctx, texts, known)
		if err != nil {
			return 0, fmt.Errorf("failed to extract facts: %w", err)
		}

		rows := make([]*database.UserFact, 0, len(facts))
		for _, f := range facts {
			rows = append(rows, &database.UserFact{UserID: cursor.UserID, Kind: f.Kind, Value: f.Value})
		}
		added, err = deps.Store.SaveUserFacts(ctx, rows)
		if err != nil {
			return 0, fmt.Errorf("failed to save facts: %w", err)
		}
	}

	if err := deps.Store.SaveFactCursor(ctx, database.FactCursor{UserID: cursor.UserID, LastMessageID: lastID}); err != nil {
		return added, err
	}
	return added, nil
}
