package chat

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/mindjournal/internal/database"
	"github.com/edgard/mindjournal/internal/logger"
)

// Limits bounds how many rows each context fetch returns.
type Limits struct {
	Journal    int
	Activities int
	Facts      int
	History    int
}

// Context is the grounding material gathered for one reply.
type Context struct {
	Entries    []*database.JournalEntry
	Activities []*database.Activity
	Facts      []*database.UserFact
}

// Assembler gathers journal entries, activities and user facts concurrently.
type Assembler struct {
	store  database.Store
	limits Limits
	log    *slog.Logger
}

// NewAssembler creates a context assembler.
func NewAssembler(store database.Store, limits Limits, log *slog.Logger) *Assembler {
	if log == nil {
		log = logger.Discard()
	}
	return &Assembler{
		store:  store,
		limits: limits,
		log:    log.With("component", "context_assembler"),
	}
}

// Assemble runs the three fetches concurrently and waits for all of them.
// A failed fetch is logged and contributes an empty slice; Assemble itself
// never fails.
func (a *Assembler) Assemble(ctx context.Context, userID, query string) Context {
	terms := SearchTerms(query)
	out := Context{
		Entries:    []*database.JournalEntry{},
		Activities: []*database.Activity{},
		Facts:      []*database.UserFact{},
	}

	var g errgroup.Group

	g.Go(func() error {
		entries, err := a.store.SearchJournalEntries(ctx, userID, terms, a.limits.Journal)
		if err == nil && len(entries) == 0 && len(terms) > 0 {
			entries, err = a.store.ListJournalEntries(ctx, userID, a.limits.Journal)
		}
		if err != nil {
			a.log.WarnContext(ctx, "Journal context unavailable", "user_id", userID, "error", err)
			return nil
		}
		out.Entries = entries
		return nil
	})

	g.Go(func() error {
		activities, err := a.store.ListActivities(ctx, a.limits.Activities)
		if err != nil {
			a.log.WarnContext(ctx, "Activity catalog unavailable", "error", err)
			return nil
		}
		out.Activities = activities
		return nil
	})

	g.Go(func() error {
		facts, err := a.store.SearchUserFacts(ctx, userID, terms, a.limits.Facts)
		if err == nil && len(facts) == 0 && len(terms) > 0 {
			facts, err = a.store.SearchUserFacts(ctx, userID, nil, a.limits.Facts)
		}
		if err != nil {
			a.log.WarnContext(ctx, "User facts unavailable", "user_id", userID, "error", err)
			return nil
		}
		out.Facts = facts
		return nil
	})

	_ = g.Wait()

	a.log.DebugContext(ctx, "Context assembled",
		"user_id", userID,
		"terms", len(terms),
		"entries", len(out.Entries),
		"activities", len(out.Activities),
		"facts", len(out.Facts))
	return out
}
