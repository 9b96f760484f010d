package refine_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dverbeek/memwarden/internal/memory"
	"github.com/dverbeek/memwarden/internal/refine"
)

// newTestStore creates a memory store in a temp directory.
func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	s, err := memory.New(memory.Config{
		DataDir:          t.TempDir(),
		MaxSearchResults: 20,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedTokens inserts a live core memory sized to the given token count.
func seedTokens(t *testing.T, s *memory.Store, tokens int) *memory.Memory {
	t.Helper()
	m, err := s.CreateMemory(memory.CreateMemoryParams{
		Content: strings.Repeat("m", tokens*4),
	})
	if err != nil {
		t.Fatalf("seed memory: %v", err)
	}
	return m
}

// begin opens a session through a fresh manager and fails the test on error.
func begin(t *testing.T, s *memory.Store, opts refine.Options) *refine.Session {
	t.Helper()
	session, err := refine.NewManager(s, opts).Begin()
	if err != nil {
		t.Fatalf("begin session: %v", err)
	}
	return session
}

// mustExecute runs a command and fails the test on any error.
func mustExecute(t *testing.T, session *refine.Session, cmd refine.Command) refine.Outcome {
	t.Helper()
	outcome, err := session.Execute(cmd)
	if err != nil {
		t.Fatalf("execute %T: %v", cmd, err)
	}
	return outcome
}

// ─── Dispatch and validation ────────────────────────────────────────────────

func TestExecute_Search(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateMemory(memory.CreateMemoryParams{
		Content: "Go compiler flags for static binaries",
	}); err != nil {
		t.Fatal(err)
	}
	session := begin(t, s, refine.Options{})

	outcome := mustExecute(t, session, refine.Search{Query: "compiler"})
	results, ok := outcome.(refine.SearchOutcome)
	if !ok {
		t.Fatalf("outcome is %T, want SearchOutcome", outcome)
	}
	if results.Type != refine.TypeSearchResults {
		t.Errorf("Type = %q, want %q", results.Type, refine.TypeSearchResults)
	}
	if len(results.Results) != 1 {
		t.Errorf("got %d results, want 1", len(results.Results))
	}
	if session.View().Stats.Searches != 1 {
		t.Error("search should be counted in stats")
	}
	if session.View().MutationCount != 0 {
		t.Error("search must not count as a mutation")
	}
}

func TestExecute_SearchDefaultsToCore(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateMemory(memory.CreateMemoryParams{
		Content: "Deployment checklist for the staging cluster",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateMemory(memory.CreateMemoryParams{
		Content: "Session notes: reviewed the deployment checklist today",
		Kind:    memory.KindJournal,
	}); err != nil {
		t.Fatal(err)
	}
	session := begin(t, s, refine.Options{})

	outcome := mustExecute(t, session, refine.Search{Query: "deployment checklist"})
	results := outcome.(refine.SearchOutcome).Results
	if len(results) != 1 {
		t.Fatalf("got %d results, want only the core memory", len(results))
	}
	if results[0].Kind != memory.KindCore {
		t.Errorf("result kind = %q, want core", results[0].Kind)
	}

	// Journal entries stay reachable when asked for explicitly.
	outcome = mustExecute(t, session, refine.Search{Query: "deployment checklist", Kind: memory.KindJournal})
	results = outcome.(refine.SearchOutcome).Results
	if len(results) != 1 || results[0].Kind != memory.KindJournal {
		t.Errorf("journal search results = %+v, want the journal entry", results)
	}
}

func TestExecute_SearchInvalidKind(t *testing.T) {
	s := newTestStore(t)
	session := begin(t, s, refine.Options{})

	_, err := session.Execute(refine.Search{Kind: "scratch"})
	if !refine.IsKind(err, refine.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestExecute_ConsolidateTooFewIDs(t *testing.T) {
	s := newTestStore(t)
	m := seedTokens(t, s, 100)
	session := begin(t, s, refine.Options{})

	// One id is not a consolidation.
	_, err := session.Execute(refine.Consolidate{IDs: []string{m.ID}, Content: "merged"})
	if !refine.IsKind(err, refine.ErrConstraint) {
		t.Errorf("single id: expected constraint error, got %v", err)
	}

	// Duplicates collapse before counting.
	_, err = session.Execute(refine.Consolidate{IDs: []string{m.ID, m.ID, ""}, Content: "merged"})
	if !refine.IsKind(err, refine.ErrConstraint) {
		t.Errorf("duplicate ids: expected constraint error, got %v", err)
	}

	if session.View().MutationCount != 0 {
		t.Error("a refused consolidate must not consume the mutation budget")
	}
}

func TestExecute_UpdateValidation(t *testing.T) {
	s := newTestStore(t)
	m := seedTokens(t, s, 100)
	session := begin(t, s, refine.Options{MaxContentLength: 50})

	_, err := session.Execute(refine.Update{ID: "", Content: "x"})
	if !refine.IsKind(err, refine.ErrValidation) {
		t.Errorf("empty id: expected validation error, got %v", err)
	}

	_, err = session.Execute(refine.Update{ID: m.ID, Content: "   "})
	if !refine.IsKind(err, refine.ErrValidation) {
		t.Errorf("blank content: expected validation error, got %v", err)
	}

	_, err = session.Execute(refine.Update{ID: m.ID, Content: strings.Repeat("x", 51)})
	if !refine.IsKind(err, refine.ErrValidation) {
		t.Errorf("oversized content: expected validation error, got %v", err)
	}
}

func TestExecute_UnknownTargetIsConstraint(t *testing.T) {
	s := newTestStore(t)
	seedTokens(t, s, 100)
	session := begin(t, s, refine.Options{})

	_, err := session.Execute(refine.Update{ID: "01UNKNOWN", Content: "x"})
	if !refine.IsKind(err, refine.ErrConstraint) {
		t.Errorf("update unknown id: expected constraint error, got %v", err)
	}

	_, err = session.Execute(refine.Delete{ID: "01UNKNOWN"})
	if !refine.IsKind(err, refine.ErrConstraint) {
		t.Errorf("delete unknown id: expected constraint error, got %v", err)
	}

	if session.View().MutationCount != 0 {
		t.Error("a refused call must not consume the mutation budget")
	}
}

func TestExecute_DiscardedTargetIsConstraint(t *testing.T) {
	s := newTestStore(t)
	seedTokens(t, s, 100)
	m := seedTokens(t, s, 10)
	if err := s.DiscardMemory(m.ID); err != nil {
		t.Fatal(err)
	}
	session := begin(t, s, refine.Options{})

	_, err := session.Execute(refine.Delete{ID: m.ID})
	if !refine.IsKind(err, refine.ErrConstraint) {
		t.Errorf("expected constraint error, got %v", err)
	}
}

// ─── Consolidate (Scenario C) ───────────────────────────────────────────────

func TestExecute_Consolidate(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateMemory(memory.CreateMemoryParams{
		Content:   strings.Repeat("a", 400),
		CreatedAt: "2024-01-01 10:00:00",
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.CreateMemory(memory.CreateMemoryParams{
		Content:   strings.Repeat("b", 400),
		CreatedAt: "2024-06-01 10:00:00",
	})
	if err != nil {
		t.Fatal(err)
	}
	session := begin(t, s, refine.Options{})

	outcome := mustExecute(t, session, refine.Consolidate{
		IDs:     []string{a.ID, b.ID},
		Content: strings.Repeat("merged ", 60),
	})
	merged, ok := outcome.(refine.ConsolidateOutcome)
	if !ok {
		t.Fatalf("outcome is %T, want ConsolidateOutcome", outcome)
	}
	if merged.Type != refine.TypeConsolidated {
		t.Errorf("Type = %q", merged.Type)
	}
	if merged.Memory.CreatedAt != "2024-01-01 10:00:00" {
		t.Errorf("merged CreatedAt = %q, want the earliest original", merged.Memory.CreatedAt)
	}
	if len(merged.Discarded) != 2 {
		t.Errorf("Discarded = %v, want both originals", merged.Discarded)
	}

	for _, id := range []string{a.ID, b.ID} {
		got, err := s.GetMemory(id)
		if err != nil {
			t.Fatal(err)
		}
		if got.DiscardedAt == nil {
			t.Errorf("original %s should be discarded", id)
		}
	}

	entries, err := s.LedgerEntries(session.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want exactly 1 for the whole merge", len(entries))
	}
	view := session.View()
	if view.MutationCount != 1 || view.Stats.Consolidations != 1 {
		t.Errorf("count = %d, consolidations = %d, want 1 and 1",
			view.MutationCount, view.Stats.Consolidations)
	}
}

// ─── Constitutional protection (Scenario D) ─────────────────────────────────

func TestExecute_DeleteConstitutionalRefused(t *testing.T) {
	s := newTestStore(t)
	c, err := s.CreateMemory(memory.CreateMemoryParams{
		Content:        strings.Repeat("rule ", 80),
		Constitutional: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	session := begin(t, s, refine.Options{})

	_, err = session.Execute(refine.Delete{ID: c.ID})
	if !refine.IsKind(err, refine.ErrConstraint) {
		t.Fatalf("expected constraint error, got %v", err)
	}

	got, err := s.GetMemory(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DiscardedAt != nil {
		t.Error("constitutional memory must stay live")
	}
	entries, err := s.LedgerEntries(session.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("ledger entries = %d, want 0 after a refused delete", len(entries))
	}
	if session.View().MutationCount != 0 {
		t.Error("refused delete must not consume the mutation budget")
	}
	if session.State() != refine.StateActive {
		t.Error("constraint errors leave the session active")
	}
}

func TestExecute_ConsolidateConstitutionalRefused(t *testing.T) {
	s := newTestStore(t)
	plain := seedTokens(t, s, 100)
	c, err := s.CreateMemory(memory.CreateMemoryParams{
		Content:        strings.Repeat("rule ", 80),
		Constitutional: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	session := begin(t, s, refine.Options{})

	_, err = session.Execute(refine.Consolidate{
		IDs:     []string{plain.ID, c.ID},
		Content: "merged",
	})
	if !refine.IsKind(err, refine.ErrConstraint) {
		t.Errorf("expected constraint error, got %v", err)
	}
}

// ─── Protect (Scenario E) ───────────────────────────────────────────────────

func TestExecute_ProtectNeverCounts(t *testing.T) {
	s := newTestStore(t)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, seedTokens(t, s, 50).ID)
	}
	session := begin(t, s, refine.Options{})

	for _, id := range ids {
		outcome := mustExecute(t, session, refine.Protect{ID: id})
		if p, ok := outcome.(refine.ProtectOutcome); !ok || p.Type != refine.TypeProtected {
			t.Fatalf("outcome = %#v, want protected envelope", outcome)
		}
	}

	// Protecting twice is allowed and still free.
	mustExecute(t, session, refine.Protect{ID: ids[0]})

	view := session.View()
	if view.MutationCount != 0 {
		t.Errorf("MutationCount = %d, want 0 after protects only", view.MutationCount)
	}
	if view.Stats.Protections != 6 {
		t.Errorf("Protections = %d, want 6", view.Stats.Protections)
	}

	if _, err := session.Execute(refine.Search{}); err != nil {
		t.Errorf("search after protects should succeed: %v", err)
	}
}

// ─── Mutation cap (Scenario B) ──────────────────────────────────────────────

func TestExecute_MutationCap(t *testing.T) {
	s := newTestStore(t)
	m := seedTokens(t, s, 100)
	session := begin(t, s, refine.Options{})

	var last string
	for i := 1; i <= 10; i++ {
		last = strings.Repeat(fmt.Sprintf("rev%02d ", i), 60)
		mustExecute(t, session, refine.Update{ID: m.ID, Content: last})
	}
	if session.View().MutationCount != 10 {
		t.Fatalf("MutationCount = %d, want 10", session.View().MutationCount)
	}

	_, err := session.Execute(refine.Update{ID: m.ID, Content: "one too many"})
	if !refine.IsKind(err, refine.ErrCapExceeded) {
		t.Fatalf("expected cap error, got %v", err)
	}

	// The refused call changed nothing.
	got, err := s.GetMemory(m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != last {
		t.Errorf("content changed by a capped call")
	}
	if session.View().MutationCount != 10 {
		t.Errorf("MutationCount = %d, want still 10", session.View().MutationCount)
	}

	// Non-mutating operations survive the cap.
	if _, err := session.Execute(refine.Search{}); err != nil {
		t.Errorf("search after cap: %v", err)
	}
	if _, err := session.Execute(refine.Protect{ID: m.ID}); err != nil {
		t.Errorf("protect after cap: %v", err)
	}
	if _, err := session.Execute(refine.Complete{Summary: "capped out"}); err != nil {
		t.Errorf("complete after cap: %v", err)
	}
}

// ─── Circuit breaker and rollback (Scenario A) ──────────────────────────────

func TestExecute_BreakerTripRollsBack(t *testing.T) {
	s := newTestStore(t)
	m1 := seedTokens(t, s, 250)
	m2 := seedTokens(t, s, 250)
	seedTokens(t, s, 250)
	seedTokens(t, s, 250)
	session := begin(t, s, refine.Options{Threshold: 0.6})

	if session.View().PreSessionMass != 1000 {
		t.Fatalf("PreSessionMass = %d, want 1000", session.View().PreSessionMass)
	}

	// First delete: mass 750, ratio 0.75, holds.
	outcome := mustExecute(t, session, refine.Delete{ID: m1.ID})
	if _, ok := outcome.(refine.DeleteOutcome); !ok {
		t.Fatalf("first delete outcome is %T, want DeleteOutcome", outcome)
	}

	// Second delete: mass 500, ratio 0.5, trips. The call itself returns
	// the rollback result.
	outcome = mustExecute(t, session, refine.Delete{ID: m2.ID})
	rb, ok := outcome.(refine.RollbackOutcome)
	if !ok {
		t.Fatalf("second delete outcome is %T, want RollbackOutcome", outcome)
	}
	if rb.Type != refine.TypeRolledBack {
		t.Errorf("Type = %q", rb.Type)
	}
	if !strings.Contains(rb.Reason, "retention threshold") {
		t.Errorf("Reason = %q, should name the threshold", rb.Reason)
	}
	if rb.Stats.Deletions != 2 {
		t.Errorf("Stats.Deletions = %d, want 2", rb.Stats.Deletions)
	}

	// Both deletions were reversed.
	for _, id := range []string{m1.ID, m2.ID} {
		got, err := s.GetMemory(id)
		if err != nil {
			t.Fatal(err)
		}
		if got.DiscardedAt != nil {
			t.Errorf("memory %s should be restored", id)
		}
	}
	mass, err := s.CoreMass()
	if err != nil {
		t.Fatal(err)
	}
	if mass != 1000 {
		t.Errorf("post-rollback mass = %d, want 1000", mass)
	}

	// Ledger entries are stamped reversed, never deleted.
	entries, err := s.LedgerEntries(session.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.ReversedAt == nil {
			t.Errorf("entry %d should be stamped reversed", e.ID)
		}
	}

	// Terminal state, durably and in process.
	if session.State() != refine.StateRolledBack {
		t.Errorf("State = %q, want rolled_back", session.State())
	}
	rec, err := s.SessionByID(session.ID())
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != memory.SessionRolledBack {
		t.Errorf("stored state = %q, want rolled_back", rec.State)
	}

	// Every further call fails, search included.
	for _, cmd := range []refine.Command{
		refine.Search{},
		refine.Delete{ID: m1.ID},
		refine.Protect{ID: m1.ID},
		refine.Complete{Summary: "too late"},
	} {
		if _, err := session.Execute(cmd); !refine.IsKind(err, refine.ErrTerminated) {
			t.Errorf("%T after rollback: expected terminated error, got %v", cmd, err)
		}
	}
}

// Chained consolidations unwind newest-first: the second merge is reversed
// before the first, so intermediate products resolve when their turn comes.
func TestExecute_ChainedConsolidateRollback(t *testing.T) {
	s := newTestStore(t)
	a := seedTokens(t, s, 100)
	b := seedTokens(t, s, 100)
	c := seedTokens(t, s, 100)
	session := begin(t, s, refine.Options{Threshold: 0.6})

	outcome := mustExecute(t, session, refine.Consolidate{
		IDs:     []string{a.ID, b.ID},
		Content: strings.Repeat("ab", 200), // mass 300 → 200, ratio 0.67, holds
	})
	m1 := outcome.(refine.ConsolidateOutcome).Memory

	// Merging m1 with c into a tiny memory drops mass to ~110/300.
	outcome = mustExecute(t, session, refine.Consolidate{
		IDs:     []string{m1.ID, c.ID},
		Content: strings.Repeat("x", 40),
	})
	if _, ok := outcome.(refine.RollbackOutcome); !ok {
		t.Fatalf("outcome is %T, want RollbackOutcome", outcome)
	}

	// Originals live again; both merge products discarded.
	for _, id := range []string{a.ID, b.ID, c.ID} {
		got, err := s.GetMemory(id)
		if err != nil {
			t.Fatal(err)
		}
		if got.DiscardedAt != nil {
			t.Errorf("original %s should be restored", id)
		}
	}
	entries, err := s.LedgerEntries(session.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Result == nil {
			t.Fatal("consolidate entries should carry a result snapshot")
		}
		got, err := s.GetMemory(e.Result.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.DiscardedAt == nil {
			t.Errorf("merge product %s should be discarded after rollback", e.Result.ID)
		}
	}

	mass, err := s.CoreMass()
	if err != nil {
		t.Fatal(err)
	}
	if mass != 300 {
		t.Errorf("post-rollback mass = %d, want 300", mass)
	}
}

// A vanished target skips its reversal but never aborts the rollback.
func TestExecute_RollbackSkipsVanishedTarget(t *testing.T) {
	s := newTestStore(t)
	m1 := seedTokens(t, s, 100)
	m2 := seedTokens(t, s, 300)
	m3 := seedTokens(t, s, 300)
	seedTokens(t, s, 300)
	session := begin(t, s, refine.Options{Threshold: 0.6})

	mustExecute(t, session, refine.Delete{ID: m1.ID}) // mass 900
	// An admin purge removes the discarded row entirely.
	if err := s.PurgeMemory(m1.ID); err != nil {
		t.Fatal(err)
	}

	mustExecute(t, session, refine.Delete{ID: m2.ID}) // mass 600, exactly at threshold
	outcome := mustExecute(t, session, refine.Delete{ID: m3.ID})
	if _, ok := outcome.(refine.RollbackOutcome); !ok {
		t.Fatalf("outcome is %T, want RollbackOutcome", outcome)
	}

	if session.State() != refine.StateRolledBack {
		t.Fatalf("State = %q, partial rollback must still terminate", session.State())
	}
	for _, id := range []string{m2.ID, m3.ID} {
		got, err := s.GetMemory(id)
		if err != nil {
			t.Fatal(err)
		}
		if got.DiscardedAt != nil {
			t.Errorf("memory %s should be restored", id)
		}
	}
	if _, err := s.GetMemory(m1.ID); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("purged memory should stay gone, got %v", err)
	}

	// The skipped entry keeps its unreversed ledger row for audit.
	entries, err := s.LedgerEntries(session.ID())
	if err != nil {
		t.Fatal(err)
	}
	var unreversed int
	for _, e := range entries {
		if e.ReversedAt == nil {
			unreversed++
		}
	}
	if unreversed != 1 {
		t.Errorf("unreversed entries = %d, want exactly the skipped one", unreversed)
	}
}

// ─── Complete ───────────────────────────────────────────────────────────────

func TestExecute_Complete(t *testing.T) {
	s := newTestStore(t)
	m := seedTokens(t, s, 100)
	session := begin(t, s, refine.Options{})

	mustExecute(t, session, refine.Update{ID: m.ID, Content: strings.Repeat("fresh ", 60)})

	outcome := mustExecute(t, session, refine.Complete{Summary: "tightened the build notes"})
	done, ok := outcome.(refine.CompleteOutcome)
	if !ok {
		t.Fatalf("outcome is %T, want CompleteOutcome", outcome)
	}
	if done.Type != refine.TypeComplete {
		t.Errorf("Type = %q", done.Type)
	}
	if done.Stats.Updates != 1 {
		t.Errorf("Stats.Updates = %d, want 1", done.Stats.Updates)
	}

	rec, err := s.SessionByID(session.ID())
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != memory.SessionCompleted {
		t.Errorf("stored state = %q, want completed", rec.State)
	}
	if rec.Summary == nil || *rec.Summary != "tightened the build notes" {
		t.Errorf("Summary = %v", rec.Summary)
	}

	// The session authored a journal memory about itself.
	stats, err := s.StoreStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.JournalEntries != 1 {
		t.Errorf("JournalEntries = %d, want 1", stats.JournalEntries)
	}

	if _, err := session.Execute(refine.Search{}); !refine.IsKind(err, refine.ErrTerminated) {
		t.Errorf("search after complete: expected terminated error, got %v", err)
	}
}

func TestExecute_CompleteEmptySummary(t *testing.T) {
	s := newTestStore(t)
	session := begin(t, s, refine.Options{})

	_, err := session.Execute(refine.Complete{Summary: "  "})
	if !refine.IsKind(err, refine.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if session.State() != refine.StateActive {
		t.Error("failed complete leaves the session active")
	}
}

// A breaker already tripped at completion time rolls back instead of
// completing, even though no single mutation tripped it.
func TestExecute_CompleteWithTrippedBreaker(t *testing.T) {
	s := newTestStore(t)
	keep := seedTokens(t, s, 100)
	outside := seedTokens(t, s, 100)
	session := begin(t, s, refine.Options{Threshold: 0.6})

	// Mass drops behind the session's back.
	if err := s.DiscardMemory(outside.ID); err != nil {
		t.Fatal(err)
	}

	outcome := mustExecute(t, session, refine.Complete{Summary: "all good, surely"})
	if _, ok := outcome.(refine.RollbackOutcome); !ok {
		t.Fatalf("outcome is %T, want RollbackOutcome", outcome)
	}
	if session.State() != refine.StateRolledBack {
		t.Errorf("State = %q, want rolled_back", session.State())
	}
	if got, err := s.GetMemory(keep.ID); err != nil || got.DiscardedAt != nil {
		t.Errorf("untouched memory should stay live: %v", err)
	}
}

// ─── Manager ────────────────────────────────────────────────────────────────

func TestManager_ConsentDenied(t *testing.T) {
	s := newTestStore(t)
	manager := refine.NewManager(s, refine.Options{
		Consent: func() error { return errors.New("not during work hours") },
	})

	_, err := manager.Begin()
	if !refine.IsKind(err, refine.ErrConstraint) {
		t.Errorf("expected constraint error, got %v", err)
	}
	if manager.Current() != nil {
		t.Error("denied session must not become current")
	}
}

func TestManager_SingleActiveSession(t *testing.T) {
	s := newTestStore(t)
	seedTokens(t, s, 100)
	manager := refine.NewManager(s, refine.Options{})

	first, err := manager.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := manager.Begin(); !refine.IsKind(err, refine.ErrConstraint) {
		t.Errorf("second Begin: expected constraint error, got %v", err)
	}

	mustExecute(t, first, refine.Complete{Summary: "short session"})
	second, err := manager.Begin()
	if err != nil {
		t.Fatalf("Begin after complete: %v", err)
	}
	if second.ID() == first.ID() {
		t.Error("sessions should have distinct ids")
	}
	if manager.Current().ID() != second.ID() {
		t.Error("Current should track the newest session")
	}
}

func TestManager_RefusesStaleStoreSession(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateSession(memory.CreateSessionParams{
		PreSessionMass: 100, Threshold: 0.6, MaxMutations: 10,
	}); err != nil {
		t.Fatal(err)
	}

	manager := refine.NewManager(s, refine.Options{})
	if _, err := manager.Begin(); !refine.IsKind(err, refine.ErrConstraint) {
		t.Errorf("expected constraint error for stale active row, got %v", err)
	}
}

// Crash recovery: a session left active on disk is rolled back at startup.
func TestManager_RecoverStale(t *testing.T) {
	s := newTestStore(t)
	m := seedTokens(t, s, 100)
	seedTokens(t, s, 100)

	crashed := refine.NewManager(s, refine.Options{Threshold: 0.1})
	session, err := crashed.Begin()
	if err != nil {
		t.Fatal(err)
	}
	mustExecute(t, session, refine.Delete{ID: m.ID})
	// The process "crashes" here: the session row stays active on disk.

	restarted := refine.NewManager(s, refine.Options{})
	recovered, err := restarted.RecoverStale()
	if err != nil {
		t.Fatalf("RecoverStale: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("recovered = %d, want 1", recovered)
	}

	got, err := s.GetMemory(m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DiscardedAt != nil {
		t.Error("deleted memory should be restored by recovery")
	}
	rec, err := s.SessionByID(session.ID())
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != memory.SessionRolledBack {
		t.Errorf("stored state = %q, want rolled_back", rec.State)
	}

	// A clean store recovers nothing.
	recovered, err = restarted.RecoverStale()
	if err != nil {
		t.Fatal(err)
	}
	if recovered != 0 {
		t.Errorf("second sweep recovered = %d, want 0", recovered)
	}

	if _, err := restarted.Begin(); err != nil {
		t.Errorf("Begin after recovery should succeed: %v", err)
	}
}

// An empty store has no mass to protect; the breaker never trips.
func TestExecute_EmptyBaselineNeverTrips(t *testing.T) {
	s := newTestStore(t)
	session := begin(t, s, refine.Options{Threshold: 0.6})

	m := seedTokens(t, s, 100)
	outcome := mustExecute(t, session, refine.Delete{ID: m.ID})
	if _, ok := outcome.(refine.DeleteOutcome); !ok {
		t.Fatalf("outcome is %T, want DeleteOutcome (breaker disabled)", outcome)
	}
	if session.State() != refine.StateActive {
		t.Errorf("State = %q, want active", session.State())
	}
}
